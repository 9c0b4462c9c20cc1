package types

import (
	"encoding/json"
	"time"
)

// SyncStatus tracks where a report sits in the reconciliation lifecycle.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// Valid reports whether s is one of the three known sync states.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// IncidentType classifies the kind of incident being reported.
type IncidentType string

const (
	IncidentFlood         IncidentType = "flood"
	IncidentLandslide     IncidentType = "landslide"
	IncidentFire          IncidentType = "fire"
	IncidentAccident      IncidentType = "accident"
	IncidentRoadBlock     IncidentType = "road_block"
	IncidentPowerLineDown IncidentType = "power_line_down"
)

// IncidentTypes lists all recognized incident types.
var IncidentTypes = []IncidentType{
	IncidentFlood,
	IncidentLandslide,
	IncidentFire,
	IncidentAccident,
	IncidentRoadBlock,
	IncidentPowerLineDown,
}

// Valid reports whether t is a recognized incident type.
func (t IncidentType) Valid() bool {
	for _, known := range IncidentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity grades the urgency of an incident.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a recognized severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// DefaultSeverity returns the severity assumed for an incident type when the
// reporter does not pick one explicitly.
func DefaultSeverity(t IncidentType) Severity {
	switch t {
	case IncidentLandslide, IncidentFire:
		return SeverityCritical
	case IncidentFlood, IncidentAccident:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// ReportStatus is the admin-facing triage state tracked by the remote
// service. It is independent of SyncStatus, which is purely local.
type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportResolved  ReportStatus = "resolved"
	ReportCancelled ReportStatus = "cancelled"
)

// Valid reports whether s is a recognized report status.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportPending, ReportResolved, ReportCancelled:
		return true
	}
	return false
}

// Location is a GPS fix with its accuracy radius.
type Location struct {
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracyMeters"`
}

// IncidentReport is the unit of work: one locally captured incident awaiting
// or having completed delivery to the remote service.
//
// The report store owns every IncidentReport exclusively; LocalID,
// CreatedAtLocal, the creation-time location, and the device provenance
// fields are immutable after creation. ServerID is set once by the first
// successful sync and never cleared.
type IncidentReport struct {
	LocalID  string  `json:"localId"`
	ServerID *string `json:"serverId"`

	SyncStatus SyncStatus `json:"syncStatus"`

	IncidentType  IncidentType `json:"incidentType"`
	Severity      Severity     `json:"severity"`
	Description   string       `json:"description,omitempty"`
	ManualAddress string       `json:"manualAddress,omitempty"`
	PhotoPath     string       `json:"photoPath,omitempty"`

	LocationCapturedAtCreation Location  `json:"locationCapturedAtCreation"`
	LocationCapturedAtSync     *Location `json:"locationCapturedAtSync"`

	CreatedAtLocal    time.Time  `json:"createdAtLocal"`
	LastEditedAtLocal time.Time  `json:"lastEditedAtLocal"`
	SyncedAt          *time.Time `json:"syncedAt"`

	SyncAttempts  int     `json:"syncAttempts"`
	LastSyncError *string `json:"lastSyncError"`

	// Device and responder provenance, captured at creation.
	DeviceTime            time.Time  `json:"deviceTime"`
	UserCorrectedTime     *time.Time `json:"userCorrectedTime,omitempty"`
	DeviceTimezone        string     `json:"deviceTimezone"`
	TimezoneOffsetMinutes int        `json:"timezoneOffsetMinutes"`
	ResponderID           string     `json:"responderId"`
	DeviceID              string     `json:"deviceId"`
	AppVersion            string     `json:"appVersion"`
}

// ReportDraft is the reporter-supplied portion of a new report. Everything
// else (ids, timestamps, provenance, sync bookkeeping) is filled in at
// creation time.
type ReportDraft struct {
	IncidentType  IncidentType `json:"incidentType"`
	Severity      Severity     `json:"severity"`
	Description   string       `json:"description,omitempty"`
	ManualAddress string       `json:"manualAddress,omitempty"`
	PhotoPath     string       `json:"photoPath,omitempty"`
	Location      Location     `json:"location"`
}

// QueuedRequest is a durable description of one outstanding HTTP call.
// The queue never owns report state; ReportLocalID is a back-reference only.
type QueuedRequest struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers"`
	Body          []byte            `json:"body"`
	Timestamp     time.Time         `json:"timestamp"`
	RetryCount    int               `json:"retryCount"`
	LastError     *string           `json:"lastError,omitempty"`
	ReportLocalID string            `json:"reportLocalId"`
}

// SyncPayload is the outbound wire shape for report reconciliation.
type SyncPayload struct {
	LocalID                    string       `json:"localId"`
	ServerID                   *string      `json:"serverId"`
	IncidentType               IncidentType `json:"incidentType"`
	Severity                   Severity     `json:"severity"`
	Description                string       `json:"description,omitempty"`
	ManualAddress              string       `json:"manualAddress,omitempty"`
	CreatedAtLocal             time.Time    `json:"createdAtLocal"`
	LocationCapturedAtCreation Location     `json:"locationCapturedAtCreation"`
	LocationCapturedAtSync     *Location    `json:"locationCapturedAtSync"`
	DeviceTime                 time.Time    `json:"deviceTime"`
	UserCorrectedTime          *time.Time   `json:"userCorrectedTime"`
	DeviceTimezone             string       `json:"deviceTimezone"`
	TimezoneOffsetMinutes      int          `json:"timezoneOffsetMinutes"`
	ResponderID                string       `json:"responderId"`
	DeviceID                   string       `json:"deviceId"`
	AppVersion                 string       `json:"appVersion"`
}

// NewSyncPayload builds the outbound payload for a report, attaching the
// best-effort sync-time location when one was captured.
func NewSyncPayload(r *IncidentReport, syncLocation *Location) SyncPayload {
	return SyncPayload{
		LocalID:                    r.LocalID,
		ServerID:                   r.ServerID,
		IncidentType:               r.IncidentType,
		Severity:                   r.Severity,
		Description:                r.Description,
		ManualAddress:              r.ManualAddress,
		CreatedAtLocal:             r.CreatedAtLocal,
		LocationCapturedAtCreation: r.LocationCapturedAtCreation,
		LocationCapturedAtSync:     syncLocation,
		DeviceTime:                 r.DeviceTime,
		UserCorrectedTime:          r.UserCorrectedTime,
		DeviceTimezone:             r.DeviceTimezone,
		TimezoneOffsetMinutes:      r.TimezoneOffsetMinutes,
		ResponderID:                r.ResponderID,
		DeviceID:                   r.DeviceID,
		AppVersion:                 r.AppVersion,
	}
}

// SyncResponse is the remote service's reply to a sync POST.
type SyncResponse struct {
	Success bool          `json:"success"`
	Data    *SyncReceived `json:"data,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// SyncReceived is the success body of a sync POST.
type SyncReceived struct {
	ServerID string    `json:"serverId"`
	LocalID  string    `json:"localId"`
	SyncedAt time.Time `json:"syncedAt"`
	Message  string    `json:"message,omitempty"`
}

// StatusCounts summarizes reports by sync state.
type StatusCounts struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

// Notification message types posted by the background replay agent.
const (
	MsgSyncSuccess  = "SYNC_SUCCESS"
	MsgSyncComplete = "SYNC_COMPLETE"
)

// SyncMessage is the advisory notification posted to connected clients.
// Receivers should treat it as a hint to re-read the report store, not as an
// authoritative delta.
type SyncMessage struct {
	Type         string `json:"type"`
	ReportID     string `json:"reportId,omitempty"`
	SuccessCount int    `json:"successCount,omitempty"`
	FailCount    int    `json:"failCount,omitempty"`
}

// QueueStats summarizes the request queue for status surfaces.
type QueueStats struct {
	Size  int             `json:"size"`
	Items []QueuedRequest `json:"items"`
}

// MarshalJSON ensures a nil Items slice marshals as [] not null.
func (q QueueStats) MarshalJSON() ([]byte, error) {
	if q.Items == nil {
		q.Items = []QueuedRequest{}
	}
	type Alias QueueStats
	return json.Marshal(Alias(q))
}
