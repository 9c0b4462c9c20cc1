// Package sync houses the delivery engine: the remote HTTP client and the
// orchestrator that moves reports through pending, synced, and failed.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aegisfield/aegis/internal/attach"
	"github.com/aegisfield/aegis/internal/config"
	"github.com/aegisfield/aegis/internal/queue"
	"github.com/aegisfield/aegis/internal/store"
	"github.com/aegisfield/aegis/internal/types"
	"github.com/aegisfield/aegis/internal/validation"
)

// InvalidDraftError carries the field-level failures of a rejected draft.
type InvalidDraftError struct {
	Violations []validation.ValidationError
}

func (e *InvalidDraftError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Field+": "+v.Message)
	}
	return "invalid report draft: " + strings.Join(msgs, "; ")
}

// ConnSource is the view of connectivity the orchestrator needs. Satisfied
// by *connectivity.Monitor.
type ConnSource interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// DrainResult summarizes one drain of the pending set.
type DrainResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Orchestrator coordinates report creation and delivery: it owns every
// sync-state transition and is the only writer of pending/synced/failed.
type Orchestrator struct {
	store    *store.ReportStore
	queue    *queue.RequestQueue
	client   *Client
	conn     ConnSource
	locator  Locator
	uploader attach.Uploader
	identity config.IdentityConfig

	settleDelay     time.Duration
	locationTimeout time.Duration

	inFlight atomic.Bool
	logger   *slog.Logger
}

// NewOrchestrator wires the sync engine together. locator and uploader may
// be nil; location capture and attachment upload then quietly do nothing.
func NewOrchestrator(
	st *store.ReportStore,
	q *queue.RequestQueue,
	client *Client,
	conn ConnSource,
	locator Locator,
	uploader attach.Uploader,
	identity config.IdentityConfig,
	syncCfg config.SyncConfig,
	logger *slog.Logger,
) *Orchestrator {
	if uploader == nil {
		uploader = &attach.NoopUploader{}
	}
	return &Orchestrator{
		store:           st,
		queue:           q,
		client:          client,
		conn:            conn,
		locator:         locator,
		uploader:        uploader,
		identity:        identity,
		settleDelay:     time.Duration(syncCfg.SettleDelay),
		locationTimeout: time.Duration(syncCfg.LocationTimeout),
		logger:          logger.With("component", "sync"),
	}
}

// CreateReport validates and persists a new report. Persistence always
// happens first; if the device is online a delivery attempt follows, but
// its outcome never affects the create itself.
func (o *Orchestrator) CreateReport(ctx context.Context, draft types.ReportDraft) (*types.IncidentReport, error) {
	if violations := validation.ValidateDraft(draft); len(violations) > 0 {
		return nil, &InvalidDraftError{Violations: violations}
	}

	severity := draft.Severity
	if severity == "" {
		severity = types.DefaultSeverity(draft.IncidentType)
	}

	now := time.Now().UTC()
	zone, offsetSeconds := time.Now().Zone()

	report := &types.IncidentReport{
		LocalID:                    uuid.NewString(),
		SyncStatus:                 types.StatusPending,
		IncidentType:               draft.IncidentType,
		Severity:                   severity,
		Description:                draft.Description,
		ManualAddress:              draft.ManualAddress,
		PhotoPath:                  draft.PhotoPath,
		LocationCapturedAtCreation: draft.Location,
		CreatedAtLocal:             now,
		LastEditedAtLocal:          now,
		DeviceTime:                 now,
		DeviceTimezone:             zone,
		TimezoneOffsetMinutes:      offsetSeconds / 60,
		ResponderID:                o.identity.ResponderID,
		DeviceID:                   o.identity.DeviceID,
		AppVersion:                 o.identity.AppVersion,
	}

	if err := o.store.Add(ctx, report); err != nil {
		return nil, fmt.Errorf("persisting report: %w", err)
	}
	o.logger.Info("report created",
		"local_id", report.LocalID,
		"incident_type", report.IncidentType,
		"severity", report.Severity)

	if o.conn.Online() {
		if synced, err := o.SyncReport(ctx, report.LocalID); err != nil {
			o.logger.Warn("initial sync attempt failed",
				"local_id", report.LocalID,
				"error", err)
		} else {
			return synced, nil
		}
	}

	return o.store.Get(ctx, report.LocalID)
}

// SyncReport runs one delivery attempt for a single report. Success marks
// it synced; any failure marks it failed with a cause, and a transport-level
// failure additionally lands the payload in the durable request queue.
func (o *Orchestrator) SyncReport(ctx context.Context, localID string) (*types.IncidentReport, error) {
	report, err := o.store.Get(ctx, localID)
	if err != nil {
		return nil, err
	}

	attempts, err := o.store.BeginAttempt(ctx, localID)
	if err != nil {
		return nil, err
	}

	syncLocation := captureSyncLocation(ctx, o.locator, o.locationTimeout)
	payload := types.NewSyncPayload(report, syncLocation)

	received, submitErr := o.client.Submit(ctx, payload)
	if submitErr != nil {
		cause := submitErr.Error()
		if err := o.store.ApplySyncFailure(ctx, localID, cause); err != nil {
			return nil, fmt.Errorf("recording sync failure: %w", err)
		}

		var remoteErr *RemoteError
		transport := !errors.As(submitErr, &remoteErr) && ctx.Err() == nil
		if transport {
			o.enqueueForReplay(ctx, payload, localID, cause)
		}

		o.logger.Warn("sync attempt failed",
			"local_id", localID,
			"attempt", attempts,
			"transport", transport,
			"error", submitErr)

		updated, err := o.store.Get(ctx, localID)
		if err != nil {
			return nil, err
		}
		return updated, submitErr
	}

	if err := o.store.ApplySyncSuccess(ctx, localID, received.ServerID, received.SyncedAt, syncLocation); err != nil {
		return nil, fmt.Errorf("recording sync success: %w", err)
	}
	o.logger.Info("report synced",
		"local_id", localID,
		"server_id", received.ServerID,
		"attempt", attempts)

	o.uploadAttachment(ctx, report)

	return o.store.Get(ctx, localID)
}

// enqueueForReplay writes the failed call into the durable queue so the
// replay agent can retry it long after this process restarts.
func (o *Orchestrator) enqueueForReplay(ctx context.Context, payload types.SyncPayload, localID, cause string) {
	body, err := json.Marshal(payload)
	if err != nil {
		o.logger.Error("marshal queued payload", "local_id", localID, "error", err)
		return
	}
	id, err := o.queue.Enqueue(ctx, o.client.SyncURL(), "POST", o.client.Headers(), body, localID)
	if err != nil {
		o.logger.Error("enqueue replay request", "local_id", localID, "error", err)
		return
	}
	o.logger.Info("queued for replay",
		"local_id", localID,
		"queue_id", id,
		"cause", cause)
}

// uploadAttachment ships the report photo to object storage, best effort.
func (o *Orchestrator) uploadAttachment(ctx context.Context, report *types.IncidentReport) {
	if report.PhotoPath == "" {
		return
	}
	err := o.uploader.Upload(ctx, report.LocalID, report.PhotoPath)
	if err != nil && !errors.Is(err, attach.ErrNotConfigured) {
		o.logger.Warn("attachment upload failed",
			"local_id", report.LocalID,
			"photo_path", report.PhotoPath,
			"error", err)
	}
}

// Retry re-arms a failed report and immediately attempts delivery. It is
// rejected outright while offline so a stale failure is never silently
// re-queued behind a dead link.
func (o *Orchestrator) Retry(ctx context.Context, localID string) (*types.IncidentReport, error) {
	if !o.conn.Online() {
		return nil, ErrOffline
	}
	if err := o.store.MarkPending(ctx, localID); err != nil {
		return nil, err
	}
	return o.SyncReport(ctx, localID)
}

// Delete removes a report from the local store.
func (o *Orchestrator) Delete(ctx context.Context, localID string) error {
	return o.store.Delete(ctx, localID)
}

// SyncAllPending drains every unsynced report sequentially, oldest first.
// Failed reports ride along with pending ones: a logical rejection never
// reaches the replay queue, so the bulk drain is their only automatic
// retry path. Only one drain runs at a time; a second caller gets
// ErrSyncInFlight and must not wait, since the running drain already
// covers its reports.
func (o *Orchestrator) SyncAllPending(ctx context.Context) (*DrainResult, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInFlight
	}
	defer o.inFlight.Store(false)

	unsynced, err := o.store.ListByStatus(ctx, types.StatusPending, types.StatusFailed)
	if err != nil {
		return nil, err
	}

	result := &DrainResult{}
	for _, report := range unsynced {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Attempted++
		if _, err := o.SyncReport(ctx, report.LocalID); err != nil {
			result.Failed++
			continue
		}
		result.Succeeded++
	}

	if result.Attempted > 0 {
		o.logger.Info("drain complete",
			"attempted", result.Attempted,
			"succeeded", result.Succeeded,
			"failed", result.Failed)
	}
	return result, nil
}

// Run reacts to connectivity regaining: after each offline-to-online
// transition it waits out the settle delay, then drains whatever is still
// unsynced. Blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	events, cancel := o.conn.Subscribe()
	defer cancel()

	o.logger.Info("sync orchestrator started", "settle_delay", o.settleDelay)

	// A transition published before the subscription registered is gone;
	// catch up on the current state.
	if o.conn.Online() {
		o.onOnline(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("sync orchestrator stopped")
			return
		case online, ok := <-events:
			if !ok {
				return
			}
			if !online {
				continue
			}
			o.onOnline(ctx)
		}
	}
}

func (o *Orchestrator) onOnline(ctx context.Context) {
	counts, err := o.store.CountByStatus(ctx)
	if err != nil {
		o.logger.Error("count reports", "error", err)
		return
	}
	if counts.Pending+counts.Failed == 0 {
		return
	}

	if o.settleDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.settleDelay):
		}
	}

	if _, err := o.SyncAllPending(ctx); err != nil && !errors.Is(err, ErrSyncInFlight) {
		o.logger.Error("auto drain failed", "error", err)
	}
}
