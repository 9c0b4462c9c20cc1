package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aegisfield/aegis/internal/types"
	"github.com/aegisfield/aegis/migrations"
	_ "modernc.org/sqlite"
)

// ReportStore is the SQLite-backed durable store of incident reports. It is
// the sole owner of report state; every mutation is atomic per record and
// fires the change hub so reactive readers can re-query.
type ReportStore struct {
	db    *sql.DB
	watch *watchHub
}

// NewReportStore opens (or creates) the reports database at dbPath,
// enabling WAL mode and applying migrations.
func NewReportStore(dbPath string) (*ReportStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := OpenDatabase(dbPath, migrations.ReportsDir)
	if err != nil {
		return nil, err
	}

	return &ReportStore{db: db, watch: newWatchHub()}, nil
}

// Close closes the database connection.
func (s *ReportStore) Close() error {
	return s.db.Close()
}

// Watch returns a coalescing change-notification channel and an unsubscribe
// function. The channel fires after any mutation; the listener is expected
// to re-read whatever query it cares about.
func (s *ReportStore) Watch() (<-chan struct{}, func()) {
	return s.watch.subscribe()
}

const reportColumns = `local_id, server_id, sync_status, incident_type, severity,
	description, manual_address, photo_path,
	creation_lat, creation_lng, creation_accuracy_m,
	sync_lat, sync_lng, sync_accuracy_m,
	created_at_local, last_edited_at_local, synced_at,
	sync_attempts, last_sync_error,
	device_time, user_corrected_time, device_timezone, timezone_offset_minutes,
	responder_id, device_id, app_version`

// Add inserts a new report. The report must carry a LocalID; inserting an
// existing LocalID returns ErrDuplicateReport.
func (s *ReportStore) Add(ctx context.Context, r *types.IncidentReport) error {
	if r.LocalID == "" {
		return fmt.Errorf("report missing local id")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.LocalID,
		r.ServerID,
		string(r.SyncStatus),
		string(r.IncidentType),
		string(r.Severity),
		r.Description,
		r.ManualAddress,
		r.PhotoPath,
		r.LocationCapturedAtCreation.Lat,
		r.LocationCapturedAtCreation.Lng,
		r.LocationCapturedAtCreation.AccuracyMeters,
		nullableLat(r.LocationCapturedAtSync),
		nullableLng(r.LocationCapturedAtSync),
		nullableAccuracy(r.LocationCapturedAtSync),
		formatTime(r.CreatedAtLocal),
		formatTime(r.LastEditedAtLocal),
		formatTimePtr(r.SyncedAt),
		r.SyncAttempts,
		r.LastSyncError,
		formatTime(r.DeviceTime),
		formatTimePtr(r.UserCorrectedTime),
		r.DeviceTimezone,
		r.TimezoneOffsetMinutes,
		r.ResponderID,
		r.DeviceID,
		r.AppVersion,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateReport
		}
		return fmt.Errorf("insert report: %w", err)
	}

	s.watch.notify()
	return nil
}

// Get retrieves a report by its local id.
func (s *ReportStore) Get(ctx context.Context, localID string) (*types.IncidentReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reportColumns+` FROM reports WHERE local_id = ?
	`, localID)

	r, err := scanReport(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan report: %w", err)
	}
	return r, nil
}

// List returns all reports ordered by creation time, newest first.
func (s *ReportStore) List(ctx context.Context) ([]types.IncidentReport, error) {
	return s.queryReports(ctx, `
		SELECT `+reportColumns+` FROM reports ORDER BY created_at_local DESC
	`)
}

// ListByStatus returns reports in any of the given sync states, oldest
// first so drains process in creation order.
func (s *ReportStore) ListByStatus(ctx context.Context, statuses ...types.SyncStatus) ([]types.IncidentReport, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}

	return s.queryReports(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE sync_status IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY created_at_local ASC
	`, args...)
}

// CountByStatus returns report counts per sync state.
func (s *ReportStore) CountByStatus(ctx context.Context) (*types.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sync_status, COUNT(*) FROM reports GROUP BY sync_status
	`)
	if err != nil {
		return nil, fmt.Errorf("count reports: %w", err)
	}
	defer rows.Close()

	var counts types.StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		switch types.SyncStatus(status) {
		case types.StatusPending:
			counts.Pending = n
		case types.StatusSynced:
			counts.Synced = n
		case types.StatusFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return &counts, nil
}

// ReportPatch is a partial update of the reporter-editable fields. Nil
// fields are left untouched. Sync bookkeeping is never patched through
// here; the dedicated transition methods own it.
type ReportPatch struct {
	Description       *string
	ManualAddress     *string
	Severity          *types.Severity
	PhotoPath         *string
	UserCorrectedTime *time.Time
}

// Update applies a partial update to a report and bumps its edit timestamp.
func (s *ReportStore) Update(ctx context.Context, localID string, patch ReportPatch) error {
	sets := []string{"last_edited_at_local = ?"}
	args := []any{formatTime(time.Now().UTC())}

	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.ManualAddress != nil {
		sets = append(sets, "manual_address = ?")
		args = append(args, *patch.ManualAddress)
	}
	if patch.Severity != nil {
		sets = append(sets, "severity = ?")
		args = append(args, string(*patch.Severity))
	}
	if patch.PhotoPath != nil {
		sets = append(sets, "photo_path = ?")
		args = append(args, *patch.PhotoPath)
	}
	if patch.UserCorrectedTime != nil {
		sets = append(sets, "user_corrected_time = ?")
		args = append(args, formatTime(*patch.UserCorrectedTime))
	}

	args = append(args, localID)
	return s.exec(ctx, `UPDATE reports SET `+strings.Join(sets, ", ")+` WHERE local_id = ?`, args...)
}

// Delete removes a report. Deleting an absent report is a no-op.
func (s *ReportStore) Delete(ctx context.Context, localID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n > 0 {
		s.watch.notify()
	}
	return nil
}

// BeginAttempt increments the sync attempt counter and returns the new
// count. Called once per outbound sync attempt, before the network call.
func (s *ReportStore) BeginAttempt(ctx context.Context, localID string) (int, error) {
	err := s.exec(ctx, `
		UPDATE reports
		SET sync_attempts = sync_attempts + 1, last_edited_at_local = ?
		WHERE local_id = ?
	`, formatTime(time.Now().UTC()), localID)
	if err != nil {
		return 0, err
	}

	var attempts int
	if err := s.db.QueryRowContext(ctx,
		`SELECT sync_attempts FROM reports WHERE local_id = ?`, localID,
	).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("read attempt count: %w", err)
	}
	return attempts, nil
}

// ApplySyncSuccess records a successful sync outcome. It is idempotent with
// respect to localID: applying the same outcome twice leaves the report
// synced with the last response's serverId and syncedAt (last writer wins,
// both writers agree on the terminal value for a given attempt). The server
// id is never cleared by later transitions.
func (s *ReportStore) ApplySyncSuccess(ctx context.Context, localID, serverID string, syncedAt time.Time, syncLocation *types.Location) error {
	return s.exec(ctx, `
		UPDATE reports
		SET sync_status = ?,
		    server_id = ?,
		    synced_at = ?,
		    last_sync_error = NULL,
		    sync_lat = ?,
		    sync_lng = ?,
		    sync_accuracy_m = ?,
		    last_edited_at_local = ?
		WHERE local_id = ?
	`,
		string(types.StatusSynced),
		serverID,
		formatTime(syncedAt),
		nullableLat(syncLocation),
		nullableLng(syncLocation),
		nullableAccuracy(syncLocation),
		formatTime(time.Now().UTC()),
		localID,
	)
}

// ApplySyncFailure records a failed sync attempt. The report stays locally
// intact for later retry; a previously assigned server id is preserved.
func (s *ReportStore) ApplySyncFailure(ctx context.Context, localID, cause string) error {
	return s.exec(ctx, `
		UPDATE reports
		SET sync_status = ?, last_sync_error = ?, last_edited_at_local = ?
		WHERE local_id = ?
	`, string(types.StatusFailed), cause, formatTime(time.Now().UTC()), localID)
}

// MarkPending resets a report to the pending state ahead of a retry.
func (s *ReportStore) MarkPending(ctx context.Context, localID string) error {
	return s.exec(ctx, `
		UPDATE reports
		SET sync_status = ?, last_edited_at_local = ?
		WHERE local_id = ?
	`, string(types.StatusPending), formatTime(time.Now().UTC()), localID)
}

// exec runs a single-report mutation, mapping zero affected rows to
// ErrNotFound and firing the change hub on success.
func (s *ReportStore) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.watch.notify()
	return nil
}

func (s *ReportStore) queryReports(ctx context.Context, query string, args ...any) ([]types.IncidentReport, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var reports []types.IncidentReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, nil
}

// scanReport scans a row into an IncidentReport, handling nullable columns
// and timestamp parsing.
func scanReport(scanner interface{ Scan(...any) error }) (*types.IncidentReport, error) {
	var r types.IncidentReport
	var serverID, lastSyncError sql.NullString
	var syncLat, syncLng, syncAccuracy sql.NullFloat64
	var createdAt, lastEdited, deviceTime string
	var syncedAt, userCorrectedTime sql.NullString
	var syncStatus, incidentType, severity string

	err := scanner.Scan(
		&r.LocalID,
		&serverID,
		&syncStatus,
		&incidentType,
		&severity,
		&r.Description,
		&r.ManualAddress,
		&r.PhotoPath,
		&r.LocationCapturedAtCreation.Lat,
		&r.LocationCapturedAtCreation.Lng,
		&r.LocationCapturedAtCreation.AccuracyMeters,
		&syncLat,
		&syncLng,
		&syncAccuracy,
		&createdAt,
		&lastEdited,
		&syncedAt,
		&r.SyncAttempts,
		&lastSyncError,
		&deviceTime,
		&userCorrectedTime,
		&r.DeviceTimezone,
		&r.TimezoneOffsetMinutes,
		&r.ResponderID,
		&r.DeviceID,
		&r.AppVersion,
	)
	if err != nil {
		return nil, err
	}

	r.SyncStatus = types.SyncStatus(syncStatus)
	r.IncidentType = types.IncidentType(incidentType)
	r.Severity = types.Severity(severity)

	if serverID.Valid {
		r.ServerID = &serverID.String
	}
	if lastSyncError.Valid {
		r.LastSyncError = &lastSyncError.String
	}
	if syncLat.Valid && syncLng.Valid && syncAccuracy.Valid {
		r.LocationCapturedAtSync = &types.Location{
			Lat:            syncLat.Float64,
			Lng:            syncLng.Float64,
			AccuracyMeters: syncAccuracy.Float64,
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		r.CreatedAtLocal = t
	}
	if t, err := time.Parse(time.RFC3339Nano, lastEdited); err == nil {
		r.LastEditedAtLocal = t
	}
	if t, err := time.Parse(time.RFC3339Nano, deviceTime); err == nil {
		r.DeviceTime = t
	}
	if syncedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, syncedAt.String); err == nil {
			r.SyncedAt = &t
		}
	}
	if userCorrectedTime.Valid {
		if t, err := time.Parse(time.RFC3339Nano, userCorrectedTime.String); err == nil {
			r.UserCorrectedTime = &t
		}
	}

	return &r, nil
}

// timeLayout is fixed width so stored timestamps sort lexicographically;
// RFC3339Nano trims trailing zeros and would break ORDER BY.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableLat(l *types.Location) any {
	if l == nil {
		return nil
	}
	return l.Lat
}

func nullableLng(l *types.Location) any {
	if l == nil {
		return nil
	}
	return l.Lng
}

func nullableAccuracy(l *types.Location) any {
	if l == nil {
		return nil
	}
	return l.AccuracyMeters
}
