// Package queue implements the durable request queue: an ordered log of
// outstanding HTTP side-effects that survives process restarts. It lives in
// its own SQLite database, deliberately separate from the report store, so
// wiping one can never lose the other's data. The queue only references
// reports by local id; it never owns report state.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aegisfield/aegis/internal/store"
	"github.com/aegisfield/aegis/internal/types"
	"github.com/aegisfield/aegis/migrations"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a queue item id does not exist.
var ErrNotFound = errors.New("queued request not found")

// timeLayout is fixed width so enqueued_at sorts lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RequestQueue is the SQLite-backed durable log of outstanding sync calls.
type RequestQueue struct {
	db *sql.DB
}

// NewRequestQueue opens (or creates) the queue database at dbPath.
func NewRequestQueue(dbPath string) (*RequestQueue, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := store.OpenDatabase(dbPath, migrations.QueueDir)
	if err != nil {
		return nil, err
	}

	return &RequestQueue{db: db}, nil
}

// Close closes the database connection.
func (q *RequestQueue) Close() error {
	return q.db.Close()
}

// Enqueue appends a request description to the queue and returns its id.
// Ids are ULIDs, so lexicographic id order matches enqueue order.
func (q *RequestQueue) Enqueue(ctx context.Context, url, method string, headers map[string]string, body []byte, reportLocalID string) (string, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}

	id := ulid.Make().String()
	now := time.Now().UTC().Format(timeLayout)

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO queued_requests (id, url, method, headers, body, enqueued_at, retry_count, report_local_id)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`, id, url, method, string(headersJSON), body, now, reportLocalID)
	if err != nil {
		return "", fmt.Errorf("enqueue request: %w", err)
	}

	return id, nil
}

// ListPending returns all queued requests, oldest first.
func (q *RequestQueue) ListPending(ctx context.Context) ([]types.QueuedRequest, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, url, method, headers, body, enqueued_at, retry_count, last_error, report_local_id
		FROM queued_requests
		ORDER BY enqueued_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var items []types.QueuedRequest
	for rows.Next() {
		item, err := scanQueuedRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queued request: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}
	return items, nil
}

// Size returns the number of queued requests.
func (q *RequestQueue) Size(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_requests`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// Dequeue removes a request from the queue after a successful replay.
func (q *RequestQueue) Dequeue(ctx context.Context, id string) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM queued_requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("dequeue request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAttempt increments a request's retry count and records the error that
// caused the attempt to fail. The request stays in place for the next pass.
func (q *RequestQueue) MarkAttempt(ctx context.Context, id, lastError string) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE queued_requests
		SET retry_count = retry_count + 1, last_error = ?
		WHERE id = ?
	`, lastError, id)
	if err != nil {
		return fmt.Errorf("mark attempt: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes every queued request.
func (q *RequestQueue) Clear(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM queued_requests`); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// PurgeExpired drops requests enqueued before the retention cutoff and
// returns how many were removed. Retention is an explicit, configured
// policy; callers log the count so nothing disappears silently.
func (q *RequestQueue) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(timeLayout)
	result, err := q.db.ExecContext(ctx, `DELETE FROM queued_requests WHERE enqueued_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

func scanQueuedRequest(scanner interface{ Scan(...any) error }) (*types.QueuedRequest, error) {
	var item types.QueuedRequest
	var headersJSON, enqueuedAt string
	var lastError sql.NullString

	err := scanner.Scan(
		&item.ID,
		&item.URL,
		&item.Method,
		&headersJSON,
		&item.Body,
		&enqueuedAt,
		&item.RetryCount,
		&lastError,
		&item.ReportLocalID,
	)
	if err != nil {
		return nil, err
	}

	if headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &item.Headers); err != nil {
			return nil, fmt.Errorf("parse headers JSON: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
		item.Timestamp = t
	}
	if lastError.Valid {
		item.LastError = &lastError.String
	}

	return &item, nil
}
