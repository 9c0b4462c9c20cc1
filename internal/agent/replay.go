// Package agent implements the background replay worker: it drains the
// durable request queue whenever connectivity allows, independent of any
// interactive caller, and posts advisory notifications about what it did.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/aegisfield/aegis/internal/config"
	"github.com/aegisfield/aegis/internal/queue"
	"github.com/aegisfield/aegis/internal/store"
	"github.com/aegisfield/aegis/internal/sync"
	"github.com/aegisfield/aegis/internal/types"
)

// errLinkDown aborts a replay pass when the first transport failure shows
// the link is not actually usable.
var errLinkDown = errors.New("replay pass aborted: link down")

// ReplayAgent owns the durable queue's lifecycle: retention purges, ordered
// replay, and reconciliation of successful replays back into the report
// store.
type ReplayAgent struct {
	queue    *queue.RequestQueue
	store    *store.ReportStore
	conn     sync.ConnSource
	notifier *Notifier
	client   *http.Client

	interval   time.Duration
	retention  time.Duration
	maxRetries int
	backoff    time.Duration

	inFlight atomic.Bool
	logger   *slog.Logger
}

// NewReplayAgent wires the replay worker. notifier may be nil when nothing
// listens for replay notifications.
func NewReplayAgent(
	q *queue.RequestQueue,
	st *store.ReportStore,
	conn sync.ConnSource,
	notifier *Notifier,
	cfg config.AgentConfig,
	httpTimeout time.Duration,
	logger *slog.Logger,
) *ReplayAgent {
	if httpTimeout <= 0 {
		httpTimeout = 30 * time.Second
	}
	return &ReplayAgent{
		queue:      q,
		store:      st,
		conn:       conn,
		notifier:   notifier,
		client:     &http.Client{Timeout: httpTimeout},
		interval:   time.Duration(cfg.ReplayInterval),
		retention:  time.Duration(cfg.MaxRetention),
		maxRetries: cfg.PassMaxRetries,
		backoff:    time.Duration(cfg.PassBackoff),
		logger:     logger.With("component", "replay_agent"),
	}
}

// Run drains the queue on every reconnect and again on a periodic nudge,
// so requests stranded by a crashed drain still get replayed. Blocks until
// ctx is cancelled.
func (a *ReplayAgent) Run(ctx context.Context) {
	events, cancel := a.conn.Subscribe()
	defer cancel()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("replay agent started",
		"interval", a.interval,
		"retention", a.retention)

	// A transition published before the subscription registered is gone;
	// catch up on the current state.
	if a.conn.Online() {
		a.drainWithRetry(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("replay agent stopped")
			return
		case online, ok := <-events:
			if !ok {
				return
			}
			if online {
				a.drainWithRetry(ctx)
			}
		case <-ticker.C:
			if a.conn.Online() {
				a.drainWithRetry(ctx)
			}
		}
	}
}

// drainWithRetry runs DrainQueue, retrying a link-down abort with fibonacci
// backoff in case the connectivity signal raced ahead of the link itself.
func (a *ReplayAgent) drainWithRetry(ctx context.Context) {
	b := retry.WithMaxRetries(uint64(a.maxRetries), retry.NewFibonacci(a.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := a.DrainQueue(ctx)
		if errors.Is(err, errLinkDown) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && ctx.Err() == nil {
		a.logger.Warn("replay pass gave up", "error", err)
	}
}

// DrainQueue runs one replay pass: purge expired entries, then replay the
// rest oldest first. A transport failure stops the pass; a delivered-but-
// rejected request is dropped with the rejection recorded on its report,
// since replaying identical bytes cannot change the outcome.
func (a *ReplayAgent) DrainQueue(ctx context.Context) error {
	if !a.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer a.inFlight.Store(false)

	purged, err := a.queue.PurgeExpired(ctx, a.retention)
	if err != nil {
		return fmt.Errorf("purging expired requests: %w", err)
	}
	if purged > 0 {
		a.logger.Warn("dropped expired queue entries",
			"count", purged,
			"retention", a.retention)
	}

	items, err := a.queue.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("listing queued requests: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	a.logger.Info("replaying queued requests", "count", len(items))

	successes, failures := 0, 0
	var passErr error
	for _, item := range items {
		if ctx.Err() != nil {
			passErr = ctx.Err()
			break
		}
		if err := a.replayOne(ctx, item); err != nil {
			failures++
			if errors.Is(err, errLinkDown) {
				passErr = err
				break
			}
			continue
		}
		successes++
	}

	if a.notifier != nil {
		a.notifier.Publish(types.SyncMessage{
			Type:         types.MsgSyncComplete,
			SuccessCount: successes,
			FailCount:    failures,
		})
	}
	return passErr
}

func (a *ReplayAgent) replayOne(ctx context.Context, item types.QueuedRequest) error {
	req, err := http.NewRequestWithContext(ctx, item.Method, item.URL, bytes.NewReader(item.Body))
	if err != nil {
		// Malformed beyond repair; keep it until retention drops it.
		a.markAttempt(ctx, item.ID, err)
		return err
	}
	for k, v := range item.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.markAttempt(ctx, item.ID, err)
		a.logger.Warn("replay transport failure",
			"queue_id", item.ID,
			"retry_count", item.RetryCount+1,
			"error", err)
		return fmt.Errorf("%w: %v", errLinkDown, err)
	}
	defer resp.Body.Close()

	received, err := sync.DecodeSyncResponse(resp)
	if err != nil {
		var remoteErr *sync.RemoteError
		if errors.As(err, &remoteErr) {
			// Delivered and rejected: drop it and record the cause.
			if dqErr := a.queue.Dequeue(ctx, item.ID); dqErr != nil {
				a.logger.Error("dequeue rejected request", "queue_id", item.ID, "error", dqErr)
			}
			if item.ReportLocalID != "" {
				if sfErr := a.store.ApplySyncFailure(ctx, item.ReportLocalID, remoteErr.Error()); sfErr != nil && !errors.Is(sfErr, store.ErrNotFound) {
					a.logger.Error("record replay rejection", "local_id", item.ReportLocalID, "error", sfErr)
				}
			}
			a.logger.Warn("replay rejected by remote",
				"queue_id", item.ID,
				"status", remoteErr.StatusCode)
			return err
		}
		a.markAttempt(ctx, item.ID, err)
		return err
	}

	if err := a.queue.Dequeue(ctx, item.ID); err != nil {
		return fmt.Errorf("dequeue replayed request: %w", err)
	}

	if item.ReportLocalID != "" {
		err := a.store.ApplySyncSuccess(ctx, item.ReportLocalID, received.ServerID, received.SyncedAt, nil)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("reconciling replayed report: %w", err)
		}
	}

	a.logger.Info("replayed queued request",
		"queue_id", item.ID,
		"local_id", item.ReportLocalID,
		"server_id", received.ServerID)

	if a.notifier != nil {
		a.notifier.Publish(types.SyncMessage{
			Type:     types.MsgSyncSuccess,
			ReportID: item.ReportLocalID,
		})
	}
	return nil
}

func (a *ReplayAgent) markAttempt(ctx context.Context, id string, cause error) {
	if err := a.queue.MarkAttempt(ctx, id, cause.Error()); err != nil {
		a.logger.Error("mark replay attempt", "queue_id", id, "error", err)
	}
}
