package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/aegisfield/aegis/internal/types"
)

// RemoteError is a logical rejection from the remote service: the call
// completed but came back non-2xx. It is distinct from a transport error
// (timeout, refused connection), which surfaces as a plain wrapped error.
// Only transport-level failures feed the request queue.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote rejected sync: %s (HTTP %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("remote rejected sync: HTTP %d", e.StatusCode)
}

// Client issues the outbound HTTP calls of the sync protocol.
type Client struct {
	syncURL   string
	updateURL string
	healthURL string
	apiKey    string
	client    *http.Client
}

// NewClient creates a sync client. timeout is the explicit network deadline
// applied to every call.
func NewClient(syncURL, updateURL, healthURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		syncURL:   syncURL,
		updateURL: updateURL,
		healthURL: healthURL,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: timeout},
	}
}

// SyncURL returns the reconciliation endpoint, used when a failed call is
// written to the durable request queue for later replay.
func (c *Client) SyncURL() string {
	return c.syncURL
}

// Headers returns the headers a queued replay of a sync call must carry.
func (c *Client) Headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if c.apiKey != "" {
		h["Authorization"] = "Bearer " + c.apiKey
	}
	return h
}

// Submit delivers one report payload to the remote service. On a 2xx
// response with a server-assigned id it returns the receipt; a non-2xx
// response returns a *RemoteError; anything else is a transport error.
func (c *Client) Submit(ctx context.Context, payload types.SyncPayload) (*types.SyncReceived, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.syncURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.Headers() {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync request: %w", err)
	}
	defer resp.Body.Close()

	return DecodeSyncResponse(resp)
}

// DecodeSyncResponse interprets a sync endpoint response. Shared by the
// orchestrator's direct path and the replay agent so both apply identical
// success criteria.
func DecodeSyncResponse(resp *http.Response) (*types.SyncReceived, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure types.SyncResponse
		msg := ""
		if json.Unmarshal(raw, &failure) == nil {
			msg = failure.Error
		}
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: msg}
	}

	var decoded types.SyncResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !decoded.Success || decoded.Data == nil || decoded.Data.ServerID == "" {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: "response missing server id"}
	}

	return decoded.Data, nil
}

// UpdateStatus relays an admin-facing triage status change to the remote
// service. Not used by the core sync engine; shares its backend contract.
func (c *Client) UpdateStatus(ctx context.Context, serverID, localID string, status types.ReportStatus) error {
	if c.updateURL == "" {
		return fmt.Errorf("update URL not configured")
	}
	if !status.Valid() {
		return fmt.Errorf("invalid report status %q", status)
	}

	u, err := url.Parse(c.updateURL)
	if err != nil {
		return fmt.Errorf("parse update URL: %w", err)
	}
	q := u.Query()
	q.Set("serverId", serverID)
	q.Set("localId", localID)
	q.Set("status", string(status))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RemoteError{StatusCode: resp.StatusCode}
	}
	return nil
}

// Probe reports whether the remote service is reachable. It satisfies the
// connectivity monitor's prober contract, so the online signal rides on the
// same retry policy as Ping.
func (c *Client) Probe(ctx context.Context) bool {
	return c.Ping(ctx) == nil
}

// Ping checks reachability of the remote service, retrying transient
// failures with a short fibonacci backoff.
func (c *Client) Ping(ctx context.Context) error {
	if c.healthURL == "" {
		return fmt.Errorf("health URL not configured")
	}

	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return retry.RetryableError(fmt.Errorf("health check failed: %d", resp.StatusCode))
		}
		return nil
	})
}
