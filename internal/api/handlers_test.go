package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aegisfield/aegis/internal/agent"
	"github.com/aegisfield/aegis/internal/config"
	"github.com/aegisfield/aegis/internal/connectivity"
	"github.com/aegisfield/aegis/internal/queue"
	"github.com/aegisfield/aegis/internal/store"
	"github.com/aegisfield/aegis/internal/sync"
	"github.com/aegisfield/aegis/internal/types"
)

const testAPIKey = "local-test-key"

type apiRig struct {
	api     *httptest.Server
	remote  *httptest.Server
	store   *store.ReportStore
	queue   *queue.RequestQueue
	monitor *connectivity.Monitor
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			w.WriteHeader(http.StatusOK)
		default:
			var payload types.SyncPayload
			json.NewDecoder(r.Body).Decode(&payload)
			json.NewEncoder(w).Encode(types.SyncResponse{
				Success: true,
				Data:    &types.SyncReceived{ServerID: "srv-" + payload.LocalID, LocalID: payload.LocalID, SyncedAt: time.Now().UTC()},
			})
		}
	}))
	t.Cleanup(remote.Close)

	dir := t.TempDir()
	st, err := store.NewReportStore(filepath.Join(dir, "reports.db"))
	if err != nil {
		t.Fatalf("NewReportStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	q, err := queue.NewRequestQueue(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("NewRequestQueue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	monitor := connectivity.NewMonitor(nil, time.Minute, 0)
	client := sync.NewClient(remote.URL+"/sync", remote.URL+"/update", remote.URL+"/health", "remote-key", 2*time.Second)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orch := sync.NewOrchestrator(st, q, client, monitor, nil, nil,
		config.IdentityConfig{ResponderID: "resp-1", DeviceID: "dev-1", AppVersion: "test"},
		config.SyncConfig{SettleDelay: config.Duration(time.Millisecond), LocationTimeout: config.Duration(time.Second)},
		logger)

	h := NewHandler(orch, st, q, client, monitor, agent.NewNotifier(), testAPIKey, "test")
	api := httptest.NewServer(NewRouter(h))
	t.Cleanup(api.Close)

	return &apiRig{api: api, remote: remote, store: st, queue: q, monitor: monitor}
}

func (r *apiRig) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, r.api.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func validDraft() types.ReportDraft {
	return types.ReportDraft{
		IncidentType: types.IncidentFlood,
		Description:  "river overflowing near the bridge",
		Location:     types.Location{Lat: 14.599, Lng: 120.984, AccuracyMeters: 15},
	}
}

func TestHealthIsPublic(t *testing.T) {
	r := newAPIRig(t)

	resp, err := http.Get(r.api.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	health := decodeBody[HealthResponse](t, resp)
	if health.Status != "healthy" || health.Version != "test" {
		t.Errorf("health = %+v", health)
	}
	if health.Online {
		t.Error("expected offline at startup")
	}
}

func TestAuthRequired(t *testing.T) {
	r := newAPIRig(t)

	resp, err := http.Get(r.api.URL + "/api/v1/reports")
	if err != nil {
		t.Fatalf("GET reports: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestCreateAndGetReport(t *testing.T) {
	r := newAPIRig(t)

	resp := r.do(t, http.MethodPost, "/api/v1/reports", validDraft())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created := decodeBody[types.IncidentReport](t, resp)
	if created.LocalID == "" {
		t.Fatal("missing local id")
	}
	if created.SyncStatus != types.StatusPending {
		t.Errorf("status = %q, want pending while offline", created.SyncStatus)
	}
	if created.Severity != types.SeverityHigh {
		t.Errorf("severity = %q, want defaulted high", created.Severity)
	}

	resp = r.do(t, http.MethodGet, "/api/v1/reports/"+created.LocalID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	got := decodeBody[types.IncidentReport](t, resp)
	if got.LocalID != created.LocalID {
		t.Errorf("got %q, want %q", got.LocalID, created.LocalID)
	}
}

func TestCreateReportInvalidDraft(t *testing.T) {
	r := newAPIRig(t)

	draft := validDraft()
	draft.IncidentType = "meteor"
	resp := r.do(t, http.MethodPost, "/api/v1/reports", draft)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	problem := decodeBody[ProblemWithErrors](t, resp)
	if len(problem.Errors) == 0 {
		t.Error("expected field errors in problem body")
	}
}

func TestListReportsStatusFilter(t *testing.T) {
	r := newAPIRig(t)

	r.do(t, http.MethodPost, "/api/v1/reports", validDraft()).Body.Close()

	resp := r.do(t, http.MethodGet, "/api/v1/reports?status=pending", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	reports := decodeBody[[]types.IncidentReport](t, resp)
	if len(reports) != 1 {
		t.Errorf("pending = %d, want 1", len(reports))
	}

	resp = r.do(t, http.MethodGet, "/api/v1/reports?status=synced", nil)
	synced := decodeBody[[]types.IncidentReport](t, resp)
	if len(synced) != 0 {
		t.Errorf("synced = %d, want 0", len(synced))
	}

	resp = r.do(t, http.MethodGet, "/api/v1/reports?status=bogus", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus filter status = %d, want 400", resp.StatusCode)
	}
}

func TestGetReportNotFound(t *testing.T) {
	r := newAPIRig(t)

	resp := r.do(t, http.MethodGet, "/api/v1/reports/nope", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUpdateReportPatch(t *testing.T) {
	r := newAPIRig(t)

	created := decodeBody[types.IncidentReport](t, r.do(t, http.MethodPost, "/api/v1/reports", validDraft()))

	patch := map[string]any{"description": "water receding", "severity": "low"}
	resp := r.do(t, http.MethodPatch, "/api/v1/reports/"+created.LocalID, patch)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	updated := decodeBody[types.IncidentReport](t, resp)
	if updated.Description != "water receding" || updated.Severity != types.SeverityLow {
		t.Errorf("updated = %+v", updated)
	}

	resp = r.do(t, http.MethodPatch, "/api/v1/reports/"+created.LocalID, map[string]any{"severity": "apocalyptic"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad severity status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteReport(t *testing.T) {
	r := newAPIRig(t)

	created := decodeBody[types.IncidentReport](t, r.do(t, http.MethodPost, "/api/v1/reports", validDraft()))

	resp := r.do(t, http.MethodDelete, "/api/v1/reports/"+created.LocalID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp = r.do(t, http.MethodGet, "/api/v1/reports/"+created.LocalID, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestRetryOfflineReturns503(t *testing.T) {
	r := newAPIRig(t)

	created := decodeBody[types.IncidentReport](t, r.do(t, http.MethodPost, "/api/v1/reports", validDraft()))

	resp := r.do(t, http.MethodPost, "/api/v1/reports/"+created.LocalID+"/retry", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestSyncAllDrainsPending(t *testing.T) {
	r := newAPIRig(t)

	created := decodeBody[types.IncidentReport](t, r.do(t, http.MethodPost, "/api/v1/reports", validDraft()))
	r.monitor.SetOnline(true)

	resp := r.do(t, http.MethodPost, "/api/v1/sync", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d", resp.StatusCode)
	}
	result := decodeBody[sync.DrainResult](t, resp)
	if result.Attempted != 1 || result.Succeeded != 1 {
		t.Errorf("result = %+v", result)
	}

	stored, err := r.store.Get(context.Background(), created.LocalID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.SyncStatus != types.StatusSynced {
		t.Errorf("status = %q, want synced", stored.SyncStatus)
	}
}

func TestUpdateReportStatusRequiresServerID(t *testing.T) {
	r := newAPIRig(t)

	created := decodeBody[types.IncidentReport](t, r.do(t, http.MethodPost, "/api/v1/reports", validDraft()))

	resp := r.do(t, http.MethodPatch, "/api/v1/reports/"+created.LocalID+"/status", statusUpdateRequest{Status: types.ReportResolved})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status before sync = %d, want 409", resp.StatusCode)
	}

	// Sync it, then the relay should go through.
	r.monitor.SetOnline(true)
	r.do(t, http.MethodPost, "/api/v1/sync", nil).Body.Close()

	resp = r.do(t, http.MethodPatch, "/api/v1/reports/"+created.LocalID+"/status", statusUpdateRequest{Status: types.ReportResolved})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status after sync = %d, want 204", resp.StatusCode)
	}
}

func TestSetConnectivityFeedsMonitor(t *testing.T) {
	r := newAPIRig(t)

	if r.monitor.Online() {
		t.Fatal("monitor should start offline")
	}

	resp := r.do(t, http.MethodPost, "/api/v1/connectivity", connectivityRequest{Online: true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if !r.monitor.Online() {
		t.Fatal("monitor should be online after the event")
	}

	resp = r.do(t, http.MethodPost, "/api/v1/connectivity", connectivityRequest{Online: false})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if r.monitor.Online() {
		t.Fatal("monitor should be offline after the event")
	}
}

func TestSetConnectivityRejectsBadJSON(t *testing.T) {
	r := newAPIRig(t)

	req, err := http.NewRequest(http.MethodPost, r.api.URL+"/api/v1/connectivity", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /connectivity: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestQueueStatsEmpty(t *testing.T) {
	r := newAPIRig(t)

	resp := r.do(t, http.MethodGet, "/api/v1/queue", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var stats types.QueueStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Size != 0 {
		t.Errorf("size = %d", stats.Size)
	}
	if !bytes.Contains(raw, []byte(`"items":[]`)) {
		t.Errorf("items should marshal as [], got %s", raw)
	}
}
