package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aegisfield/aegis/internal/agent"
	"github.com/aegisfield/aegis/internal/connectivity"
	"github.com/aegisfield/aegis/internal/queue"
	"github.com/aegisfield/aegis/internal/store"
	"github.com/aegisfield/aegis/internal/sync"
	"github.com/aegisfield/aegis/internal/types"
)

// Handler implements the API handlers
type Handler struct {
	orch     *sync.Orchestrator
	store    *store.ReportStore
	queue    *queue.RequestQueue
	client   *sync.Client
	monitor  *connectivity.Monitor
	notifier *agent.Notifier
	apiKey   string
	version  string
}

// NewHandler creates a new Handler wired to the sync engine.
func NewHandler(
	orch *sync.Orchestrator,
	st *store.ReportStore,
	q *queue.RequestQueue,
	client *sync.Client,
	monitor *connectivity.Monitor,
	notifier *agent.Notifier,
	apiKey, version string,
) *Handler {
	return &Handler{
		orch:     orch,
		store:    st,
		queue:    q,
		client:   client,
		monitor:  monitor,
		notifier: notifier,
		apiKey:   apiKey,
		version:  version,
	}
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status    string             `json:"status"`
	Version   string             `json:"version"`
	Online    bool               `json:"online"`
	Reports   types.StatusCounts `json:"reports"`
	QueueSize int                `json:"queueSize"`
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountByStatus(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	size, err := h.queue.Size(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	resp := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Online:    h.monitor.Online(),
		Reports:   *counts,
		QueueSize: size,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// CreateReport handles POST /api/v1/reports
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var draft types.ReportDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	report, err := h.orch.CreateReport(r.Context(), draft)
	if err != nil {
		MapError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(report)
}

// ListReports handles GET /api/v1/reports with an optional status filter.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	var (
		reports []types.IncidentReport
		err     error
	)

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := types.SyncStatus(raw)
		if !status.Valid() {
			WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", raw))
			return
		}
		reports, err = h.store.ListByStatus(r.Context(), status)
	} else {
		reports, err = h.store.List(r.Context())
	}
	if err != nil {
		slog.Error("list reports failed", "error", err)
		MapError(w, r, err)
		return
	}

	if reports == nil {
		reports = []types.IncidentReport{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reports)
}

// GetReport handles GET /api/v1/reports/{localId}
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.Get(r.Context(), chi.URLParam(r, "localId"))
	if err != nil {
		MapError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// reportPatchRequest is the body of PATCH /api/v1/reports/{localId}.
type reportPatchRequest struct {
	Description       *string         `json:"description"`
	ManualAddress     *string         `json:"manualAddress"`
	Severity          *types.Severity `json:"severity"`
	PhotoPath         *string         `json:"photoPath"`
	UserCorrectedTime *time.Time      `json:"userCorrectedTime"`
}

// UpdateReport handles PATCH /api/v1/reports/{localId}
func (h *Handler) UpdateReport(w http.ResponseWriter, r *http.Request) {
	var req reportPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if req.Severity != nil && !req.Severity.Valid() {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Unknown severity %q", *req.Severity))
		return
	}

	localID := chi.URLParam(r, "localId")
	patch := store.ReportPatch{
		Description:       req.Description,
		ManualAddress:     req.ManualAddress,
		Severity:          req.Severity,
		PhotoPath:         req.PhotoPath,
		UserCorrectedTime: req.UserCorrectedTime,
	}
	if err := h.store.Update(r.Context(), localID, patch); err != nil {
		MapError(w, r, err)
		return
	}

	report, err := h.store.Get(r.Context(), localID)
	if err != nil {
		MapError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// DeleteReport handles DELETE /api/v1/reports/{localId}
func (h *Handler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Delete(r.Context(), chi.URLParam(r, "localId")); err != nil {
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryReport handles POST /api/v1/reports/{localId}/retry
func (h *Handler) RetryReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.orch.Retry(r.Context(), chi.URLParam(r, "localId"))
	if err != nil {
		// A failed remote attempt still produced usable state; report it.
		if report != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(report)
			return
		}
		MapError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// statusUpdateRequest is the body of PATCH /api/v1/reports/{localId}/status.
type statusUpdateRequest struct {
	Status types.ReportStatus `json:"status"`
}

// UpdateReportStatus handles PATCH /api/v1/reports/{localId}/status by
// relaying the triage change to the remote service. The report must have
// synced at least once so a server id exists.
func (h *Handler) UpdateReportStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if !req.Status.Valid() {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", req.Status))
		return
	}

	localID := chi.URLParam(r, "localId")
	report, err := h.store.Get(r.Context(), localID)
	if err != nil {
		MapError(w, r, err)
		return
	}
	if report.ServerID == nil {
		WriteProblem(w, r, http.StatusConflict, "Report has not synced yet; no server id")
		return
	}

	if err := h.client.UpdateStatus(r.Context(), *report.ServerID, localID, req.Status); err != nil {
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// connectivityRequest is the body of POST /api/v1/connectivity.
type connectivityRequest struct {
	Online bool `json:"online"`
}

// SetConnectivity handles POST /api/v1/connectivity: a platform-delivered
// connectivity event (radio toggled, captive portal cleared) fed into the
// monitor. It goes through the same hold-down as probe results.
func (h *Handler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	h.monitor.SetOnline(req.Online)
	w.WriteHeader(http.StatusAccepted)
}

// SyncAll handles POST /api/v1/sync
func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.orch.SyncAllPending(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// QueueStats handles GET /api/v1/queue
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	items, err := h.queue.ListPending(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(types.QueueStats{Size: len(items), Items: items})
}

// ClearQueue handles DELETE /api/v1/queue
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Clear(r.Context()); err != nil {
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
