package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Events handles GET /api/v1/events: a server-sent event stream of sync
// notifications and store-change hints. Clients use it to refresh their
// view of the report store; payloads are advisory, never authoritative.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteProblem(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	msgs, cancelMsgs := h.notifier.Subscribe()
	defer cancelMsgs()
	changes, cancelChanges := h.store.Watch()
	defer cancelChanges()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: sync\ndata: %s\n\n", data)
			flusher.Flush()
		case _, ok := <-changes:
			if !ok {
				return
			}
			fmt.Fprint(w, "event: change\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}
