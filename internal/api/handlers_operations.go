package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/oriys/pulsar/internal/access"
	"github.com/oriys/pulsar/internal/observability"
)

// handleInitiate starts a long-running operation on the workflow engine.
// With "synchronous": true the call blocks for a bounded wait; if the
// operation finishes in time the terminal record is returned, otherwise the
// caller falls back to polling the returned handle.
func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	_, _, ok := h.authorize(w, r, access.PermOperationsStart)
	if !ok {
		return
	}

	var req struct {
		Type        string          `json:"type"`
		Payload     json.RawMessage `json:"payload"`
		Synchronous bool            `json:"synchronous"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "operation type required", nil)
		return
	}

	rec, err := h.Proxy.Initiate(r.Context(), req.Type, req.Payload, req.Synchronous)
	if err != nil {
		fail(w, r, err)
		return
	}

	span := observability.SpanFromContext(r.Context())
	span.SetAttributes(
		observability.AttrOperationID.String(rec.ID),
		observability.AttrOperationType.String(rec.Type),
	)

	status := http.StatusAccepted
	if rec.State.Terminal() {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"operation": rec})
}

// handleOperationStatus serves one operation record through the proxy's
// terminal/running cache policy.
func (h *Handler) handleOperationStatus(w http.ResponseWriter, r *http.Request) {
	_, _, ok := h.authorize(w, r, access.PermOperationsRead)
	if !ok {
		return
	}

	rec, err := h.Proxy.GetStatus(r.Context(), r.PathValue("operationID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operation": rec})
}

// handleOperationCancel forwards cancellation to the engine. The cached
// status is evicted before the response, so a follow-up poll never reports
// the operation as still running out of cache.
func (h *Handler) handleOperationCancel(w http.ResponseWriter, r *http.Request) {
	_, _, ok := h.authorize(w, r, access.PermOperationsStop)
	if !ok {
		return
	}

	id := r.PathValue("operationID")
	if err := h.Proxy.Cancel(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"operation_id": id, "cancelled": true})
}

// handleOperationStream streams operation status updates as server-sent
// events. The subscription is bound to the request context: when the client
// disconnects or the operation reaches a terminal state the polling loop
// stops within one interval.
func (h *Handler) handleOperationStream(w http.ResponseWriter, r *http.Request) {
	_, _, ok := h.authorize(w, r, access.PermOperationsRead)
	if !ok {
		return
	}

	id := r.PathValue("operationID")

	// Verify the operation exists before committing to a stream; SSE
	// cannot change the status code after the first event.
	if _, err := h.Proxy.GetStatus(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.Proxy.Subscribe(r.Context(), id)
	defer sub.Close()

	for rec := range sub.Updates() {
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
		flusher.Flush()

		if rec.State.Terminal() {
			fmt.Fprintf(w, "event: done\ndata: {\"state\":%q}\n\n", rec.State)
			flusher.Flush()
		}
	}
}
