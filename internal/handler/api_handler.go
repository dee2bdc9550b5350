package handler

import (
	"net/http"
	"slices"

	"github.com/dandantas/stocksync/internal/apperr"
	"github.com/dandantas/stocksync/internal/model"
	"github.com/dandantas/stocksync/internal/service"
)

// APIHandler serves the JSON operations API
type APIHandler struct {
	svc *service.Service
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(svc *service.Service) *APIHandler {
	return &APIHandler{svc: svc}
}

// RawRequest is the body of POST /api/v1/queue/raw
type RawRequest struct {
	QBXML string `json:"qbxml"`
}

// ListQueue handles GET /api/v1/queue
func (h *APIHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.QueueStatus(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// EnqueueInventoryQuery handles POST /api/v1/queue/inventory-query
func (h *APIHandler) EnqueueInventoryQuery(w http.ResponseWriter, r *http.Request) {
	var req service.QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.svc.EnqueueInventoryQuery(r.Context(), model.SourceAPI, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// EnqueueRaw handles POST /api/v1/queue/raw
func (h *APIHandler) EnqueueRaw(w http.ResponseWriter, r *http.Request) {
	var req RawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.svc.EnqueueRaw(r.Context(), model.SourceAPI, req.QBXML)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// ClearCurrent handles DELETE /api/v1/queue/current
func (h *APIHandler) ClearCurrent(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.svc.ClearCurrent(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cleared)
}

// PlanOutbound handles POST /api/v1/sync/outbound/plan
func (h *APIHandler) PlanOutbound(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.PlanOutbound(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// ApplyOutbound handles POST /api/v1/sync/outbound/apply[?async=true]
func (h *APIHandler) ApplyOutbound(w http.ResponseWriter, r *http.Request) {
	async := parseQueryBool(r, "async")
	result, err := h.svc.ApplyOutbound(r.Context(), async)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if async {
		writeJSON(w, http.StatusAccepted, result)
		return
	}
	writeJSON(w, http.StatusOK, result.Result)
}

// RunInbound handles POST /api/v1/sync/inbound[?dry_run=true]
func (h *APIHandler) RunInbound(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.RunInbound(r.Context(), parseQueryBool(r, "dry_run"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// ListPending handles GET /api/v1/pending
func (h *APIHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending := h.svc.ListPending()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(pending),
		"pending": pending,
	})
}

// ClearPending handles DELETE /api/v1/pending/{sku}
func (h *APIHandler) ClearPending(w http.ResponseWriter, r *http.Request) {
	sku := r.PathValue("sku")
	if err := h.svc.ClearPending(r.Context(), sku); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *APIHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, ok := h.svc.Task(id)
	if !ok {
		writeError(w, r, apperr.NotFound("task not found", map[string]any{"id": id}))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GetAudit handles GET /api/v1/audit/{kind}[?history=true&limit=n]
func (h *APIHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if !slices.Contains(service.AuditKinds(), kind) {
		writeError(w, r, apperr.BadInput("unknown audit kind", map[string]any{
			"kind":    kind,
			"allowed": service.AuditKinds(),
		}))
		return
	}

	if parseQueryBool(r, "history") {
		docs, err := h.svc.AuditHistory(r.Context(), kind, parseQueryInt(r, "limit", 20))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, docs)
		return
	}

	record, err := h.svc.LatestAudit(kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(record)
}
