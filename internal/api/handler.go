package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/skoll/groundcontrol/internal/agent"
	"github.com/skoll/groundcontrol/internal/approval"
	"github.com/skoll/groundcontrol/internal/audit"
	"github.com/skoll/groundcontrol/internal/task"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	tasks   *task.Manager
	gate    *approval.Gate
	monitor *agent.Monitor
	trail   *audit.Trail
	logger  *zap.Logger

	// keepalive is the idle-frame interval on event streams. Tests
	// shrink it.
	keepalive time.Duration
}

// NewHandler creates a new API handler. trail may be nil when the audit
// backend is not configured.
func NewHandler(tasks *task.Manager, gate *approval.Gate, monitor *agent.Monitor, trail *audit.Trail, logger *zap.Logger) *Handler {
	return &Handler{
		tasks:     tasks,
		gate:      gate,
		monitor:   monitor,
		trail:     trail,
		logger:    logger,
		keepalive: 30 * time.Second,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/stats", h.overviewStats)

		r.Post("/tasks", h.startTask)
		r.Get("/tasks", h.listTasks)
		r.Get("/tasks/{id}", h.getTask)
		r.Delete("/tasks/{id}", h.cancelTask)
		r.Get("/tasks/{id}/events", h.taskEvents)
		r.Get("/tasks/{id}/stream", h.streamTask)

		r.Post("/approvals", h.requestApproval)
		r.Get("/approvals/pending", h.pendingApprovals)
		r.Post("/approvals/{id}/approve", h.approveRequest)
		r.Post("/approvals/{id}/reject", h.rejectRequest)
		r.Get("/approvals/history", h.approvalHistory)
		r.Get("/approvals/stats", h.approvalStats)
		r.Get("/approvals/audit", h.approvalAudit)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Report(r.Context()))
}

func (h *Handler) overviewStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be a positive integer"})
			return
		}
		days = n
	}
	st := h.tasks.Stats(days)
	writeJSON(w, http.StatusOK, map[string]any{
		"time_window_days": days,
		"generated_at":     time.Now().UTC(),
		"tasks":            st.Tasks,
		"approvals":        h.gate.Stats(),
		"routing":          st.Routing,
		"performance":      st.Performance,
	})
}

func (h *Handler) startTask(w http.ResponseWriter, r *http.Request) {
	var req task.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	t, err := h.tasks.Start(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"task_id":        t.ID,
		"objective":      t.Objective,
		"status":         t.Status,
		"strategy":       t.Strategy,
		"max_iterations": t.MaxIterations,
		"created_at":     t.CreatedAt,
		"stream_url":     "/api/tasks/" + t.ID + "/stream",
	})
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	var status task.Status
	if v := r.URL.Query().Get("status"); v != "" {
		s, err := task.ParseStatus(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		status = s
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.tasks.List(status, limit))
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled, err := h.tasks.Cancel(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":   id,
		"cancelled": cancelled,
	})
}

func (h *Handler) taskEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.tasks.Events(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type approvalRequestBody struct {
	OperationKind  string         `json:"operation_kind"`
	Description    string         `json:"description"`
	Details        map[string]any `json:"details,omitempty"`
	TaskID         string         `json:"task_id,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
}

// requestApproval suspends the HTTP request until the approval is
// decided or its window expires. A timeout is a normal outcome on this
// surface, not an error status.
func (h *Handler) requestApproval(w http.ResponseWriter, r *http.Request) {
	var body approvalRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.OperationKind == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "operation_kind is required"})
		return
	}

	decision, err := h.gate.Request(r.Context(), approval.Spec{
		OperationKind: body.OperationKind,
		Description:   body.Description,
		Details:       body.Details,
		TaskID:        body.TaskID,
		Timeout:       time.Duration(body.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		var te *approval.TimeoutError
		if errors.As(err, &te) {
			writeJSON(w, http.StatusOK, approval.Decision{
				RequestID: te.RequestID,
				Approved:  false,
				Note:      te.Note,
				DecidedAt: te.DecidedAt,
			})
			return
		}
		// Client disconnect; the gate already rejected the request.
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) pendingApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.Pending())
}

type decisionBody struct {
	Note string `json:"note"`
}

func (h *Handler) approveRequest(w http.ResponseWriter, r *http.Request) {
	h.decideRequest(w, r, true)
}

func (h *Handler) rejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decideRequest(w, r, false)
}

func (h *Handler) decideRequest(w http.ResponseWriter, r *http.Request, approve bool) {
	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	id := chi.URLParam(r, "id")
	var ok bool
	if approve {
		ok = h.gate.Approve(id, body.Note)
	} else {
		ok = h.gate.Reject(id, body.Note)
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "approval request not found or already decided"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": id,
		"approved":   approve,
	})
}

func (h *Handler) approvalHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	status := approval.Status(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, h.gate.History(limit, status))
}

func (h *Handler) approvalStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.Stats())
}

func (h *Handler) approvalAudit(w http.ResponseWriter, r *http.Request) {
	if h.trail == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "audit trail not configured"})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	entries, err := h.trail.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("audit query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit query failed"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
