// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mindwell/convomem/pkg/api/middleware"
	"github.com/mindwell/convomem/pkg/api/models"
	"github.com/mindwell/convomem/pkg/api/response"
	"github.com/mindwell/convomem/pkg/coach"
	"github.com/mindwell/convomem/pkg/logger"
	"github.com/mindwell/convomem/pkg/storage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// SessionHandler handles coaching session endpoints.
type SessionHandler struct {
	coach     *coach.Service
	store     storage.Storage
	logger    logger.Logger
	validator *validator.Validate
}

// NewSessionHandler creates a new session handler. store may be nil, in
// which case listings cover live sessions only.
func NewSessionHandler(svc *coach.Service, store storage.Storage, log logger.Logger) *SessionHandler {
	return &SessionHandler{
		coach:     svc,
		store:     store,
		logger:    log,
		validator: validator.New(),
	}
}

// SubmitTurn handles POST /api/v1/sessions/{sessionID}/turns
func (h *SessionHandler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	var req models.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}

	out, err := h.coach.Turn(ctx, coach.TurnRequest{
		SessionID: sessionID,
		Turn:      req.TurnNumber,
		Message:   req.Message,
		Response:  req.Response,
		Emotion:   req.Emotion,
		Intensity: req.Intensity,
		Technique: req.Technique,
	})
	if err != nil {
		h.writeError(w, ctx, "Failed to apply turn", sessionID, err)
		return
	}

	response.JSON(w, http.StatusOK, out)
}

// GetGuidance handles GET /api/v1/sessions/{sessionID}/guidance
func (h *SessionHandler) GetGuidance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	g, err := h.coach.Guidance(ctx, sessionID, r.URL.Query().Get("message"))
	if err != nil {
		h.writeError(w, ctx, "Failed to build guidance", sessionID, err)
		return
	}

	response.JSON(w, http.StatusOK, g)
}

// AddGoal handles POST /api/v1/sessions/{sessionID}/goals
func (h *SessionHandler) AddGoal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	var req models.GoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}

	if err := h.coach.AddGoal(ctx, sessionID, req.Goal); err != nil {
		h.writeError(w, ctx, "Failed to add goal", sessionID, err)
		return
	}

	response.JSON(w, http.StatusCreated, map[string]string{
		"message": "Goal recorded",
	})
}

// GetSession handles GET /api/v1/sessions/{sessionID}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	snap, err := h.coach.Session(ctx, sessionID)
	if err != nil {
		h.writeError(w, ctx, "Failed to get session", sessionID, err)
		return
	}

	response.JSON(w, http.StatusOK, snap)
}

// GetContext handles GET /api/v1/sessions/{sessionID}/context
func (h *SessionHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	text, err := h.coach.ContextString(ctx, sessionID)
	if err != nil {
		h.writeError(w, ctx, "Failed to render context", sessionID, err)
		return
	}

	response.JSON(w, http.StatusOK, models.ContextResponse{SessionID: sessionID, Context: text})
}

// EndSession handles POST /api/v1/sessions/{sessionID}/end
func (h *SessionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	var req models.EndSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
			return
		}
		if err := h.validator.Struct(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
			return
		}
	}

	summary, err := h.coach.EndSession(ctx, sessionID, req.TurnNumber)
	if err != nil {
		h.writeError(w, ctx, "Failed to end session", sessionID, err)
		return
	}

	response.JSON(w, http.StatusOK, summary)
}

// ClearSession handles DELETE /api/v1/sessions/{sessionID}
func (h *SessionHandler) ClearSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	if !h.coach.Clear(sessionID) {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Session not found", getRequestID(ctx))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSessions handles GET /api/v1/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := &storage.SessionFilter{
		Limit:  defaultListLimit,
		Offset: 0,
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = []string{status}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = min(limit, maxListLimit)
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	var (
		rows  []models.SessionSummary
		total int
	)
	if h.store != nil {
		records, n, err := h.store.ListSessions(ctx, filter)
		if err != nil {
			h.logger.Error("Failed to list sessions", "error", err)
			response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to list sessions", getRequestID(ctx))
			return
		}
		total = n
		rows = make([]models.SessionSummary, 0, len(records))
		for _, rec := range records {
			rows = append(rows, models.SessionSummary{
				ID:             rec.ID,
				Status:         rec.Status,
				Phase:          rec.Memory.Phase.String(),
				TotalExchanges: rec.Memory.TotalExchanges,
				CreatedAt:      rec.CreatedAt,
				UpdatedAt:      rec.UpdatedAt,
				EndedAt:        rec.EndedAt,
			})
		}
	} else {
		var live []models.SessionSummary
		for _, snap := range h.coach.Sessions() {
			rec := models.SessionSummary{
				ID:             snap.SessionID,
				Status:         storage.StatusActive,
				Phase:          snap.Phase.String(),
				TotalExchanges: snap.TotalExchanges,
				CreatedAt:      snap.CreatedAt,
				UpdatedAt:      snap.LastActivity,
			}
			if filter.Matches(&storage.SessionRecord{Status: rec.Status}) {
				live = append(live, rec)
			}
		}
		total = len(live)
		rows = storage.Page(live, filter)
	}
	if rows == nil {
		rows = []models.SessionSummary{}
	}

	response.JSON(w, http.StatusOK, models.SessionListResponse{
		Sessions: rows,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	})
}

func (h *SessionHandler) writeError(w http.ResponseWriter, ctx context.Context, msg, sessionID string, err error) {
	status := response.HTTPStatusFromError(err)
	switch status {
	case http.StatusInternalServerError:
		h.logger.ErrorContext(ctx, msg, "session_id", sessionID, "error", err)
	case http.StatusNotFound:
		msg = "Session not found"
	default:
		msg = err.Error()
	}
	response.Error(w, status, response.ErrorCodeFromStatus(status), msg, getRequestID(ctx))
}

// getRequestID extracts request ID from context
func getRequestID(ctx context.Context) string {
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		return reqID
	}
	return "unknown"
}
