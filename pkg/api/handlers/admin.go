package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mindwell/convomem/pkg/api/models"
	"github.com/mindwell/convomem/pkg/api/response"
	"github.com/mindwell/convomem/pkg/coach"
	"github.com/mindwell/convomem/pkg/cognition"
	"github.com/mindwell/convomem/pkg/conversation"
	"github.com/mindwell/convomem/pkg/logger"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 200
	detailEventLimit  = 100
)

// AdminHandler serves the dashboard endpoints.
type AdminHandler struct {
	coach  *coach.Service
	events *cognition.Store
	logger logger.Logger
	now    func() time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(svc *coach.Service, events *cognition.Store, log logger.Logger) *AdminHandler {
	return &AdminHandler{
		coach:  svc,
		events: events,
		logger: log,
		now:    time.Now,
	}
}

// Overview handles GET /api/v1/admin/sessions
func (h *AdminHandler) Overview(w http.ResponseWriter, r *http.Request) {
	sessions, stats := conversation.Overview(h.coach.Sessions(), h.now())
	if sessions == nil {
		sessions = []conversation.SessionOverview{}
	}
	response.JSON(w, http.StatusOK, models.OverviewResponse{
		Sessions: sessions,
		Stats:    stats,
	})
}

// Events handles GET /api/v1/admin/events
func (h *AdminHandler) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultEventLimit
	if limitStr := q.Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 || n > maxEventLimit {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
				"limit must be between 1 and "+strconv.Itoa(maxEventLimit), getRequestID(r.Context()))
			return
		}
		limit = n
	}

	matched := h.events.Query(cognition.Query{
		SessionID: q.Get("session_id"),
		EventType: q.Get("event_type"),
	})
	total := len(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}

	response.JSON(w, http.StatusOK, models.EventsResponse{
		Events: matched,
		Total:  total,
	})
}

// SessionDetail handles GET /api/v1/admin/sessions/{sessionID}
func (h *AdminHandler) SessionDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	snap, err := h.coach.Session(ctx, sessionID)
	if err != nil {
		h.writeLookupError(w, r, sessionID, err)
		return
	}
	text, err := h.coach.ContextString(ctx, sessionID)
	if err != nil {
		h.writeLookupError(w, r, sessionID, err)
		return
	}

	response.JSON(w, http.StatusOK, models.SessionDetailResponse{
		SessionID:     sessionID,
		Memory:        snap,
		Events:        h.events.Query(cognition.Query{SessionID: sessionID, Limit: detailEventLimit}),
		ContextString: text,
	})
}

// EmotionAnalytics handles GET /api/v1/admin/analytics/emotions
func (h *AdminHandler) EmotionAnalytics(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, conversation.Emotions(h.coach.Sessions()))
}

// TechniqueAnalytics handles GET /api/v1/admin/analytics/techniques
func (h *AdminHandler) TechniqueAnalytics(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, conversation.Techniques(h.coach.Sessions()))
}

func (h *AdminHandler) writeLookupError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	status := response.HTTPStatusFromError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Failed to load session", "session_id", sessionID, "error", err)
		msg = "Failed to load session"
	}
	response.Error(w, status, response.ErrorCodeFromStatus(status), msg, getRequestID(r.Context()))
}
