package handlers

import (
	"net/http"
	"time"

	"github.com/mindwell/convomem/pkg/api/response"
	"github.com/mindwell/convomem/pkg/coach"
	"github.com/mindwell/convomem/pkg/readiness"
	"github.com/mindwell/convomem/pkg/version"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	coach   *coach.Service
	checker *readiness.Checker
	started time.Time
}

// NewHealthHandler creates a new health handler. svc and checker may be nil.
func NewHealthHandler(svc *coach.Service, checker *readiness.Checker) *HealthHandler {
	if checker == nil {
		checker = readiness.New(0)
	}
	return &HealthHandler{
		coach:   svc,
		checker: checker,
		started: time.Now(),
	}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Run(r.Context())
	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, report)
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Run(r.Context())
	state := "running"
	if !report.Ready {
		state = "degraded"
	}
	active := 0
	if h.coach != nil {
		active = len(h.coach.Sessions())
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"state":           state,
		"version":         version.Get(),
		"uptime":          time.Since(h.started).Round(time.Second).String(),
		"active_sessions": active,
		"checks":          report.Checks,
	})
}
