package grpc

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mindwell/convomem/pkg/logger"
	"github.com/mindwell/convomem/pkg/readiness"
)

// HealthServer wraps the gRPC health check server
type HealthServer struct {
	server *health.Server
}

// NewHealthServer creates a new health check server
func NewHealthServer() *HealthServer {
	return &HealthServer{
		server: health.NewServer(),
	}
}

// SetServingStatus sets the serving status for a service
func (h *HealthServer) SetServingStatus(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus(service, status)
}

// SetServingStatusAll sets the serving status for all services
func (h *HealthServer) SetServingStatusAll(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
}

// Shutdown gracefully shuts down the health server
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}

// Resume resumes the health server
func (h *HealthServer) Resume() {
	h.server.Resume()
}

// GetServer returns the underlying health server for registration
func (h *HealthServer) GetServer() *health.Server {
	return h.server
}

// DefaultHealthPollInterval is how often HealthMonitor re-runs readiness.
const DefaultHealthPollInterval = 5 * time.Second

// HealthMonitor mirrors readiness checks into the health service. The
// overall service ("") is SERVING only while every check passes; each check
// is also exposed under its own name.
type HealthMonitor struct {
	health   *HealthServer
	checker  *readiness.Checker
	interval time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	last    map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHealthMonitor creates a monitor. A non-positive interval uses
// DefaultHealthPollInterval.
func NewHealthMonitor(health *HealthServer, checker *readiness.Checker, interval time.Duration, log logger.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultHealthPollInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &HealthMonitor{
		health:   health,
		checker:  checker,
		interval: interval,
		logger:   log,
		last:     make(map[string]grpc_health_v1.HealthCheckResponse_ServingStatus),
	}
}

// Start runs one refresh immediately and then polls in the background.
func (m *HealthMonitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.started = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.Refresh(ctx)
	go m.loop(ctx)
}

// Stop halts polling and waits for the loop to exit.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Refresh runs the checks once and updates every serving status.
func (m *HealthMonitor) Refresh(ctx context.Context) readiness.Report {
	report := m.checker.Run(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.set("", servingStatus(report.Ready))
	for name, result := range report.Checks {
		m.set(name, servingStatus(result == "ok"))
	}
	return report
}

func (m *HealthMonitor) set(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	if prev, ok := m.last[service]; ok && prev == status {
		return
	}
	m.last[service] = status
	m.health.SetServingStatus(service, status)

	if service == "" {
		m.logger.Info("gRPC health status changed", "status", status.String())
	} else {
		m.logger.Debug("gRPC health status changed", "service", service, "status", status.String())
	}
}

func servingStatus(ok bool) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if ok {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}
