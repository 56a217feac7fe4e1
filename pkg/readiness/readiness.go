// Package readiness aggregates dependency checks into one ready/not-ready
// verdict shared by the HTTP and gRPC health surfaces.
package readiness

import (
	"context"
	"sync"
	"time"
)

// DefaultTimeout bounds one round of checks.
const DefaultTimeout = 2 * time.Second

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// Report is the outcome of one round of checks.
type Report struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

type namedCheck struct {
	name  string
	check Check
}

// Checker runs registered checks in registration order.
type Checker struct {
	timeout time.Duration

	mu     sync.RWMutex
	checks []namedCheck
}

// New creates a checker. A non-positive timeout uses DefaultTimeout.
func New(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{timeout: timeout}
}

// Add registers a check under name. Nil checks are ignored.
func (c *Checker) Add(name string, check Check) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

// Run executes every check. A checker without checks is ready.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	report := Report{Ready: true, Checks: make(map[string]string, len(checks))}
	for _, nc := range checks {
		if err := nc.check(ctx); err != nil {
			report.Checks[nc.name] = err.Error()
			report.Ready = false
			continue
		}
		report.Checks[nc.name] = "ok"
	}
	return report
}
