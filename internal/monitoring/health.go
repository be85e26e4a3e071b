package monitoring

import (
	"context"
	"sync"
	"time"
)

// HealthChecker aggregates component probes into a single status for the
// health endpoint. Components register once at startup.
type HealthChecker interface {
	CheckHealth(ctx context.Context) *HealthStatus
	RegisterCheck(name string, check CheckFunc, timeout time.Duration)
}

// CheckFunc probes a single dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

type HealthStatus struct {
	Status     string                      `json:"status"`
	Timestamp  time.Time                   `json:"timestamp"`
	Uptime     string                      `json:"uptime"`
	Version    string                      `json:"version"`
	Components map[string]*ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Duration    string    `json:"duration"`
	Error       string    `json:"error,omitempty"`
}

type registeredCheck struct {
	check   CheckFunc
	timeout time.Duration
}

type healthChecker struct {
	checks    map[string]registeredCheck
	startTime time.Time
	version   string
	mutex     sync.RWMutex
}

func NewHealthChecker(version string) HealthChecker {
	return &healthChecker{
		checks:    make(map[string]registeredCheck),
		startTime: time.Now(),
		version:   version,
	}
}

func (h *healthChecker) RegisterCheck(name string, check CheckFunc, timeout time.Duration) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	h.checks[name] = registeredCheck{check: check, timeout: timeout}
}

func (h *healthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	overall := "healthy"
	components := make(map[string]*ComponentHealth, len(h.checks))

	for name, rc := range h.checks {
		components[name] = h.runCheck(ctx, rc)
		if components[name].Status != "healthy" {
			overall = "degraded"
		}
	}
	// The service cannot work without its primary store.
	if c, ok := components["mongodb"]; ok && c.Status != "healthy" {
		overall = "unhealthy"
	}

	return &HealthStatus{
		Status:     overall,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.startTime).String(),
		Version:    h.version,
		Components: components,
	}
}

func (h *healthChecker) runCheck(ctx context.Context, rc registeredCheck) *ComponentHealth {
	checkCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	start := time.Now()
	err := rc.check(checkCtx)
	duration := time.Since(start)

	health := &ComponentHealth{
		Status:      "healthy",
		LastChecked: time.Now(),
		Duration:    duration.String(),
	}
	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	}
	return health
}
