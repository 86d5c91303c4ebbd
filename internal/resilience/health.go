package resilience

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name    string                 `json:"name"`
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Latency time.Duration          `json:"latency_ns"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck represents a health check function.
type HealthCheck func(ctx context.Context) ComponentHealth

type namedCheck struct {
	name  string
	check HealthCheck
}

// HealthChecker runs registered checks on demand and folds them into one
// status: any unhealthy component makes the system unhealthy, any degraded
// one makes it degraded.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
	started time.Time
}

// NewHealthChecker creates a checker. Each run is bounded by timeout.
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{timeout: timeout, started: time.Now()}
}

// Register adds a named check. Checks run in registration order.
func (h *HealthChecker) Register(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

// Check runs every registered check concurrently.
func (h *HealthChecker) Check(ctx context.Context) SystemHealth {
	h.mu.RLock()
	checks := append([]namedCheck(nil), h.checks...)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]ComponentHealth, len(checks))
	var wg conc.WaitGroup
	for i, c := range checks {
		i, c := i, c
		wg.Go(func() {
			results[i] = runCheck(ctx, c)
		})
	}
	wg.Wait()

	status := HealthStatusHealthy
	for _, r := range results {
		switch r.Status {
		case HealthStatusUnhealthy:
			status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if status == HealthStatusHealthy {
				status = HealthStatusDegraded
			}
		}
	}

	return SystemHealth{
		Status:     status,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		StartTime:  h.started,
		Components: results,
		Goroutines: runtime.NumGoroutine(),
	}
}

// runCheck times one check and turns a panic into an unhealthy result.
func runCheck(ctx context.Context, c namedCheck) (health ComponentHealth) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			health = ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("check panicked: %v", r),
			}
		}
		health.Name = c.name
		health.Latency = time.Since(start)
	}()
	return c.check(ctx)
}

// SystemHealth represents overall system health.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Uptime     string            `json:"uptime"`
	StartTime  time.Time         `json:"start_time"`
	Components []ComponentHealth `json:"components"`
	Goroutines int               `json:"goroutines"`
}

// Healthy reports whether the system can serve requests, possibly degraded.
func (s SystemHealth) Healthy() bool {
	return s.Status != HealthStatusUnhealthy
}

// StoreHealthCheck reports a storage backend unhealthy when ping fails.
func StoreHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		if err := ping(ctx); err != nil {
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("store unavailable: %v", err),
			}
		}
		latency := time.Since(start)
		if latency > 500*time.Millisecond {
			return ComponentHealth{
				Status:  HealthStatusDegraded,
				Message: fmt.Sprintf("store slow: %v", latency.Round(time.Millisecond)),
			}
		}
		return ComponentHealth{Status: HealthStatusHealthy}
	}
}

// GatewayHealthCheck reports the brokerage gateway. An open breaker or a
// logged-out session only degrades the system; watchlists still work from
// stored data.
func GatewayHealthCheck(authenticated func(ctx context.Context) bool, stats func() Stats) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		s := stats()
		health := ComponentHealth{
			Status:  HealthStatusHealthy,
			Details: map[string]interface{}{"breaker": s},
		}

		if s.State == CircuitOpen {
			health.Status = HealthStatusDegraded
			health.Message = "circuit breaker open, gateway calls are failing fast"
			health.Details["authenticated"] = false
			return health
		}

		auth := authenticated(ctx)
		health.Details["authenticated"] = auth
		switch {
		case !auth:
			health.Status = HealthStatusDegraded
			health.Message = "gateway session is not authenticated"
		case s.State == CircuitHalfOpen:
			health.Status = HealthStatusDegraded
			health.Message = "circuit breaker recovering"
		}
		return health
	}
}
