package observability

import (
	"context"
	"sync"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult is the result of a single check.
type HealthCheckResult struct {
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration"`
}

// HealthReport aggregates all checks.
type HealthReport struct {
	Status    HealthStatus                 `json:"status"`
	Timestamp time.Time                    `json:"timestamp"`
	Checks    map[string]HealthCheckResult `json:"checks,omitempty"`
}

type healthCheck struct {
	ping     func(ctx context.Context) error
	critical bool
}

// HealthRegistry runs dependency checks for health endpoints.
type HealthRegistry struct {
	mu     sync.RWMutex
	checks map[string]healthCheck
}

// NewHealthRegistry creates an empty registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{checks: make(map[string]healthCheck)}
}

// Register adds a check. A failing critical check makes the report unhealthy,
// a failing non-critical one only degraded.
func (r *HealthRegistry) Register(name string, critical bool, ping func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = healthCheck{ping: ping, critical: critical}
}

// Check runs all checks concurrently.
func (r *HealthRegistry) Check(ctx context.Context) HealthReport {
	r.mu.RLock()
	checks := make(map[string]healthCheck, len(r.checks))
	for name, c := range r.checks {
		checks[name] = c
	}
	r.mu.RUnlock()

	report := HealthReport{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]HealthCheckResult, len(checks)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, c := range checks {
		wg.Add(1)
		go func(name string, c healthCheck) {
			defer wg.Done()
			start := time.Now()
			err := c.ping(ctx)
			result := HealthCheckResult{Status: HealthStatusHealthy, Duration: time.Since(start).String()}
			if err != nil {
				result.Message = err.Error()
				result.Status = HealthStatusDegraded
				if c.critical {
					result.Status = HealthStatusUnhealthy
				}
			}

			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = result
			report.Status = worse(report.Status, result.Status)
		}(name, c)
	}
	wg.Wait()

	return report
}

func worse(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthStatusHealthy: 0, HealthStatusDegraded: 1, HealthStatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
