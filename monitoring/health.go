package monitoring

import (
	"context"
	"sync"
	"time"
)

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
	Degraded  HealthStatus = "degraded"
)

type HealthCheck struct {
	Name        string       `json:"name"`
	Status      HealthStatus `json:"status"`
	Duration    string       `json:"duration"`
	LastChecked time.Time    `json:"last_checked"`
	Error       string       `json:"error,omitempty"`
}

type check struct {
	fn       func(context.Context) error
	critical bool
}

// HealthChecker runs named checks. A failing critical check makes the service
// unhealthy; a failing optional one (the Redis cache) only degrades it.
type HealthChecker struct {
	checks map[string]check
	mu     sync.RWMutex
}

func CreateHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]check),
	}
}

func (hc *HealthChecker) AddCheck(name string, fn func(context.Context) error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check{fn: fn, critical: true}
}

func (hc *HealthChecker) AddOptionalCheck(name string, fn func(context.Context) error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check{fn: fn, critical: false}
}

func (hc *HealthChecker) runCheck(ctx context.Context, name string, c check) HealthCheck {
	start := time.Now()
	err := c.fn(ctx)

	result := HealthCheck{
		Name:        name,
		Status:      Healthy,
		Duration:    time.Since(start).String(),
		LastChecked: time.Now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
		result.Status = Unhealthy
		if !c.critical {
			result.Status = Degraded
		}
	}
	return result
}

func (hc *HealthChecker) RunAllChecks(ctx context.Context) map[string]HealthCheck {
	hc.mu.RLock()
	snapshot := make(map[string]check, len(hc.checks))
	for name, c := range hc.checks {
		snapshot[name] = c
	}
	hc.mu.RUnlock()

	results := make(map[string]HealthCheck, len(snapshot))
	for name, c := range snapshot {
		results[name] = hc.runCheck(ctx, name, c)
	}
	return results
}

func OverallStatus(checks map[string]HealthCheck) HealthStatus {
	status := Healthy
	for _, c := range checks {
		switch c.Status {
		case Unhealthy:
			return Unhealthy
		case Degraded:
			status = Degraded
		}
	}
	return status
}

type SystemHealth struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]HealthCheck `json:"checks"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
}

type HealthService struct {
	checker   *HealthChecker
	startTime time.Time
	version   string
}

func CreateHealthService(version string) *HealthService {
	return &HealthService{
		checker:   CreateHealthChecker(),
		startTime: time.Now(),
		version:   version,
	}
}

func (hs *HealthService) AddCheck(name string, fn func(context.Context) error) {
	hs.checker.AddCheck(name, fn)
}

func (hs *HealthService) AddOptionalCheck(name string, fn func(context.Context) error) {
	hs.checker.AddOptionalCheck(name, fn)
}

func (hs *HealthService) GetHealth(ctx context.Context) SystemHealth {
	checks := hs.checker.RunAllChecks(ctx)

	return SystemHealth{
		Status:    OverallStatus(checks),
		Timestamp: time.Now().UTC(),
		Checks:    checks,
		Uptime:    time.Since(hs.startTime).Truncate(time.Second).String(),
		Version:   hs.version,
	}
}
