// Package health reports dependency liveness over HTTP and hosts the
// Prometheus scrape endpoint.
package health

import (
	"context"
	"time"
)

// Status represents the health status of the service.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Check probes one dependency. Critical checks gate writes; a failing
// critical check marks the whole service critical, a failing non-critical
// check only degrades it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report aggregates all probe outcomes.
type Report struct {
	Status    Status        `json:"status"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Monitor runs the registered checks on demand.
type Monitor struct {
	checks  []Check
	timeout time.Duration
}

// NewMonitor creates a monitor over the given checks.
func NewMonitor(checks ...Check) *Monitor {
	return &Monitor{checks: checks, timeout: 5 * time.Second}
}

// CheckHealth probes every dependency and aggregates the worst outcome.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	report := Report{
		Status:    StatusHealthy,
		CheckedAt: time.Now().UTC(),
	}

	for _, check := range m.checks {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		start := time.Now()
		err := check.Probe(probeCtx)
		cancel()

		result := CheckResult{
			Name:      check.Name,
			Status:    StatusHealthy,
			LatencyMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			result.Error = err.Error()
			if check.Critical {
				result.Status = StatusCritical
				report.Status = StatusCritical
			} else {
				result.Status = StatusDegraded
				if report.Status != StatusCritical {
					report.Status = StatusDegraded
				}
			}
		}
		report.Checks = append(report.Checks, result)
	}
	return report
}
