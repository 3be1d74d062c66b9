package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("unreachable") }

func TestCheckHealthAggregatesWorstCase(t *testing.T) {
	tests := []struct {
		name   string
		checks []Check
		want   Status
	}{
		{
			name: "all healthy",
			checks: []Check{
				{Name: "database", Critical: true, Probe: ok},
				{Name: "redis", Probe: ok},
			},
			want: StatusHealthy,
		},
		{
			name: "non-critical failure degrades",
			checks: []Check{
				{Name: "database", Critical: true, Probe: ok},
				{Name: "redis", Probe: down},
			},
			want: StatusDegraded,
		},
		{
			name: "critical failure wins over degraded",
			checks: []Check{
				{Name: "database", Critical: true, Probe: down},
				{Name: "redis", Probe: down},
			},
			want: StatusCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewMonitor(tt.checks...).CheckHealth(context.Background())
			if report.Status != tt.want {
				t.Errorf("status = %s, want %s", report.Status, tt.want)
			}
			if len(report.Checks) != len(tt.checks) {
				t.Errorf("reported %d checks, want %d", len(report.Checks), len(tt.checks))
			}
		})
	}
}

func TestHealthEndpointStatusCodes(t *testing.T) {
	healthy := NewServer(NewMonitor(Check{Name: "database", Critical: true, Probe: ok}), 0)
	critical := NewServer(NewMonitor(Check{Name: "database", Critical: true, Probe: down}), 0)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	rec := httptest.NewRecorder()
	healthy.handleHealth(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("healthy status code = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	critical.handleHealth(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("critical status code = %d, want 503", rec.Code)
	}
}

func TestDetailedEndpointListsChecks(t *testing.T) {
	s := NewServer(NewMonitor(
		Check{Name: "database", Critical: true, Probe: ok},
		Check{Name: "chain_rpc", Probe: down},
	), 0)

	rec := httptest.NewRecorder()
	s.handleDetailed(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", report.Status)
	}
	if len(report.Checks) != 2 || report.Checks[1].Error == "" {
		t.Errorf("checks = %+v", report.Checks)
	}
}
