// Package health aggregates per-component health into one process-wide
// status and serves it over HTTP for load balancers and orchestrators.
package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/openstarscape/starsync/component"
)

// Status is the reported health of one named component.
type Status struct {
	Component  string    `json:"component"`
	Healthy    bool      `json:"healthy"`
	Message    string    `json:"message,omitempty"`
	ErrorCount int       `json:"error_count,omitempty"`
	Uptime     string    `json:"uptime,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Report is the aggregated process health: unhealthy if any component is.
type Report struct {
	Healthy    bool     `json:"healthy"`
	Components []Status `json:"components"`
}

// Monitor polls registered components on demand. Registration order is
// irrelevant; reports are sorted by component name for stable output.
type Monitor struct {
	mu      sync.RWMutex
	checks  map[string]component.Healther
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]component.Healther)}
}

// Register adds or replaces a named component. Nil healthers are ignored.
func (m *Monitor) Register(name string, h component.Healther) {
	if h == nil {
		return
	}
	m.mu.Lock()
	m.checks[name] = h
	m.mu.Unlock()
}

// Unregister removes a component from future reports.
func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	delete(m.checks, name)
	m.mu.Unlock()
}

// Report polls every registered component.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	checks := make(map[string]component.Healther, len(m.checks))
	for name, h := range m.checks {
		checks[name] = h
	}
	m.mu.RUnlock()

	sort.Strings(names)
	report := Report{Healthy: true}
	for _, name := range names {
		hs := checks[name].Health()
		status := Status{
			Component:  name,
			Healthy:    hs.Healthy,
			Message:    hs.LastError,
			ErrorCount: hs.ErrorCount,
			Timestamp:  hs.LastCheck,
		}
		if hs.Uptime > 0 {
			status.Uptime = hs.Uptime.Round(time.Second).String()
		}
		if !hs.Healthy {
			report.Healthy = false
		}
		report.Components = append(report.Components, status)
	}
	return report
}

// Handler serves the report as JSON: 200 when healthy, 503 otherwise.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		report := m.Report()
		w.Header().Set("Content-Type", "application/json")
		if !report.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}
