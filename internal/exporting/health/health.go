// Package health reports the state of a running export over HTTP.
package health

import (
	"context"

	"github.com/vietddude/txexport/internal/exporting/dispatcher"
	"github.com/vietddude/txexport/internal/infra/rpc/budget"
	"github.com/vietddude/txexport/internal/infra/rpc/provider"
)

// SystemStatus represents the overall health state of the exporter.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Report is the JSON body served by /health/detailed.
type Report struct {
	Status   SystemStatus          `json:"status"`
	Address  string                `json:"address,omitempty"`
	Pipeline dispatcher.Stats      `json:"pipeline"`
	Provider provider.HealthStatus `json:"provider"`
	Budget   *budget.UsageStats    `json:"budget,omitempty"`
}

// StatsSource exposes the dispatcher counters.
type StatsSource interface {
	Snapshot() dispatcher.Stats
}

// ProviderSource exposes the RPC provider health.
type ProviderSource interface {
	GetHealth() provider.HealthStatus
}

// BudgetSource exposes compute unit usage.
type BudgetSource interface {
	GetUsage() budget.UsageStats
}

// Monitor assembles reports from the pipeline and the provider.
type Monitor struct {
	stats    StatsSource
	provider ProviderSource
	address  func() string
	budget   BudgetSource
}

// NewMonitor creates a monitor. address may be nil.
func NewMonitor(stats StatsSource, prov ProviderSource, address func() string) *Monitor {
	return &Monitor{stats: stats, provider: prov, address: address}
}

// WithBudget adds compute unit usage to the report.
func (m *Monitor) WithBudget(src BudgetSource) *Monitor {
	m.budget = src
	return m
}

// CheckHealth builds a report. A blocked provider or a spent budget is
// critical; a throttled or unavailable provider is degraded.
func (m *Monitor) CheckHealth(_ context.Context) Report {
	report := Report{Status: StatusHealthy}
	if m.stats != nil {
		report.Pipeline = m.stats.Snapshot()
	}
	if m.address != nil {
		report.Address = m.address()
	}
	if m.budget != nil {
		usage := m.budget.GetUsage()
		report.Budget = &usage
		if usage.DailyLimit > 0 && usage.Remaining == 0 {
			report.Status = StatusCritical
			return report
		}
	}
	if m.provider == nil {
		return report
	}

	report.Provider = m.provider.GetHealth()
	status := ""
	if report.Provider.MonitorStats != nil {
		status = report.Provider.MonitorStats.Status
	}
	switch {
	case status == provider.StatusBlocked.String():
		report.Status = StatusCritical
	case status == provider.StatusThrottled.String(), !report.Provider.Available:
		report.Status = StatusDegraded
	}
	return report
}
