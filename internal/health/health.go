// Package health runs registered liveness checks and keeps a bounded history
// of aggregate reports.
//
// A Check returns nil when healthy, an error wrapping ErrDegraded when it
// works but is close to a limit, and any other error when it fails. The
// overall status is unhealthy as soon as one critical check fails.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wilologistics/keeper/internal/stats"
)

// Defaults.
const (
	DefaultInterval    = time.Minute
	DefaultHistorySize = 1000
)

var (
	// ErrDegraded marks a check result that is a warning rather than a failure.
	ErrDegraded = errors.New("degraded")

	// ErrUnknownCheck is returned by RunCheck for an unregistered name.
	ErrUnknownCheck = errors.New("health: unknown check")
)

// Check is a single named health check.
type Check interface {
	// Name identifies the check in reports. It must be unique per Monitor.
	Name() string

	// Run performs the check.
	Run(ctx context.Context) error
}

// Status is the outcome of a check or of a whole report.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Result is the outcome of one check run.
type Result struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Critical  bool          `json:"critical"`
	Duration  time.Duration `json:"duration"`
	CheckedAt time.Time     `json:"checked_at"`
	Message   string        `json:"message,omitempty"`
}

// Report aggregates one run of every check.
type Report struct {
	Timestamp      time.Time         `json:"timestamp"`
	Status         Status            `json:"status"`
	OverallHealth  float64           `json:"overall_health"`
	CriticalIssues int               `json:"critical_issues"`
	Checks         map[string]Result `json:"checks"`
	Issues         []string          `json:"issues,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
}

// Healthy reports whether no critical check failed.
func (r Report) Healthy() bool {
	return r.Status != StatusUnhealthy
}

type registered struct {
	check    Check
	critical bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithHistorySize bounds the number of reports kept.
func WithHistorySize(n int) Option {
	return func(m *Monitor) { m.historySize = n }
}

// WithCollector sets the stats collector.
func WithCollector(c stats.Collector) Option {
	return func(m *Monitor) { m.collector = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor owns a set of checks and the history of their reports.
type Monitor struct {
	historySize int
	collector   stats.Collector
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	checks  []registered
	history []Report
}

// NewMonitor creates a monitor with no checks.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		historySize: DefaultHistorySize,
		collector:   stats.NewNoop(),
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.historySize <= 0 {
		m.historySize = DefaultHistorySize
	}
	return m
}

// Register adds c, replacing any check with the same name. When critical is
// true a failure of c makes the whole report unhealthy.
func (m *Monitor) Register(c Check, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.checks {
		if r.check.Name() == c.Name() {
			m.checks[i] = registered{check: c, critical: critical}
			return
		}
	}
	m.checks = append(m.checks, registered{check: c, critical: critical})
	m.logger.Debug("health check registered", zap.String("check", c.Name()), zap.Bool("critical", critical))
}

// Unregister removes the named check and reports whether it existed.
func (m *Monitor) Unregister(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.checks {
		if r.check.Name() == name {
			m.checks = append(m.checks[:i], m.checks[i+1:]...)
			return true
		}
	}
	return false
}

// Names returns the registered check names in sorted order.
func (m *Monitor) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.checks))
	for _, r := range m.checks {
		names = append(names, r.check.Name())
	}
	sort.Strings(names)
	return names
}

// RunCheck runs the named check.
func (m *Monitor) RunCheck(ctx context.Context, name string) (Result, error) {
	m.mu.Lock()
	var found *registered
	for i := range m.checks {
		if m.checks[i].check.Name() == name {
			r := m.checks[i]
			found = &r
			break
		}
	}
	m.mu.Unlock()

	if found == nil {
		return Result{}, fmt.Errorf("%q: %w", name, ErrUnknownCheck)
	}
	return m.run(ctx, *found), nil
}

// Run runs every check, or only the critical ones, and returns the results
// by name. It does not record a report.
func (m *Monitor) Run(ctx context.Context, onlyCritical bool) map[string]Result {
	m.mu.Lock()
	checks := append([]registered(nil), m.checks...)
	m.mu.Unlock()

	results := make(map[string]Result, len(checks))
	for _, r := range checks {
		if onlyCritical && !r.critical {
			continue
		}
		results[r.check.Name()] = m.run(ctx, r)
	}
	return results
}

func (m *Monitor) run(ctx context.Context, r registered) Result {
	start := m.now()
	err := r.check.Run(ctx)
	elapsed := m.now().Sub(start)

	res := Result{
		Name:      r.check.Name(),
		Status:    StatusHealthy,
		Critical:  r.critical,
		Duration:  elapsed,
		CheckedAt: start,
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrDegraded):
		res.Status = StatusDegraded
		res.Message = err.Error()
		m.logger.Warn("health check degraded", zap.String("check", res.Name), zap.Error(err))
	default:
		res.Status = StatusUnhealthy
		res.Message = err.Error()
		m.collector.IncCounter(stats.MetricHealthCheckFailures, 1)
		m.logger.Warn("health check failed", zap.String("check", res.Name), zap.Error(err))
	}
	m.collector.ObserveHistogram(stats.MetricHealthCheckDuration, elapsed.Seconds())
	return res
}

// Status runs every check, records the report in the history and returns it.
// OverallHealth is the percentage of checks that did not fail, 100 with no
// checks registered.
func (m *Monitor) Status(ctx context.Context) Report {
	results := m.Run(ctx, false)

	rep := Report{
		Timestamp:     m.now(),
		Status:        StatusHealthy,
		OverallHealth: 100,
		Checks:        results,
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var ok int
	for _, name := range names {
		res := results[name]
		switch res.Status {
		case StatusUnhealthy:
			rep.Issues = append(rep.Issues, fmt.Sprintf("%s: %s", name, res.Message))
			if res.Critical {
				rep.CriticalIssues++
				rep.Status = StatusUnhealthy
			}
		case StatusDegraded:
			ok++
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: %s", name, res.Message))
		default:
			ok++
		}
	}
	if len(results) > 0 {
		rep.OverallHealth = float64(ok) / float64(len(results)) * 100
	}
	if rep.Status == StatusHealthy && (len(rep.Issues) > 0 || len(rep.Warnings) > 0) {
		rep.Status = StatusDegraded
	}

	m.collector.SetGauge(stats.MetricHealthPercent, int64(rep.OverallHealth))

	m.mu.Lock()
	m.history = append(m.history, rep)
	if over := len(m.history) - m.historySize; over > 0 {
		m.history = append([]Report(nil), m.history[over:]...)
	}
	m.mu.Unlock()

	return rep
}

// History returns the reports recorded within window, oldest first.
// A non-positive window returns the whole history.
func (m *Monitor) History(window time.Duration) []Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if window <= 0 {
		return append([]Report(nil), m.history...)
	}
	cutoff := m.now().Add(-window)
	var out []Report
	for _, r := range m.history {
		if r.Timestamp.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}
