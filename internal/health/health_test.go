package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wilologistics/keeper/internal/stats"
)

type fakeCheck struct {
	name string

	mu    sync.Mutex
	err   error
	calls int
}

func (c *fakeCheck) Name() string { return c.name }

func (c *fakeCheck) Run(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *fakeCheck) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *fakeCheck) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMonitor_Status(t *testing.T) {
	tests := []struct {
		name         string
		dbErr        error
		diskErr      error
		wantStatus   Status
		wantHealth   float64
		wantCritical int
	}{
		{"all healthy", nil, nil, StatusHealthy, 100, 0},
		{"non-critical failure", nil, errors.New("disk usage 97%"), StatusDegraded, 50, 0},
		{"degraded only", nil, fmt.Errorf("disk usage 88%%: %w", ErrDegraded), StatusDegraded, 100, 0},
		{"critical failure", errors.New("connection refused"), nil, StatusUnhealthy, 50, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := stats.NewMemory()
			m := NewMonitor(WithCollector(collector))
			m.Register(&fakeCheck{name: "database", err: tt.dbErr}, true)
			m.Register(&fakeCheck{name: "disk", err: tt.diskErr}, false)

			rep := m.Status(context.Background())
			if rep.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", rep.Status, tt.wantStatus)
			}
			if rep.OverallHealth != tt.wantHealth {
				t.Errorf("OverallHealth = %v, want %v", rep.OverallHealth, tt.wantHealth)
			}
			if rep.CriticalIssues != tt.wantCritical {
				t.Errorf("CriticalIssues = %d, want %d", rep.CriticalIssues, tt.wantCritical)
			}
			if rep.Healthy() != (tt.wantStatus != StatusUnhealthy) {
				t.Errorf("Healthy() = %v for status %q", rep.Healthy(), rep.Status)
			}
			if got := collector.Gauge(stats.MetricHealthPercent); got != int64(tt.wantHealth) {
				t.Errorf("health gauge = %d, want %d", got, int64(tt.wantHealth))
			}
			if got := len(collector.Observations(stats.MetricHealthCheckDuration)); got != 2 {
				t.Errorf("duration observations = %d, want 2", got)
			}
		})
	}
}

func TestMonitor_StatusNoChecks(t *testing.T) {
	rep := NewMonitor().Status(context.Background())
	if rep.Status != StatusHealthy || rep.OverallHealth != 100 {
		t.Errorf("Status() = %q %v, want healthy 100", rep.Status, rep.OverallHealth)
	}
}

func TestMonitor_RunOnlyCritical(t *testing.T) {
	db := &fakeCheck{name: "database"}
	mem := &fakeCheck{name: "memory"}
	m := NewMonitor()
	m.Register(db, true)
	m.Register(mem, false)

	results := m.Run(context.Background(), true)
	if len(results) != 1 || results["database"].Status != StatusHealthy {
		t.Errorf("Run(onlyCritical) = %+v, want database only", results)
	}
	if mem.count() != 0 {
		t.Errorf("non-critical check ran %d times", mem.count())
	}
	if len(m.History(0)) != 0 {
		t.Error("Run() recorded a report")
	}
}

func TestMonitor_RegisterReplaceAndUnregister(t *testing.T) {
	m := NewMonitor()
	m.Register(&fakeCheck{name: "disk"}, false)
	m.Register(&fakeCheck{name: "database"}, false)
	m.Register(&fakeCheck{name: "database", err: errors.New("down")}, true)

	if got := m.Names(); len(got) != 2 || got[0] != "database" || got[1] != "disk" {
		t.Errorf("Names() = %v, want [database disk]", got)
	}
	res, err := m.RunCheck(context.Background(), "database")
	if err != nil {
		t.Fatalf("RunCheck() error = %v", err)
	}
	if res.Status != StatusUnhealthy || !res.Critical || res.Message != "down" {
		t.Errorf("RunCheck() = %+v, want the replacement check", res)
	}

	if !m.Unregister("disk") || m.Unregister("disk") {
		t.Error("Unregister() should succeed once")
	}
	if _, err := m.RunCheck(context.Background(), "disk"); !errors.Is(err, ErrUnknownCheck) {
		t.Errorf("RunCheck(disk) error = %v, want ErrUnknownCheck", err)
	}
}

func TestMonitor_FailureCounter(t *testing.T) {
	collector := stats.NewMemory()
	m := NewMonitor(WithCollector(collector))
	m.Register(&fakeCheck{name: "database", err: errors.New("down")}, true)
	m.Register(&fakeCheck{name: "disk", err: fmt.Errorf("high: %w", ErrDegraded)}, false)

	m.Status(context.Background())
	m.Status(context.Background())
	if got := collector.Counter(stats.MetricHealthCheckFailures); got != 2 {
		t.Errorf("failure counter = %d, want 2 (degraded results do not count)", got)
	}
}

func TestMonitor_HistoryBoundAndWindow(t *testing.T) {
	clock := &stepClock{now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMonitor(WithHistorySize(3), WithClock(clock.Now))
	m.Register(&fakeCheck{name: "database"}, true)

	for i := 0; i < 5; i++ {
		m.Status(context.Background())
		clock.Advance(time.Hour)
	}

	all := m.History(0)
	if len(all) != 3 {
		t.Fatalf("History(0) = %d reports, want 3", len(all))
	}
	if want := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC); !all[0].Timestamp.Equal(want) {
		t.Errorf("oldest kept = %v, want %v", all[0].Timestamp, want)
	}

	// Now 05:00; only 04:00 and 03:00 are inside 150 minutes.
	if got := len(m.History(150 * time.Minute)); got != 2 {
		t.Errorf("History(150m) = %d reports, want 2", got)
	}
}

func TestTrendOf(t *testing.T) {
	tests := []struct {
		values []float64
		want   Trend
	}{
		{nil, TrendInsufficient},
		{[]float64{50}, TrendInsufficient},
		{[]float64{100, 100, 100}, TrendStable},
		{[]float64{50, 75, 100}, TrendRising},
		{[]float64{100, 50, 0}, TrendFalling},
		{[]float64{80, 80.05, 80.1}, TrendStable},
	}
	for _, tt := range tests {
		if got := TrendOf(tt.values); got != tt.want {
			t.Errorf("TrendOf(%v) = %q, want %q", tt.values, got, tt.want)
		}
	}
}

func TestMonitor_Summarize(t *testing.T) {
	clock := &stepClock{now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMonitor(WithClock(clock.Now))
	db := &fakeCheck{name: "database"}
	m.Register(db, true)
	m.Register(&fakeCheck{name: "disk"}, false)

	if s := m.Summarize(24 * time.Hour); s.Reports != 0 || s.Trend != TrendInsufficient {
		t.Errorf("Summarize() on empty history = %+v", s)
	}

	m.Status(context.Background())
	clock.Advance(time.Minute)
	db.setErr(errors.New("down"))
	m.Status(context.Background())
	clock.Advance(time.Minute)

	s := m.Summarize(24 * time.Hour)
	if s.Reports != 2 {
		t.Errorf("Reports = %d, want 2", s.Reports)
	}
	if s.AverageHealth != 75 {
		t.Errorf("AverageHealth = %v, want 75", s.AverageHealth)
	}
	if s.HealthyPercent != 50 {
		t.Errorf("HealthyPercent = %v, want 50", s.HealthyPercent)
	}
	if s.Trend != TrendFalling {
		t.Errorf("Trend = %q, want falling", s.Trend)
	}
}

func TestRunner_StartStop(t *testing.T) {
	db := &fakeCheck{name: "database"}
	m := NewMonitor()
	m.Register(db, true)
	r := NewRunner(m, 5*time.Millisecond, nil)

	r.Start(context.Background())
	r.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for len(m.History(0)) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop()

	if len(m.History(0)) == 0 {
		t.Error("runner recorded no reports")
	}
	n := db.count()
	time.Sleep(20 * time.Millisecond)
	if db.count() != n {
		t.Error("checks ran after Stop()")
	}
}

func TestRunner_StopWithoutStart(t *testing.T) {
	r := NewRunner(NewMonitor(), 0, nil)
	r.Stop()
	r.Start(context.Background())
}
