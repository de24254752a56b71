package prometheus

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wilologistics/keeper/internal/stats"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) (float64, bool) {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name || len(f.GetMetric()) == 0 {
			continue
		}
		m := f.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue(), true
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue(), true
		case m.GetHistogram() != nil:
			return float64(m.GetHistogram().GetSampleCount()), true
		}
	}
	return 0, false
}

func TestNew_NilRegistry(t *testing.T) {
	c := New(nil)
	if c.registry == nil || c.gatherer == nil {
		t.Fatal("New(nil) should create a registry")
	}
}

func TestCollector_Counter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.IncCounter(stats.MetricBackupsCreated, 2)
	c.IncCounter(stats.MetricBackupsCreated, 3)

	got, ok := gatherValue(t, reg, stats.MetricBackupsCreated)
	if !ok {
		t.Fatalf("%s not found in registry", stats.MetricBackupsCreated)
	}
	if got != 5 {
		t.Errorf("counter value = %v, want 5", got)
	}
}

func TestCollector_GaugeAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.SetGauge(stats.MetricCacheSize, 10)
	c.SetGauge(stats.MetricCacheSize, 42)
	c.ObserveHistogram(stats.MetricBackupDuration, 0.5)
	c.ObserveHistogram(stats.MetricBackupDuration, 1.5)

	if got, _ := gatherValue(t, reg, stats.MetricCacheSize); got != 42 {
		t.Errorf("gauge value = %v, want 42", got)
	}
	if got, _ := gatherValue(t, reg, stats.MetricBackupDuration); got != 2 {
		t.Errorf("histogram count = %v, want 2", got)
	}
}

func TestCollector_ConstLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg, WithConstLabels(map[string]string{"instance": "admin-1"}))

	c.IncCounter("labelled_total", 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "labelled_total" {
			continue
		}
		labels := f.GetMetric()[0].GetLabel()
		if len(labels) != 1 || labels[0].GetName() != "instance" || labels[0].GetValue() != "admin-1" {
			t.Errorf("labels = %v, want instance=admin-1", labels)
		}
		return
	}
	t.Error("labelled_total not found")
}

func TestCollector_ReusesExistingRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	existing := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keeper_preexisting_total",
		Help: helpText("keeper_preexisting_total"),
	})
	reg.MustRegister(existing)
	existing.Add(100)

	c := New(reg)
	c.IncCounter("keeper_preexisting_total", 5)

	if got, _ := gatherValue(t, reg, "keeper_preexisting_total"); got != 105 {
		t.Errorf("counter value = %v, want 105", got)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.IncCounter("concurrent_total", 1)
				c.SetGauge("concurrent_gauge", int64(j))
			}
		}()
	}
	wg.Wait()

	if got, _ := gatherValue(t, reg, "concurrent_total"); got != 1000 {
		t.Errorf("counter value = %v, want 1000", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New(nil)
	c.IncCounter(stats.MetricRestores, 1)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), stats.MetricRestores+" 1") {
		t.Errorf("metrics output missing %s:\n%s", stats.MetricRestores, body)
	}
}
