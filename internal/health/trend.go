package health

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Trend describes the direction of a series.
type Trend string

const (
	TrendRising       Trend = "rising"
	TrendFalling      Trend = "falling"
	TrendStable       Trend = "stable"
	TrendInsufficient Trend = "insufficient data"
)

// trendSlope is the least-squares slope per sample beyond which a series
// counts as moving.
const trendSlope = 0.1

// trendSamples is how many of the latest reports Summary fits a trend to.
const trendSamples = 10

// TrendOf fits a line through values by sample index and classifies its slope.
func TrendOf(values []float64) Trend {
	if len(values) < 2 {
		return TrendInsufficient
	}
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, values, nil, false)
	switch {
	case slope > trendSlope:
		return TrendRising
	case slope < -trendSlope:
		return TrendFalling
	default:
		return TrendStable
	}
}

// Summary condenses the history over a window.
type Summary struct {
	Window         time.Duration `json:"window"`
	Reports        int           `json:"reports"`
	AverageHealth  float64       `json:"average_health"`
	HealthyPercent float64       `json:"healthy_percent"`
	Trend          Trend         `json:"trend"`
}

// Summarize reports on the history recorded within window. The trend is
// fitted to the overall health of the latest reports.
func (m *Monitor) Summarize(window time.Duration) Summary {
	history := m.History(window)
	s := Summary{Window: window, Reports: len(history), Trend: TrendInsufficient}
	if len(history) == 0 {
		return s
	}

	values := make([]float64, len(history))
	var healthy int
	for i, r := range history {
		values[i] = r.OverallHealth
		if r.Healthy() {
			healthy++
		}
	}
	s.AverageHealth = stat.Mean(values, nil)
	s.HealthyPercent = float64(healthy) / float64(len(history)) * 100

	if len(values) > trendSamples {
		values = values[len(values)-trendSamples:]
	}
	s.Trend = TrendOf(values)
	return s
}
