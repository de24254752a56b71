package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner records a report every interval until stopped.
type Runner struct {
	monitor  *Monitor
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRunner creates a runner. A non-positive interval uses DefaultInterval.
func NewRunner(m *Monitor, interval time.Duration, logger *zap.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		monitor:  m,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins monitoring in the background. Calling it again, or after
// Stop, does nothing.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running || r.stopped {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.logger.Info("health monitoring started", zap.Duration("interval", r.interval))
	go r.run(ctx)
}

// Stop halts monitoring and waits for an in-progress run to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running || r.stopped {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
	r.logger.Info("health monitoring stopped")
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			rep := r.monitor.Status(ctx)
			if !rep.Healthy() {
				r.logger.Warn("system unhealthy",
					zap.Int("critical_issues", rep.CriticalIssues),
					zap.Strings("issues", rep.Issues),
				)
			}
		}
	}
}
