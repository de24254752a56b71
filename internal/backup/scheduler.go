package backup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler defaults.
const (
	DefaultCheckInterval = 30 * time.Second
	DefaultCooldown      = 61 * time.Minute
	DefaultRetryDelay    = 5 * time.Minute
	ScheduledDescription = "scheduled"
)

// Creator creates backups. *Archiver implements it.
type Creator interface {
	Create(ctx context.Context, typ Type, description string) (string, error)
}

var _ Creator = (*Archiver)(nil)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCheckInterval sets how often the schedule is checked.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// WithSchedulerClock replaces time.Now.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler creates one backup of its type per day during the configured hour.
// After a successful run it waits DefaultCooldown before firing again, and
// after a failure it waits DefaultRetryDelay.
type Scheduler struct {
	creator  Creator
	hour     int
	typ      Type
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.Mutex
	lastRun time.Time
	retryAt time.Time
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a scheduler that makes a backup of typ during hour
// (0-23, local time of the clock). An empty typ means TypeFull.
func NewScheduler(c Creator, hour int, typ Type, opts ...SchedulerOption) *Scheduler {
	if typ == "" {
		typ = TypeFull
	}
	s := &Scheduler{
		creator:  c,
		hour:     hour,
		typ:      typ,
		interval: DefaultCheckInterval,
		now:      time.Now,
		logger:   zap.NewNop(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		s.interval = DefaultCheckInterval
	}
	return s
}

// Type returns the type of backup the scheduler creates.
func (s *Scheduler) Type() Type {
	return s.typ
}

// LastRun returns when the last scheduled backup succeeded.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Start begins checking the schedule in the background. Calling it again,
// or after Stop, does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("backup scheduler started", zap.Int("hour", s.hour), zap.String("type", string(s.typ)))
	go s.run(ctx)
}

// Stop halts the scheduler and waits for an in-progress backup to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("backup scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce checks the schedule and creates a backup if one is due. It reports
// whether a backup was created.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	now := s.now()

	s.mu.Lock()
	due := s.dueLocked(now)
	s.mu.Unlock()
	if !due {
		return false, nil
	}

	path, err := s.creator.Create(ctx, s.typ, ScheduledDescription)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.retryAt = now.Add(DefaultRetryDelay)
		s.logger.Error("scheduled backup failed", zap.Time("retry_at", s.retryAt), zap.Error(err))
		return false, err
	}
	s.lastRun = now
	s.logger.Info("scheduled backup created", zap.String("path", path))
	return true, nil
}

func (s *Scheduler) dueLocked(now time.Time) bool {
	if now.Before(s.retryAt) || now.Hour() != s.hour {
		return false
	}
	return s.lastRun.IsZero() || now.Sub(s.lastRun) >= DefaultCooldown
}
