package query

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const (
	// DefaultTick is how often the scheduler looks for due refreshes.
	DefaultTick = time.Second

	// DefaultMaxConcurrent bounds refreshes running within one tick.
	DefaultMaxConcurrent = 8
)

// task is what the scheduler drives; *Query[T] implements it.
type task interface {
	due(now time.Time) bool
	idle(now time.Time) bool
	refresh(ctx context.Context, now time.Time) error
	expire()
	describe() string
}

// SchedulerConfig holds configuration for the refresh scheduler.
type SchedulerConfig struct {
	Tick          time.Duration
	MaxConcurrent int
	Now           func() time.Time
}

// Scheduler is the explicit background refresh timer. Each tick refreshes
// every active query whose interval has elapsed and expires queries nobody
// has touched for their idle window.
type Scheduler struct {
	tick          time.Duration
	maxConcurrent int
	now           func() time.Time
	logger        *zap.Logger

	mu    sync.Mutex
	tasks map[uint64]task

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. It does nothing until Start or Tick.
func NewScheduler(cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tick:          cfg.Tick,
		maxConcurrent: cfg.MaxConcurrent,
		now:           cfg.Now,
		logger:        logger,
		tasks:         make(map[uint64]task),
	}
}

// Start runs Tick on a timer until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("[Scheduler] Starting", zap.Duration("tick", s.tick))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("[Scheduler] Shutting down")
				return
			case <-ticker.C:
				s.Tick(ctx, s.now())
			}
		}
	}()
}

// Stop shuts the timer down and blocks until the running tick finishes.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("[Scheduler] Stopped")
}

// Tick runs one scheduling round at now and waits for it. It returns how
// many queries were refreshed.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	tasks := make(map[uint64]task, len(s.tasks))
	for id, t := range s.tasks {
		tasks[id] = t
	}
	s.mu.Unlock()

	p := pool.New().WithMaxGoroutines(s.maxConcurrent).WithContext(ctx)
	refreshed := 0
	for id, t := range tasks {
		if t.idle(now) {
			t.expire()
			s.remove(id)
			s.logger.Debug("[Scheduler] Expired idle query", zap.String("query", t.describe()))
			continue
		}
		if !t.due(now) {
			continue
		}
		refreshed++
		p.Go(func(ctx context.Context) error {
			if err := t.refresh(ctx, now); err != nil {
				s.logger.Warn("[Scheduler] Refresh FAILED", zap.String("query", t.describe()), zap.Error(err))
			}
			return nil
		})
	}
	_ = p.Wait()
	return refreshed
}

// Len returns the number of registered queries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) add(id uint64, t task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = t
}

func (s *Scheduler) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}
