package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"autopunch/internal/domain"
	"autopunch/internal/events"
	"autopunch/internal/metrics"
	"autopunch/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TaskExecutor runs one due task to a terminal state.
type TaskExecutor interface {
	Execute(ctx context.Context, task *models.ScheduledTask)
}

// Scanner drives the per-minute scan: expire what was missed, dispatch what is
// due in the current minute. At most one cycle runs at a time; ticks that land
// while a cycle is in flight are dropped, not queued.
type Scanner struct {
	repo     domain.TaskRepository
	executor TaskExecutor
	eventBus domain.EventPublisher
	logger   *zerolog.Logger

	cron       *cron.Cron
	inProgress atomic.Bool
	dispatched sync.WaitGroup

	// now is swappable for tests.
	now func() time.Time
}

func NewScanner(repo domain.TaskRepository, executor TaskExecutor, eventBus domain.EventPublisher, logger *zerolog.Logger) *Scanner {
	return &Scanner{
		repo:     repo,
		executor: executor,
		eventBus: eventBus,
		logger:   logger,
		now:      time.Now,
	}
}

// Start begins ticking on the given cron spec ("* * * * *" in production) and
// runs one immediate cycle so tasks missed during downtime expire right away.
func (s *Scanner) Start(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { s.RunCycle(ctx) }); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.Info().Str("spec", spec).Msg("Scanner started")

	go s.RunCycle(ctx)
	return nil
}

// Stop halts the tick source and waits for already-dispatched executions.
func (s *Scanner) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.dispatched.Wait()
	s.logger.Info().Msg("Scanner stopped")
}

// RunCycle performs one expiry pass plus one dispatch pass. Returns true when
// the cycle ran, false when it was skipped because another cycle held the guard.
func (s *Scanner) RunCycle(ctx context.Context) bool {
	if !s.inProgress.CompareAndSwap(false, true) {
		metrics.IncScanSkipped()
		s.logger.Debug().Msg("Scan tick skipped, previous cycle still running")
		return false
	}
	defer s.inProgress.Store(false)

	minuteStart := s.now().Truncate(time.Minute)

	expired, err := s.repo.ExpireTasksBefore(ctx, minuteStart)
	if err != nil {
		// Abort the whole cycle; the next tick retries with a fresh view.
		s.logger.Error().Err(err).Msg("Expiry pass failed")
		return true
	}
	if expired > 0 {
		s.logger.Warn().Int64("count", expired).Msg("Marked overdue tasks as EXPIRED")
		metrics.AddExpired(expired)
		_ = s.eventBus.PublishJSON(events.EventTasksExpired, events.ExpiryEventPayload{
			Count:  expired,
			Cutoff: minuteStart,
		})
	}

	due, err := s.repo.GetDueTasks(ctx, minuteStart, minuteStart.Add(time.Minute))
	if err != nil {
		s.logger.Error().Err(err).Msg("Dispatch pass failed")
		return true
	}

	if len(due) > 0 {
		s.logger.Info().Int("count", len(due)).Time("minute", minuteStart).Msg("Dispatching due tasks")
	}
	for _, task := range due {
		s.dispatch(ctx, task, task.ScheduledAt.Sub(s.now()))
	}

	metrics.IncScanCycle()
	return true
}

// dispatch hands one task to the executor at its exact instant without ever
// blocking the scan cycle. Tasks whose second already passed fire immediately.
func (s *Scanner) dispatch(ctx context.Context, task *models.ScheduledTask, delay time.Duration) {
	s.dispatched.Add(1)
	run := func() {
		defer s.dispatched.Done()
		s.executor.Execute(ctx, task)
	}
	if delay <= 0 {
		go run()
		return
	}
	time.AfterFunc(delay, run)
}
