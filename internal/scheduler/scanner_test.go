package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"autopunch/internal/events"
	"autopunch/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	mu    sync.Mutex
	tasks []*models.ScheduledTask
}

func (r *recordingExecutor) Execute(ctx context.Context, task *models.ScheduledTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
}

func (r *recordingExecutor) executed() []*models.ScheduledTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.ScheduledTask(nil), r.tasks...)
}

func newScannerFixture(repo *fakeTaskRepo, exec *recordingExecutor, now time.Time) *Scanner {
	logger := zerolog.Nop()
	s := NewScanner(repo, exec, events.NewEventBus(), &logger)
	s.now = func() time.Time { return now }
	return s
}

func TestRunCycle_DispatchesDueTasks(t *testing.T) {
	now := time.Date(2026, 1, 20, 9, 0, 30, 0, time.UTC)
	minute := now.Truncate(time.Minute)

	// Both tasks sit inside the current minute; one is already past "now" and
	// fires immediately, the other gets a timer.
	repo := &fakeTaskRepo{due: []*models.ScheduledTask{
		dueTask("past-second", minute.Add(10*time.Second)),
		dueTask("future-second", minute.Add(31*time.Second)),
	}}
	exec := &recordingExecutor{}
	s := newScannerFixture(repo, exec, now)

	require.True(t, s.RunCycle(context.Background()))
	s.dispatched.Wait()

	executed := exec.executed()
	require.Len(t, executed, 2)
	ids := []string{executed[0].ID, executed[1].ID}
	assert.Contains(t, ids, "past-second")
	assert.Contains(t, ids, "future-second")
}

func TestRunCycle_PublishesExpiryEvent(t *testing.T) {
	now := time.Date(2026, 1, 20, 9, 0, 30, 0, time.UTC)
	repo := &fakeTaskRepo{expireCount: 3}
	exec := &recordingExecutor{}

	logger := zerolog.Nop()
	bus := events.NewEventBus()
	var payloads [][]byte
	bus.Subscribe(events.EventTasksExpired, func(e *events.Event) error {
		payloads = append(payloads, e.Payload)
		return nil
	})

	s := NewScanner(repo, exec, bus, &logger)
	s.now = func() time.Time { return now }

	require.True(t, s.RunCycle(context.Background()))
	require.Len(t, payloads, 1)
	assert.Contains(t, string(payloads[0]), `"count":3`)
}

func TestRunCycle_ExpiryErrorAbortsDispatch(t *testing.T) {
	now := time.Date(2026, 1, 20, 9, 0, 30, 0, time.UTC)
	repo := &fakeTaskRepo{
		expireErr: errors.New("db locked"),
		due:       []*models.ScheduledTask{dueTask("task-1", now)},
	}
	exec := &recordingExecutor{}
	s := newScannerFixture(repo, exec, now)

	require.True(t, s.RunCycle(context.Background()))
	s.dispatched.Wait()
	assert.Empty(t, exec.executed())

	// The guard must be released so the next tick can run.
	repo.mu.Lock()
	repo.expireErr = nil
	repo.mu.Unlock()
	require.True(t, s.RunCycle(context.Background()))
	s.dispatched.Wait()
	assert.Len(t, exec.executed(), 1)
}

// blockingRepo parks ExpireTasksBefore until released, keeping a cycle in
// flight for as long as the test needs.
type blockingRepo struct {
	fakeTaskRepo
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRepo) ExpireTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	b.entered <- struct{}{}
	<-b.release
	return 0, nil
}

func TestRunCycle_ReentrancyGuard(t *testing.T) {
	repo := &blockingRepo{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	exec := &recordingExecutor{}
	logger := zerolog.Nop()
	s := NewScanner(repo, exec, events.NewEventBus(), &logger)
	s.now = func() time.Time { return time.Date(2026, 1, 20, 9, 0, 30, 0, time.UTC) }

	done := make(chan bool)
	go func() { done <- s.RunCycle(context.Background()) }()
	<-repo.entered

	// A tick landing while the first cycle is in flight is dropped.
	assert.False(t, s.RunCycle(context.Background()))

	close(repo.release)
	assert.True(t, <-done)

	// With the guard released, the next tick runs again.
	go func() { done <- s.RunCycle(context.Background()) }()
	<-repo.entered
	assert.True(t, <-done)
}

func TestScanner_StartStop(t *testing.T) {
	repo := &fakeTaskRepo{}
	exec := &recordingExecutor{}
	logger := zerolog.Nop()
	s := NewScanner(repo, exec, events.NewEventBus(), &logger)

	require.NoError(t, s.Start(context.Background(), "* * * * *"))
	// Start runs one immediate cycle on boot.
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.expireCalls >= 1
	}, time.Second, 10*time.Millisecond)

	s.Stop()
}

func TestScanner_StartRejectsBadSpec(t *testing.T) {
	repo := &fakeTaskRepo{}
	exec := &recordingExecutor{}
	logger := zerolog.Nop()
	s := NewScanner(repo, exec, events.NewEventBus(), &logger)

	assert.Error(t, s.Start(context.Background(), "not a cron spec"))
}
