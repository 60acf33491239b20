package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"autopunch/internal/database"
	"autopunch/internal/domain"
	"autopunch/internal/events"
	"autopunch/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type finishCall struct {
	id     string
	status string
	result string
}

type fakeTaskRepo struct {
	mu        sync.Mutex
	finishes  []finishCall
	finishErr error

	expireCount int64
	expireErr   error
	expireCalls int

	due    []*models.ScheduledTask
	dueErr error
}

func (f *fakeTaskRepo) CreateTask(ctx context.Context, task *models.ScheduledTask) error { return nil }

func (f *fakeTaskRepo) GetTask(ctx context.Context, id string) (*models.ScheduledTask, error) {
	return nil, database.ErrTaskNotFound
}

func (f *fakeTaskRepo) ListTasks(ctx context.Context, filter domain.TaskListFilter) (*models.TaskPage, error) {
	return &models.TaskPage{}, nil
}

func (f *fakeTaskRepo) CountTasksForDay(ctx context.Context, userID int64, day time.Time) (int, error) {
	return 0, nil
}

func (f *fakeTaskRepo) ExpireTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireCalls++
	return f.expireCount, f.expireErr
}

func (f *fakeTaskRepo) GetDueTasks(ctx context.Context, from, to time.Time) ([]*models.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.due, f.dueErr
}

func (f *fakeTaskRepo) FinishTask(ctx context.Context, id, status, result string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finishErr != nil {
		return f.finishErr
	}
	f.finishes = append(f.finishes, finishCall{id: id, status: status, result: result})
	return nil
}

func (f *fakeTaskRepo) CancelTask(ctx context.Context, userID int64, id string) error { return nil }

func (f *fakeTaskRepo) finished() []finishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]finishCall(nil), f.finishes...)
}

type fakeResolver struct {
	creds *models.Credentials
	err   error
}

func (f *fakeResolver) Resolve(ctx context.Context, userID int64) (*models.Credentials, error) {
	return f.creds, f.err
}

type fakeAdapter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeAdapter) SubmitPunch(ctx context.Context, creds *models.Credentials, lat, lng float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(ctx context.Context, userID int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func dueTask(id string, at time.Time) *models.ScheduledTask {
	return &models.ScheduledTask{
		ID:          id,
		UserID:      7,
		ScheduledAt: at,
		Lat:         25.0330,
		Lng:         121.5654,
		Status:      models.TaskStatusPending,
	}
}

func newExecutorFixture(repo *fakeTaskRepo, resolver *fakeResolver, adapter *fakeAdapter, notifier *fakeNotifier) *Executor {
	logger := zerolog.Nop()
	return NewExecutor(repo, resolver, adapter, notifier, events.NewEventBus(), &logger)
}

func TestExecute_Success(t *testing.T) {
	repo := &fakeTaskRepo{}
	adapter := &fakeAdapter{}
	notifier := &fakeNotifier{}
	resolver := &fakeResolver{creds: &models.Credentials{Token: "tok", CompanyID: "12345678", EmpID: "A123"}}

	bus := events.NewEventBus()
	var published []string
	bus.Subscribe(events.EventTaskCompleted, func(e *events.Event) error {
		published = append(published, e.Type)
		return nil
	})

	logger := zerolog.Nop()
	exec := NewExecutor(repo, resolver, adapter, notifier, bus, &logger)

	at := time.Date(2026, 1, 20, 9, 3, 0, 0, time.UTC)
	exec.Execute(context.Background(), dueTask("task-1", at))

	assert.Equal(t, 1, adapter.callCount())

	finishes := repo.finished()
	require.Len(t, finishes, 1)
	assert.Equal(t, finishCall{id: "task-1", status: models.TaskStatusCompleted, result: models.SuccessResult}, finishes[0])

	assert.Equal(t, []string{events.EventTaskCompleted}, published)

	messages := notifier.sent()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "2026-01-20 09:03")
}

func TestExecute_AdapterFailure(t *testing.T) {
	repo := &fakeTaskRepo{}
	adapter := &fakeAdapter{err: errors.New("upstream rejected the punch")}
	notifier := &fakeNotifier{}
	resolver := &fakeResolver{creds: &models.Credentials{Token: "tok"}}
	exec := newExecutorFixture(repo, resolver, adapter, notifier)

	exec.Execute(context.Background(), dueTask("task-1", time.Now()))

	finishes := repo.finished()
	require.Len(t, finishes, 1)
	assert.Equal(t, models.TaskStatusFailed, finishes[0].status)
	assert.Contains(t, finishes[0].result, "upstream rejected the punch")

	// Failures never produce a success push.
	assert.Empty(t, notifier.sent())
}

func TestExecute_ResolverFailure(t *testing.T) {
	repo := &fakeTaskRepo{}
	adapter := &fakeAdapter{}
	notifier := &fakeNotifier{}
	resolver := &fakeResolver{err: database.ErrNotBound}
	exec := newExecutorFixture(repo, resolver, adapter, notifier)

	exec.Execute(context.Background(), dueTask("task-1", time.Now()))

	// No credentials means no network call at all.
	assert.Zero(t, adapter.callCount())

	finishes := repo.finished()
	require.Len(t, finishes, 1)
	assert.Equal(t, models.TaskStatusFailed, finishes[0].status)
}

func TestExecute_LostClaimSkipsSideEffects(t *testing.T) {
	repo := &fakeTaskRepo{finishErr: database.ErrTaskNotPending}
	adapter := &fakeAdapter{}
	notifier := &fakeNotifier{}
	resolver := &fakeResolver{creds: &models.Credentials{Token: "tok"}}
	exec := newExecutorFixture(repo, resolver, adapter, notifier)

	exec.Execute(context.Background(), dueTask("task-1", time.Now()))

	assert.Empty(t, notifier.sent())
}
