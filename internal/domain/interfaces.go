package domain

import (
	"context"
	"time"

	"autopunch/internal/models"
)

// TaskListFilter narrows a task listing to one owner and an optional status set.
// History selects every non-pending row and flips the ordering to newest-first;
// pending listings come back ascending by scheduled_at.
type TaskListFilter struct {
	UserID   int64
	Statuses []string
	History  bool
	Cursor   string
	Limit    int
}

type TaskRepository interface {
	CreateTask(ctx context.Context, task *models.ScheduledTask) error
	GetTask(ctx context.Context, id string) (*models.ScheduledTask, error)
	ListTasks(ctx context.Context, filter TaskListFilter) (*models.TaskPage, error)
	CountTasksForDay(ctx context.Context, userID int64, day time.Time) (int, error)

	// ExpireTasksBefore moves every PENDING task scheduled strictly before
	// cutoff to EXPIRED and returns how many rows changed.
	ExpireTasksBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// GetDueTasks returns PENDING tasks with scheduled_at in [from, to).
	GetDueTasks(ctx context.Context, from, to time.Time) ([]*models.ScheduledTask, error)

	// FinishTask commits a terminal outcome. The update is conditional on the
	// row still being PENDING; a second writer loses and gets ErrTaskNotPending.
	FinishTask(ctx context.Context, id, status, result string) error

	CancelTask(ctx context.Context, userID int64, id string) error
}

type BindingRepository interface {
	GetBindingByChatID(ctx context.Context, chatID int64) (*models.UserBinding, error)
	GetBindingByID(ctx context.Context, id int64) (*models.UserBinding, error)
	UpsertBinding(ctx context.Context, binding *models.UserBinding) error
	RecordUsage(ctx context.Context, log *models.UsageLog) error
	GetUsageStats(ctx context.Context, userID int64) (*models.UsageStats, error)
}

// CredentialResolver yields live HR credentials for a bound user. It must fail
// with a wrapped database.ErrNotBound when no valid binding exists.
type CredentialResolver interface {
	Resolve(ctx context.Context, userID int64) (*models.Credentials, error)
}

// PunchAdapter is the only network effect of task execution. Possibly slow;
// callers treat any error as opaque.
type PunchAdapter interface {
	SubmitPunch(ctx context.Context, creds *models.Credentials, lat, lng float64) error
}

// Notifier delivers a best-effort message to the task owner.
type Notifier interface {
	Notify(ctx context.Context, userID int64, message string) error
}

// StateRepository caches HR sessions and rate-limit counters.
type StateRepository interface {
	GetSession(ctx context.Context, userID int64) (*models.SessionState, error)
	SetSession(ctx context.Context, session *models.SessionState) error
	ClearSession(ctx context.Context, userID int64) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// TaskService is the creation/listing/cancellation surface consumed by the API.
type TaskService interface {
	CreateTasks(ctx context.Context, userID int64, entries []models.ScheduleEntry) (int, []models.EntryRejection, error)
	ListTasks(ctx context.Context, userID int64, statuses []string, cursor string, limit int) (*models.TaskPage, error)
	CancelTask(ctx context.Context, userID int64, taskID string) error
}

// BindingService manages HR account bindings and credential resolution.
type BindingService interface {
	CredentialResolver
	Bind(ctx context.Context, chatID int64, companyID, internalCompanyID, empID, password string) (*models.UserBinding, error)
	BindingStatus(ctx context.Context, chatID int64) (*models.UserBinding, *models.UsageStats, error)
}
