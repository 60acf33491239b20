package scheduler

import (
	"context"
	"fmt"

	"autopunch/internal/domain"
	"autopunch/internal/events"
	"autopunch/internal/metrics"
	"autopunch/internal/models"

	"github.com/rs/zerolog"
)

// Executor attempts exactly one execution of a due task and commits its
// terminal outcome. It never propagates errors back to the scanner; every
// failure ends up in the task's own FAILED state.
type Executor struct {
	repo     domain.TaskRepository
	resolver domain.CredentialResolver
	adapter  domain.PunchAdapter
	notifier domain.Notifier
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewExecutor(
	repo domain.TaskRepository,
	resolver domain.CredentialResolver,
	adapter domain.PunchAdapter,
	notifier domain.Notifier,
	eventBus domain.EventPublisher,
	logger *zerolog.Logger,
) *Executor {
	return &Executor{
		repo:     repo,
		resolver: resolver,
		adapter:  adapter,
		notifier: notifier,
		eventBus: eventBus,
		logger:   logger,
	}
}

func (e *Executor) Execute(ctx context.Context, task *models.ScheduledTask) {
	creds, err := e.resolver.Resolve(ctx, task.UserID)
	if err != nil {
		e.fail(ctx, task, fmt.Errorf("credential resolution failed: %w", err))
		return
	}

	if err := e.adapter.SubmitPunch(ctx, creds, task.Lat, task.Lng); err != nil {
		e.fail(ctx, task, err)
		return
	}

	// Committing the outcome is the claim: if another writer already moved the
	// row out of PENDING, skip the success side effects.
	if err := e.repo.FinishTask(ctx, task.ID, models.TaskStatusCompleted, models.SuccessResult); err != nil {
		e.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to commit task completion")
		return
	}
	metrics.IncTaskOutcome(models.TaskStatusCompleted)

	e.logger.Info().
		Str("task_id", task.ID).
		Int64("user_id", task.UserID).
		Time("scheduled_at", task.ScheduledAt).
		Msg("Scheduled task completed")

	// Usage accounting and the push are best-effort; the punch already landed.
	_ = e.eventBus.PublishJSON(events.EventTaskCompleted, events.TaskEventPayload{
		TaskID:      task.ID,
		UserID:      task.UserID,
		Status:      models.TaskStatusCompleted,
		ScheduledAt: task.ScheduledAt,
	})

	message := fmt.Sprintf("Scheduled punch at %s submitted successfully.",
		task.ScheduledAt.Format("2006-01-02 15:04"))
	if err := e.notifier.Notify(ctx, task.UserID, message); err != nil {
		e.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to notify user")
	}
}

// fail records the terminal failure. No retry, no success notification; the
// user discovers failures through task history.
func (e *Executor) fail(ctx context.Context, task *models.ScheduledTask, cause error) {
	e.logger.Error().Err(cause).
		Str("task_id", task.ID).
		Int64("user_id", task.UserID).
		Msg("Scheduled task failed")

	if err := e.repo.FinishTask(ctx, task.ID, models.TaskStatusFailed, cause.Error()); err != nil {
		e.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to commit task failure")
		return
	}
	metrics.IncTaskOutcome(models.TaskStatusFailed)

	_ = e.eventBus.PublishJSON(events.EventTaskFailed, events.TaskEventPayload{
		TaskID:      task.ID,
		UserID:      task.UserID,
		Status:      models.TaskStatusFailed,
		Result:      cause.Error(),
		ScheduledAt: task.ScheduledAt,
	})
}
