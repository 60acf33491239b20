package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"autopunch/internal/domain"
	"autopunch/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidWindow = errors.New("time window start must be before end")
	ErrQuotaExceeded = errors.New("daily schedule limit reached")
)

// TaskService turns coarse schedule requests into concrete PENDING tasks and
// exposes the listing/cancellation surface.
type TaskService struct {
	repo       domain.TaskRepository
	dailyLimit int
	location   *time.Location
	logger     *zerolog.Logger
}

func NewTaskService(repo domain.TaskRepository, dailyLimit int, location *time.Location, logger *zerolog.Logger) *TaskService {
	if dailyLimit <= 0 {
		dailyLimit = models.MaxTasksPerDay
	}
	if location == nil {
		location = time.Local
	}
	return &TaskService{
		repo:       repo,
		dailyLimit: dailyLimit,
		location:   location,
		logger:     logger,
	}
}

// CreateTasks validates and persists a batch of schedule entries. Validation
// failures reject the single entry; storage errors abort the whole call.
//
// The daily quota is counted against rows already committed before this batch.
// Two entries for the same day inside one batch both pass the check; the
// submitting UI limits a day to one clock-in plus one clock-out, and a stricter
// in-batch counter would reject legitimate in+out pairs sharing a day.
func (s *TaskService) CreateTasks(ctx context.Context, userID int64, entries []models.ScheduleEntry) (int, []models.EntryRejection, error) {
	accepted := 0
	var rejections []models.EntryRejection

	for i, entry := range entries {
		task, reason := s.buildTask(userID, entry)
		if reason != "" {
			rejections = append(rejections, models.EntryRejection{Index: i, Reason: reason})
			continue
		}

		count, err := s.repo.CountTasksForDay(ctx, userID, task.ScheduledAt)
		if err != nil {
			return accepted, rejections, fmt.Errorf("failed to check daily quota: %w", err)
		}
		if count >= s.dailyLimit {
			rejections = append(rejections, models.EntryRejection{Index: i, Reason: ErrQuotaExceeded.Error()})
			continue
		}

		if err := s.repo.CreateTask(ctx, task); err != nil {
			return accepted, rejections, fmt.Errorf("failed to create task: %w", err)
		}
		accepted++

		s.logger.Info().
			Str("task_id", task.ID).
			Int64("user_id", userID).
			Time("scheduled_at", task.ScheduledAt).
			Msg("Task scheduled")
	}

	return accepted, rejections, nil
}

// buildTask applies the randomization rules to one entry. A non-empty reason
// means the entry is rejected and no task is produced.
func (s *TaskService) buildTask(userID int64, entry models.ScheduleEntry) (*models.ScheduledTask, string) {
	start, end, err := s.parseWindow(entry)
	if err != nil {
		return nil, err.Error()
	}
	if !start.Before(end) {
		return nil, ErrInvalidWindow.Error()
	}

	diffMs := end.Sub(start).Milliseconds()
	if diffMs <= 0 {
		return nil, ErrInvalidWindow.Error()
	}

	// A punch at an identical second every day looks automated. Land on a
	// uniformly random millisecond inside [start, end), and push the
	// coordinate around within ~10 meters for the same reason.
	scheduledAt := start.Add(time.Duration(rand.Int64N(diffMs)) * time.Millisecond)
	lat := entry.Lat + (rand.Float64()-0.5)*models.CoordJitterDegrees
	lng := entry.Lng + (rand.Float64()-0.5)*models.CoordJitterDegrees

	return &models.ScheduledTask{
		ID:          uuid.NewString(),
		UserID:      userID,
		ScheduledAt: scheduledAt,
		Lat:         lat,
		Lng:         lng,
		Status:      models.TaskStatusPending,
	}, ""
}

func (s *TaskService) parseWindow(entry models.ScheduleEntry) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01-02 15:04", entry.Date+" "+entry.TimeStart, s.location)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid window start: %s %s", entry.Date, entry.TimeStart)
	}
	end, err := time.ParseInLocation("2006-01-02 15:04", entry.Date+" "+entry.TimeEnd, s.location)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid window end: %s %s", entry.Date, entry.TimeEnd)
	}
	return start, end, nil
}

// ListTasks returns one page of the owner's tasks. The HISTORY pseudo-status
// selects every non-pending row, newest first.
func (s *TaskService) ListTasks(ctx context.Context, userID int64, statuses []string, cursor string, limit int) (*models.TaskPage, error) {
	filter := domain.TaskListFilter{
		UserID: userID,
		Cursor: cursor,
		Limit:  limit,
	}
	for _, status := range statuses {
		if status == models.StatusFilterHistory {
			filter.History = true
			filter.Statuses = nil
			break
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return s.repo.ListTasks(ctx, filter)
}

func (s *TaskService) CancelTask(ctx context.Context, userID int64, taskID string) error {
	if err := s.repo.CancelTask(ctx, userID, taskID); err != nil {
		return err
	}
	s.logger.Info().Str("task_id", taskID).Int64("user_id", userID).Msg("Task cancelled")
	return nil
}
