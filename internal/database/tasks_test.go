package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"autopunch/internal/domain"
	"autopunch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(id string, userID int64, at time.Time) *models.ScheduledTask {
	return &models.ScheduledTask{
		ID:          id,
		UserID:      userID,
		ScheduledAt: at,
		Lat:         25.0330,
		Lng:         121.5654,
		Status:      models.TaskStatusPending,
	}
}

func TestCreateAndGetTask(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	at := time.Date(2026, 1, 20, 9, 3, 27, 512*int(time.Millisecond), time.UTC)
	task := newTestTask("task-1", 42, at)
	require.NoError(t, db.CreateTask(ctx, task))

	got, err := db.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, int64(42), got.UserID)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.True(t, got.ScheduledAt.Equal(at))
	assert.InDelta(t, task.Lat, got.Lat, 1e-9)
	assert.InDelta(t, task.Lng, got.Lng, 1e-9)
}

func TestGetTask_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestListTasks_PendingAscending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	// Insert out of order; listing must come back chronological.
	for _, offset := range []int{3, 1, 2} {
		task := newTestTask(fmt.Sprintf("task-%d", offset), 1, base.Add(time.Duration(offset)*time.Hour))
		require.NoError(t, db.CreateTask(ctx, task))
	}

	page, err := db.ListTasks(ctx, domain.TaskListFilter{UserID: 1, Statuses: []string{models.TaskStatusPending}})
	require.NoError(t, err)
	require.Len(t, page.Tasks, 3)
	assert.Equal(t, "task-1", page.Tasks[0].ID)
	assert.Equal(t, "task-2", page.Tasks[1].ID)
	assert.Equal(t, "task-3", page.Tasks[2].ID)
	assert.Empty(t, page.NextCursor)
}

func TestListTasks_HistoryDescending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		task := newTestTask(fmt.Sprintf("task-%d", i), 1, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, db.CreateTask(ctx, task))
	}
	require.NoError(t, db.FinishTask(ctx, "task-1", models.TaskStatusCompleted, models.SuccessResult))
	require.NoError(t, db.FinishTask(ctx, "task-3", models.TaskStatusFailed, "boom"))

	page, err := db.ListTasks(ctx, domain.TaskListFilter{UserID: 1, History: true})
	require.NoError(t, err)
	require.Len(t, page.Tasks, 2)
	// Newest first, pending rows excluded.
	assert.Equal(t, "task-3", page.Tasks[0].ID)
	assert.Equal(t, "task-1", page.Tasks[1].ID)
}

func TestListTasks_Pagination(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		task := newTestTask(fmt.Sprintf("task-%d", i), 1, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, db.CreateTask(ctx, task))
	}

	first, err := db.ListTasks(ctx, domain.TaskListFilter{UserID: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Tasks, 2)
	require.NotEmpty(t, first.NextCursor)
	assert.Equal(t, "task-1", first.Tasks[0].ID)
	assert.Equal(t, "task-2", first.Tasks[1].ID)

	second, err := db.ListTasks(ctx, domain.TaskListFilter{UserID: 1, Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Tasks, 2)
	assert.Equal(t, "task-3", second.Tasks[0].ID)
	assert.Equal(t, "task-4", second.Tasks[1].ID)

	third, err := db.ListTasks(ctx, domain.TaskListFilter{UserID: 1, Limit: 2, Cursor: second.NextCursor})
	require.NoError(t, err)
	require.Len(t, third.Tasks, 1)
	assert.Equal(t, "task-5", third.Tasks[0].ID)
	assert.Empty(t, third.NextCursor)
}

func TestListTasks_InvalidCursor(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.ListTasks(context.Background(), domain.TaskListFilter{UserID: 1, Cursor: "garbage"})
	assert.Error(t, err)
}

func TestListTasks_OwnerIsolation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	at := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.CreateTask(ctx, newTestTask("mine", 1, at)))
	require.NoError(t, db.CreateTask(ctx, newTestTask("theirs", 2, at)))

	page, err := db.ListTasks(ctx, domain.TaskListFilter{UserID: 1})
	require.NoError(t, err)
	require.Len(t, page.Tasks, 1)
	assert.Equal(t, "mine", page.Tasks[0].ID)
}

func TestCountTasksForDay(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	day := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.CreateTask(ctx, newTestTask("pending", 1, day.Add(9*time.Hour))))
	require.NoError(t, db.CreateTask(ctx, newTestTask("completed", 1, day.Add(18*time.Hour))))
	require.NoError(t, db.CreateTask(ctx, newTestTask("failed", 1, day.Add(10*time.Hour))))
	require.NoError(t, db.CreateTask(ctx, newTestTask("next-day", 1, day.Add(25*time.Hour))))
	require.NoError(t, db.CreateTask(ctx, newTestTask("other-user", 2, day.Add(9*time.Hour))))

	require.NoError(t, db.FinishTask(ctx, "completed", models.TaskStatusCompleted, models.SuccessResult))
	require.NoError(t, db.FinishTask(ctx, "failed", models.TaskStatusFailed, "boom"))

	// Failed attempts free their quota slot; other users and other days never count.
	count, err := db.CountTasksForDay(ctx, 1, day.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestExpireTasksBefore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	cutoff := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.CreateTask(ctx, newTestTask("overdue", 1, cutoff.Add(-time.Minute))))
	require.NoError(t, db.CreateTask(ctx, newTestTask("exactly-at", 1, cutoff)))
	require.NoError(t, db.CreateTask(ctx, newTestTask("future", 1, cutoff.Add(time.Minute))))
	require.NoError(t, db.CreateTask(ctx, newTestTask("done", 1, cutoff.Add(-time.Hour))))
	require.NoError(t, db.FinishTask(ctx, "done", models.TaskStatusCompleted, models.SuccessResult))

	affected, err := db.ExpireTasksBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	expired, err := db.GetTask(ctx, "overdue")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusExpired, expired.Status)
	assert.Equal(t, models.ExpiredResult, expired.Result)

	// Tasks at or after the cutoff stay pending; terminal rows are untouched.
	still, err := db.GetTask(ctx, "exactly-at")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, still.Status)

	done, err := db.GetTask(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, done.Status)
}

func TestGetDueTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	minute := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.CreateTask(ctx, newTestTask("before", 1, minute.Add(-time.Second))))
	require.NoError(t, db.CreateTask(ctx, newTestTask("late-in-minute", 1, minute.Add(45*time.Second))))
	require.NoError(t, db.CreateTask(ctx, newTestTask("early-in-minute", 1, minute.Add(5*time.Second))))
	require.NoError(t, db.CreateTask(ctx, newTestTask("next-minute", 1, minute.Add(time.Minute))))

	due, err := db.GetDueTasks(ctx, minute, minute.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "early-in-minute", due[0].ID)
	assert.Equal(t, "late-in-minute", due[1].ID)
}

func TestFinishTask(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	at := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.CreateTask(ctx, newTestTask("task-1", 1, at)))

	require.NoError(t, db.FinishTask(ctx, "task-1", models.TaskStatusCompleted, models.SuccessResult))

	got, err := db.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, models.SuccessResult, got.Result)

	// The second writer loses the claim.
	err = db.FinishTask(ctx, "task-1", models.TaskStatusFailed, "late failure")
	assert.ErrorIs(t, err, ErrTaskNotPending)

	got, err = db.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)

	err = db.FinishTask(ctx, "missing", models.TaskStatusCompleted, models.SuccessResult)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestCancelTask(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	at := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.CreateTask(ctx, newTestTask("task-1", 1, at)))

	t.Run("WrongOwner", func(t *testing.T) {
		err := db.CancelTask(ctx, 99, "task-1")
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("Pending", func(t *testing.T) {
		require.NoError(t, db.CancelTask(ctx, 1, "task-1"))

		got, err := db.GetTask(ctx, "task-1")
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCancelled, got.Status)
		assert.Equal(t, "Cancelled by user", got.Result)
	})

	t.Run("AlreadyTerminal", func(t *testing.T) {
		err := db.CancelTask(ctx, 1, "task-1")
		assert.ErrorIs(t, err, ErrTaskNotPending)
	})

	t.Run("NotFound", func(t *testing.T) {
		err := db.CancelTask(ctx, 1, "missing")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 1, 20, 9, 3, 27, 512*int(time.Millisecond), time.UTC)
	cursor := encodeCursor(at, "task-1")

	storedAt, id, err := decodeCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, fmtTime(at), storedAt)
	assert.Equal(t, "task-1", id)

	_, _, err = decodeCursor("no-separator")
	assert.Error(t, err)

	_, _, err = decodeCursor("not-a-time|task-1")
	assert.Error(t, err)
}
