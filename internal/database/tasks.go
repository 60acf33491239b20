package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"autopunch/internal/domain"
	"autopunch/internal/models"
)

// timeLayout is fixed-width and UTC so that string comparison inside sqlite
// matches chronological order.
const timeLayout = "2006-01-02 15:04:05.000"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}

func (db *DB) CreateTask(ctx context.Context, task *models.ScheduledTask) error {
	query := `INSERT INTO scheduled_tasks (id, user_id, scheduled_at, lat, lng, status, result, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		task.ID,
		task.UserID,
		fmtTime(task.ScheduledAt),
		task.Lat,
		task.Lng,
		task.Status,
		task.Result,
		fmtTime(now),
		fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	task.CreatedAt = now
	task.UpdatedAt = now
	return nil
}

const taskColumns = `id, user_id, scheduled_at, lat, lng, status, result, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*models.ScheduledTask, error) {
	var task models.ScheduledTask
	var scheduledAt, createdAt, updatedAt string
	err := row.Scan(
		&task.ID, &task.UserID, &scheduledAt, &task.Lat, &task.Lng,
		&task.Status, &task.Result, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if task.ScheduledAt, err = parseStoredTime(scheduledAt); err != nil {
		return nil, err
	}
	if task.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseStoredTime(updatedAt); err != nil {
		return nil, err
	}
	return &task, nil
}

func (db *DB) GetTask(ctx context.Context, id string) (*models.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE id = ?`
	task, err := scanTask(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListTasks returns one page of an owner's tasks. Pending listings are ordered
// ascending by scheduled_at, historical ones descending. The cursor is the
// (scheduled_at, id) pair of the last row of the previous page.
func (db *DB) ListTasks(ctx context.Context, filter domain.TaskListFilter) (*models.TaskPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultPageSize
	}
	if limit > models.MaxPageSize {
		limit = models.MaxPageSize
	}

	where := []string{"user_id = ?"}
	args := []any{filter.UserID}

	descending := filter.History
	if filter.History {
		where = append(where, "status != ?")
		args = append(args, models.TaskStatusPending)
	} else if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		pending := false
		for i, s := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, s)
			if s == models.TaskStatusPending {
				pending = true
			}
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
		descending = !pending
	}

	if filter.Cursor != "" {
		cursorAt, cursorID, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, err
		}
		if descending {
			where = append(where, "(scheduled_at < ? OR (scheduled_at = ? AND id < ?))")
		} else {
			where = append(where, "(scheduled_at > ? OR (scheduled_at = ? AND id > ?))")
		}
		args = append(args, cursorAt, cursorAt, cursorID)
	}

	order := "scheduled_at ASC, id ASC"
	if descending {
		order = "scheduled_at DESC, id DESC"
	}

	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ` + order + ` LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	page := &models.TaskPage{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		page.Tasks = append(page.Tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	if len(page.Tasks) == limit {
		last := page.Tasks[len(page.Tasks)-1]
		page.NextCursor = encodeCursor(last.ScheduledAt, last.ID)
	}
	return page, nil
}

func encodeCursor(scheduledAt time.Time, id string) string {
	return fmtTime(scheduledAt) + "|" + id
}

func decodeCursor(cursor string) (string, string, error) {
	at, id, ok := strings.Cut(cursor, "|")
	if !ok {
		return "", "", fmt.Errorf("invalid cursor: %q", cursor)
	}
	if _, err := parseStoredTime(at); err != nil {
		return "", "", fmt.Errorf("invalid cursor: %w", err)
	}
	return at, id, nil
}

// CountTasksForDay counts the owner's punches already committed for the
// calendar day containing `day`. Only PENDING and COMPLETED rows count toward
// the daily quota; cancelled, failed and expired attempts free their slot.
func (db *DB) CountTasksForDay(ctx context.Context, userID int64, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	query := `SELECT COUNT(*) FROM scheduled_tasks
              WHERE user_id = ? AND scheduled_at >= ? AND scheduled_at < ? AND status IN (?, ?)`
	var count int
	err := db.QueryRowContext(ctx, query, userID, fmtTime(start), fmtTime(end),
		models.TaskStatusPending, models.TaskStatusCompleted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks for day: %w", err)
	}
	return count, nil
}

func (db *DB) ExpireTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE scheduled_tasks SET status = ?, result = ?, updated_at = ?
              WHERE status = ? AND scheduled_at < ?`
	result, err := db.ExecContext(ctx, query,
		models.TaskStatusExpired, models.ExpiredResult, fmtTime(time.Now()),
		models.TaskStatusPending, fmtTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire tasks: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get expired row count: %w", err)
	}
	return affected, nil
}

func (db *DB) GetDueTasks(ctx context.Context, from, to time.Time) ([]*models.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks
              WHERE status = ? AND scheduled_at >= ? AND scheduled_at < ?
              ORDER BY scheduled_at ASC`
	rows, err := db.QueryContext(ctx, query, models.TaskStatusPending, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to get due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// FinishTask commits a terminal outcome. The WHERE clause doubles as the claim:
// only a still-PENDING row can be finished, so a concurrent writer loses cleanly.
func (db *DB) FinishTask(ctx context.Context, id, status, result string) error {
	query := `UPDATE scheduled_tasks SET status = ?, result = ?, updated_at = ?
              WHERE id = ? AND status = ?`
	res, err := db.ExecContext(ctx, query, status, result, fmtTime(time.Now()), id, models.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get finished row count: %w", err)
	}
	if affected == 0 {
		if _, err := db.GetTask(ctx, id); errors.Is(err, ErrTaskNotFound) {
			return ErrTaskNotFound
		}
		return ErrTaskNotPending
	}
	return nil
}

func (db *DB) CancelTask(ctx context.Context, userID int64, id string) error {
	query := `UPDATE scheduled_tasks SET status = ?, result = ?, updated_at = ?
              WHERE id = ? AND user_id = ? AND status = ?`
	res, err := db.ExecContext(ctx, query,
		models.TaskStatusCancelled, "Cancelled by user", fmtTime(time.Now()),
		id, userID, models.TaskStatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get cancelled row count: %w", err)
	}
	if affected > 0 {
		return nil
	}

	task, err := db.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.UserID != userID {
		return ErrNotOwner
	}
	return ErrTaskNotPending
}
