package models

import "time"

// ScheduledTask is a single-shot attendance punch scheduled for a specific
// instant and location. Rows are never deleted; terminal statuses keep the
// history browsable.
type ScheduledTask struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Status      string    `json:"status"` // PENDING, COMPLETED, FAILED, EXPIRED, CANCELLED
	Result      string    `json:"result"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsTerminal reports whether the task can no longer change state.
func (t *ScheduledTask) IsTerminal() bool {
	return t.Status != TaskStatusPending
}

// PunchType distinguishes clock-in from clock-out entries at creation time.
// The stored task does not keep the type; the HR endpoint infers direction.
const (
	PunchTypeCheckIn  = "CHECK_IN"
	PunchTypeCheckOut = "CHECK_OUT"
)

// ScheduleEntry is one requested punch: a calendar date, a time window the
// punch must land in, and the target coordinate.
type ScheduleEntry struct {
	Type      string  `json:"type"`
	Date      string  `json:"date"`       // YYYY-MM-DD
	TimeStart string  `json:"time_start"` // HH:MM
	TimeEnd   string  `json:"time_end"`   // HH:MM
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

// EntryRejection explains why one entry of a batch was not accepted.
type EntryRejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// TaskPage is one page of a task listing plus the continuation cursor.
type TaskPage struct {
	Tasks      []*ScheduledTask `json:"tasks"`
	NextCursor string           `json:"next_cursor,omitempty"`
}
