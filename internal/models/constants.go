package models

const (
	TaskStatusPending   = "PENDING"
	TaskStatusCompleted = "COMPLETED"
	TaskStatusFailed    = "FAILED"
	TaskStatusExpired   = "EXPIRED"
	TaskStatusCancelled = "CANCELLED"
)

// StatusFilterHistory is a pseudo-filter accepted by list endpoints: it selects
// every non-PENDING row.
const StatusFilterHistory = "HISTORY"

const (
	ActionSchedule = "SCHEDULE"
	ActionCheckIn  = "CHECK_IN"
	ActionBind     = "BIND"
)

const (
	// MaxTasksPerDay caps accepted punches per owner per calendar day:
	// one clock-in plus one clock-out.
	MaxTasksPerDay = 2

	// CoordJitterDegrees bounds the random offset applied to each coordinate
	// axis. One degree is ~111 km, so a centered 0.00018 offset keeps the
	// point within roughly 10 meters of the requested spot.
	CoordJitterDegrees = 0.00018

	// ExpiredResult is stored on tasks whose minute passed without a dispatch.
	ExpiredResult = "System skipped: missed execution time"

	// SuccessResult is stored on tasks whose punch was accepted upstream.
	SuccessResult = "Success"
)

const (
	// SessionTTL time a cached HR session stays usable, in seconds.
	SessionTTL = 30 * 60

	// DefaultPageSize for task listings.
	DefaultPageSize = 20

	// MaxPageSize guards the list endpoints against unbounded requests.
	MaxPageSize = 100
)
