package models

import "time"

// UserBinding links a chat user to an HR account. The HR session token is
// stored encrypted (AES-256-CBC, per-row IV); the plaintext never touches disk.
type UserBinding struct {
	ID                int64     `json:"id"`
	ChatID            int64     `json:"chat_id"`
	EmpID             string    `json:"emp_id"`
	CompanyID         string    `json:"company_id"`          // group unified business number
	InternalCompanyID string    `json:"internal_company_id"` // company selector inside the group
	EncryptedToken    string    `json:"-"`
	TokenIV           string    `json:"-"`
	Cookies           string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Credentials is what the attendance adapter needs for one authenticated call.
type Credentials struct {
	Token             string
	CompanyID         string
	InternalCompanyID string
	EmpID             string
	Cookies           string
}

// SessionState caches a live HR session between executions so that back-to-back
// punches do not re-login every time.
type SessionState struct {
	UserID   int64     `json:"user_id"`
	Token    string    `json:"token"`
	Cookies  string    `json:"cookies"`
	CachedAt time.Time `json:"cached_at"`
}

// UsageLog is one accounting row; best-effort, never blocks task execution.
type UsageLog struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Action    string    `json:"action"`
	Count     int       `json:"count"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageStats aggregates usage_logs per action for one user.
type UsageStats struct {
	UserID   int64          `json:"user_id"`
	ByAction map[string]int `json:"by_action"`
}
