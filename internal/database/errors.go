package database

import "errors"

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskNotPending = errors.New("task is not pending")
	ErrNotOwner       = errors.New("task belongs to another user")
	ErrNotBound       = errors.New("user is not bound")
)
