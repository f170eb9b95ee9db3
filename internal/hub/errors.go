package hub

import "errors"

// Hub-specific error types
var (
	ErrNilConnection  = errors.New("connection cannot be nil")
	ErrDuplicateID    = errors.New("connection id already registered in session")
	ErrEmptySessionID = errors.New("session id cannot be empty")
)
