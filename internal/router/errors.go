package router

import "errors"

// Router-specific error types
var (
	ErrInvalidMessage     = errors.New("invalid message")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrUnknownQuestion    = errors.New("question not found in this session")
	ErrOptionNotAvailable = errors.New("selected option is not one of the choices")
)
