package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrQueueFull        = errors.New("write queue full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Close reasons sent to clients refused at join time
const (
	ReasonSessionNotFound = "session not found"
	ReasonSessionClosed   = "session closed"
	ReasonLecturerPresent = "lecturer already connected"
	ReasonInternalError   = "internal error"
)
