package session

import (
	"errors"

	"lectern/pkg/interfaces"
)

// Session lifecycle error types
var (
	ErrSessionNotFound          = interfaces.ErrSessionNotFound
	ErrSessionClosed            = errors.New("session closed")
	ErrLecturerAlreadyConnected = errors.New("lecturer already connected")
	ErrInvalidRole              = errors.New("invalid role: must be 'lecturer' or 'student'")
)
