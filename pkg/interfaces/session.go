package interfaces

import (
	"context"

	"lectern/pkg/types"
)

// SessionRegistry is what the transport and HTTP layers need from the
// session lifecycle.
type SessionRegistry interface {
	// CreateSession is the only way a session id comes into existence.
	CreateSession(ctx context.Context) (*types.Session, error)

	// SessionExists reports whether id names a session that still accepts
	// connections.
	SessionExists(sessionID string) bool

	// Join admits conn to its session or returns why it was refused.
	Join(conn Connection) error

	// Leave removes conn. Safe to call more than once.
	Leave(conn Connection)

	// AppendTranscript adds lecturer text to the session buffer.
	AppendTranscript(sessionID, chunk string) error

	// CloseSession ends a session explicitly.
	CloseSession(ctx context.Context, sessionID string) error
}
