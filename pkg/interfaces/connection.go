package interfaces

// Connection is one client attached to exactly one session.
// ARCHITECTURAL DISCOVERY: The hub and the lifecycle only see this abstraction,
// so tests can drive fan-out with in-memory fakes.
type Connection interface {
	// ID is unique for the life of the process.
	ID() string

	// Role is "lecturer" or "student".
	Role() string

	// SessionID returns the session this connection belongs to.
	SessionID() string

	// WriteJSON sends a JSON frame to the client and must be safe for
	// concurrent use.
	WriteJSON(v interface{}) error

	// Close releases the transport. Repeated calls are no-ops.
	Close() error
}
