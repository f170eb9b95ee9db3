package interfaces

import (
	"context"

	"lectern/pkg/types"
)

// MessageRouter dispatches frames received from a connection.
type MessageRouter interface {
	// RouteMessage handles one inbound frame. Errors are reported to the
	// sender by the router itself; the returned error is for logging.
	RouteMessage(ctx context.Context, sender Connection, msg *types.InboundMessage) error
}
