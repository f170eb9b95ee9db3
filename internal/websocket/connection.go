package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection implements interfaces.Connection over a gorilla socket.
// ARCHITECTURAL DISCOVERY: All data frames go through one writer goroutine;
// gorilla only allows WriteControl and Close to run concurrently with it.
type Connection struct {
	conn      *websocket.Conn
	id        string
	role      string
	sessionID string
	config    Config

	writeCh   chan []byte
	closing   chan struct{}
	loopDone  chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	startOnce sync.Once
}

// NewConnection wraps conn. Frames queued before Start are flushed once the
// writer runs.
func NewConnection(conn *websocket.Conn, role, sessionID string, config Config) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		conn:      conn,
		id:        uuid.NewString(),
		role:      role,
		sessionID: sessionID,
		config:    config,
		writeCh:   make(chan []byte, config.WriteQueueSize),
		closing:   make(chan struct{}),
		loopDone:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the writer goroutine.
func (c *Connection) Start() {
	c.startOnce.Do(func() {
		go c.writeLoop()
	})
}

func (c *Connection) ID() string        { return c.id }
func (c *Connection) Role() string      { return c.role }
func (c *Connection) SessionID() string { return c.sessionID }

// Context is cancelled once the connection is fully torn down.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) writeLoop() {
	defer func() {
		c.cancel()
		_ = c.conn.Close()
		close(c.loopDone)
	}()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				return
			}

		case <-c.closing:
			// Flush what was queued before Close, then say goodbye
			for {
				select {
				case data := <-c.writeCh:
					if err := c.write(data); err != nil {
						return
					}
				default:
					msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
					_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.config.WriteTimeout))
					return
				}
			}
		}
	}
}

func (c *Connection) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WriteJSON queues v for delivery. It never waits: a closing connection or
// a full queue is reported straight away.
// TECHNICAL DISCOVERY: The hub sends to a session's connections one after
// another, so blocking on one stalled client would hold up everyone behind it.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.closing:
		return ErrConnectionClosed
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close asks the writer to flush and close. It does not wait for the flush.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		// Without a running writer nobody else will release the socket
		c.startOnce.Do(func() {
			c.cancel()
			_ = c.conn.Close()
			close(c.loopDone)
		})
	})
	return nil
}

// Done is closed after the socket has been released.
func (c *Connection) Done() <-chan struct{} {
	return c.loopDone
}

// reject sends a policy close frame on a connection that never started.
func reject(conn *websocket.Conn, code int, reason string, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	_ = conn.Close()
}
