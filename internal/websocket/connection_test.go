package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lectern/internal/hub"
	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newSocketPair returns the server and client ends of one live socket.
func newSocketPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	serverCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverCh <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server := <-serverCh:
		return server, client
	case <-time.After(2 * time.Second):
		t.Fatal("server side never upgraded")
		return nil, nil
	}
}

func readOutbound(t *testing.T, client *websocket.Conn) types.OutboundMessage {
	t.Helper()
	var msg types.OutboundMessage
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := client.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

// Architectural Validation Tests
func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
}

// Functional Validation Tests
func TestConnection_NewConnectionInitialization(t *testing.T) {
	server, _ := newSocketPair(t)
	conn := NewConnection(server, types.RoleStudent, "s1", DefaultConfig())
	defer conn.Close()

	if conn.ID() == "" {
		t.Error("Expected a generated connection id")
	}
	if conn.Role() != types.RoleStudent || conn.SessionID() != "s1" {
		t.Errorf("Unexpected identity %s/%s", conn.Role(), conn.SessionID())
	}
	if cap(conn.writeCh) != 100 {
		t.Errorf("Expected write channel buffer of 100, got %d", cap(conn.writeCh))
	}

	other := NewConnection(server, types.RoleStudent, "s1", DefaultConfig())
	if other.ID() == conn.ID() {
		t.Error("Connection ids must be unique")
	}
}

func TestConnection_WriteJSONDelivers(t *testing.T) {
	server, client := newSocketPair(t)
	conn := NewConnection(server, types.RoleStudent, "s1", DefaultConfig())
	conn.Start()
	defer conn.Close()

	if err := conn.WriteJSON(types.NewErrorMessage("boom")); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	msg := readOutbound(t, client)
	if msg.Type != types.MessageTypeError || msg.Message != "boom" {
		t.Errorf("Unexpected frame %+v", msg)
	}
}

func TestConnection_WriteJSONInvalidData(t *testing.T) {
	server, _ := newSocketPair(t)
	conn := NewConnection(server, types.RoleStudent, "s1", DefaultConfig())
	conn.Start()
	defer conn.Close()

	if err := conn.WriteJSON(make(chan int)); !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("Expected ErrInvalidJSON, got %v", err)
	}
}

func TestConnection_CloseFlushesQueuedFrames(t *testing.T) {
	server, client := newSocketPair(t)
	conn := NewConnection(server, types.RoleStudent, "s1", DefaultConfig())

	// Queued before the writer runs
	for _, text := range []string{"one", "two", "three"} {
		if err := conn.WriteJSON(types.NewErrorMessage(text)); err != nil {
			t.Fatalf("WriteJSON failed: %v", err)
		}
	}
	conn.Start()
	conn.Close()

	for _, want := range []string{"one", "two", "three"} {
		if got := readOutbound(t, client); got.Message != want {
			t.Errorf("Expected %q, got %q", want, got.Message)
		}
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal close after flush, got %v", err)
	}

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Error("Done never closed")
	}
}

func TestConnection_WriteAfterClose(t *testing.T) {
	server, _ := newSocketPair(t)
	conn := NewConnection(server, types.RoleStudent, "s1", DefaultConfig())
	conn.Start()

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := conn.WriteJSON(types.NewErrorMessage("late")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	server, _ := newSocketPair(t)
	conn := NewConnection(server, types.RoleStudent, "s1", DefaultConfig())
	conn.Start()

	for i := 0; i < 3; i++ {
		if err := conn.Close(); err != nil {
			t.Errorf("Close #%d failed: %v", i+1, err)
		}
	}
	select {
	case <-conn.Context().Done():
	case <-time.After(2 * time.Second):
		t.Error("Context never cancelled")
	}
}

func TestConnection_CloseWithoutStart(t *testing.T) {
	server, _ := newSocketPair(t)
	conn := NewConnection(server, types.RoleStudent, "s1", DefaultConfig())

	conn.Close()
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Close without Start must still release the socket")
	}
	// A late Start is a no-op
	conn.Start()
}

// Technical Validation Tests
func TestConnection_FullQueueFailsFast(t *testing.T) {
	server, _ := newSocketPair(t)
	cfg := DefaultConfig()
	cfg.WriteQueueSize = 1
	conn := NewConnection(server, types.RoleStudent, "s1", cfg)
	defer conn.Close()

	// Writer not started, so the queue never drains
	if err := conn.WriteJSON(types.NewErrorMessage("fits")); err != nil {
		t.Fatalf("First write should fit: %v", err)
	}

	start := time.Now()
	if err := conn.WriteJSON(types.NewErrorMessage("blocked")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
	if elapsed := time.Since(start); elapsed >= cfg.WriteTimeout {
		t.Errorf("Full queue should not wait for the write timeout, took %v", elapsed)
	}
}

func TestConnection_StalledPeerDoesNotHoldUpBroadcast(t *testing.T) {
	stalledServer, _ := newSocketPair(t)
	healthyServer, healthyClient := newSocketPair(t)

	cfg := DefaultConfig()
	cfg.WriteQueueSize = 1
	stalled := NewConnection(stalledServer, types.RoleStudent, "s1", cfg)
	healthy := NewConnection(healthyServer, types.RoleStudent, "s1", DefaultConfig())
	healthy.Start()
	defer healthy.Close()

	// Writer never started, so one frame fills the queue for good
	if err := stalled.WriteJSON(types.NewErrorMessage("backlog")); err != nil {
		t.Fatalf("Backlog write failed: %v", err)
	}

	h := hub.NewHub()
	if err := h.Connect("s1", stalled); err != nil {
		t.Fatalf("Connect stalled failed: %v", err)
	}
	if err := h.Connect("s1", healthy); err != nil {
		t.Fatalf("Connect healthy failed: %v", err)
	}

	start := time.Now()
	if n := h.Broadcast("s1", types.NewErrorMessage("hello")); n != 1 {
		t.Errorf("Expected delivery to 1 connection, got %d", n)
	}
	if elapsed := time.Since(start); elapsed >= cfg.WriteTimeout {
		t.Errorf("Broadcast waited on the stalled peer for %v", elapsed)
	}
	if msg := readOutbound(t, healthyClient); msg.Message != "hello" {
		t.Errorf("Expected hello, got %+v", msg)
	}
	if got := h.Count("s1"); got != 1 {
		t.Errorf("Expected stalled connection pruned, %d remain", got)
	}
	select {
	case <-stalled.Done():
	case <-time.After(time.Second):
		t.Error("Pruned connection should be closed")
	}
}

func TestConnection_ConcurrentWrites(t *testing.T) {
	server, client := newSocketPair(t)
	conn := NewConnection(server, types.RoleStudent, "s1", DefaultConfig())
	conn.Start()
	defer conn.Close()

	const writers, perWriter = 10, 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if err := conn.WriteJSON(types.NewErrorMessage("x")); err != nil {
					t.Errorf("WriteJSON failed: %v", err)
				}
			}
		}()
	}

	for i := 0; i < writers*perWriter; i++ {
		readOutbound(t, client)
	}
	wg.Wait()
}
