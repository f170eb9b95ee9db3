package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"lectern/internal/session"
	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

type fakeRegistry struct {
	mu     sync.Mutex
	refuse map[string]error
	joined []string
	left   []string
	leftCh chan string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{refuse: make(map[string]error), leftCh: make(chan string, 16)}
}

func (r *fakeRegistry) CreateSession(ctx context.Context) (*types.Session, error) {
	return &types.Session{ID: "new"}, nil
}
func (r *fakeRegistry) SessionExists(id string) bool { return r.refuse[id] == nil }
func (r *fakeRegistry) AppendTranscript(id, chunk string) error {
	return nil
}
func (r *fakeRegistry) CloseSession(ctx context.Context, id string) error { return nil }

func (r *fakeRegistry) Join(conn interfaces.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refuse[conn.SessionID()]; err != nil {
		return err
	}
	r.joined = append(r.joined, conn.ID())
	return nil
}

func (r *fakeRegistry) Leave(conn interfaces.Connection) {
	r.mu.Lock()
	r.left = append(r.left, conn.ID())
	r.mu.Unlock()
	r.leftCh <- conn.ID()
}

type fakeRouter struct {
	mu       sync.Mutex
	messages []types.InboundMessage
	forgot   int
	routed   chan types.InboundMessage
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{routed: make(chan types.InboundMessage, 16)}
}

func (r *fakeRouter) RouteMessage(ctx context.Context, sender interfaces.Connection, msg *types.InboundMessage) error {
	r.mu.Lock()
	r.messages = append(r.messages, *msg)
	r.mu.Unlock()
	r.routed <- *msg
	return nil
}

func (r *fakeRouter) Forget(conn interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgot++
}

func (r *fakeRouter) forgotten() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forgot
}

func setupHandler(t *testing.T, cfg Config) (*httptest.Server, *fakeRegistry, *fakeRouter) {
	t.Helper()
	registry := newFakeRegistry()
	router := newFakeRouter()

	r := chi.NewRouter()
	r.Get("/ws/{role}/{sessionID}", NewHandler(registry, router, cfg).ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry, router
}

func dial(t *testing.T, srv *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

// Functional Validation Tests
func TestHandler_InvalidRoleIsBadRequest(t *testing.T) {
	srv, _, _ := setupHandler(t, DefaultConfig())

	_, resp, err := dial(t, srv, "/ws/admin/s1")
	if err == nil {
		t.Fatal("Expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %+v", resp)
	}
}

func TestHandler_RefusalsClosePolicyViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantReason string
	}{
		{"unknown session", session.ErrSessionNotFound, websocket.ClosePolicyViolation, ReasonSessionNotFound},
		{"closed session", session.ErrSessionClosed, websocket.ClosePolicyViolation, ReasonSessionClosed},
		{"second lecturer", session.ErrLecturerAlreadyConnected, websocket.ClosePolicyViolation, ReasonLecturerPresent},
		{"store failure", context.DeadlineExceeded, websocket.CloseInternalServerErr, ReasonInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, registry, _ := setupHandler(t, DefaultConfig())
			registry.refuse["s1"] = tt.err

			client, _, err := dial(t, srv, "/ws/lecturer/s1")
			if err != nil {
				t.Fatalf("Upgrade should succeed before refusal: %v", err)
			}

			_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err = client.ReadMessage()
			closeErr, ok := err.(*websocket.CloseError)
			if !ok {
				t.Fatalf("Expected close error, got %v", err)
			}
			if closeErr.Code != tt.wantCode || closeErr.Text != tt.wantReason {
				t.Errorf("Expected %d %q, got %d %q", tt.wantCode, tt.wantReason, closeErr.Code, closeErr.Text)
			}
		})
	}
}

func TestHandler_RoutesInboundFrames(t *testing.T) {
	srv, _, router := setupHandler(t, DefaultConfig())

	client, _, err := dial(t, srv, "/ws/lecturer/s1")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	frame := map[string]string{"type": "transcript_chunk", "chunk": "hello class"}
	if err := client.WriteJSON(frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case msg := <-router.routed:
		if msg.Type != types.MessageTypeTranscriptChunk || msg.Chunk != "hello class" {
			t.Errorf("Unexpected routed message %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Frame never reached the router")
	}
}

func TestHandler_InvalidJSONGetsErrorReply(t *testing.T) {
	srv, _, router := setupHandler(t, DefaultConfig())

	client, _, err := dial(t, srv, "/ws/student/s1")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if err := client.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msg := readOutbound(t, client)
	if msg.Type != types.MessageTypeError || msg.Message != ErrInvalidJSON.Error() {
		t.Errorf("Expected invalid JSON error, got %+v", msg)
	}
	if len(router.routed) != 0 {
		t.Error("Invalid JSON must not reach the router")
	}
}

func TestHandler_DisconnectLeavesAndForgets(t *testing.T) {
	srv, registry, router := setupHandler(t, DefaultConfig())

	client, _, err := dial(t, srv, "/ws/student/s1")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	_ = client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = client.Close()

	select {
	case <-registry.leftCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Leave was never called")
	}

	registry.mu.Lock()
	joined, left := len(registry.joined), len(registry.left)
	registry.mu.Unlock()
	if joined != 1 || left != 1 {
		t.Errorf("Expected one join and one leave, got %d/%d", joined, left)
	}

	// Forget runs right after Leave on the same goroutine
	deadline := time.Now().Add(time.Second)
	for router.forgotten() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Router state was never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Technical Validation Tests
func TestHandler_HeartbeatPings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PingInterval = 20 * time.Millisecond
	srv, _, _ := setupHandler(t, cfg)

	client, _, err := dial(t, srv, "/ws/student/s1")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	pings := make(chan struct{}, 8)
	client.SetPingHandler(func(string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return client.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second))
	})

	// Control frames are only processed while reading
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-pings:
		case <-time.After(2 * time.Second):
			t.Fatalf("Expected ping #%d", i+1)
		}
	}
}

func TestHandler_ReadTimeoutDropsSilentClient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadTimeout = 100 * time.Millisecond
	cfg.PingInterval = time.Hour
	srv, registry, _ := setupHandler(t, cfg)

	// Never reads, so never answers pings and never sends
	if _, _, err := dial(t, srv, "/ws/student/s1"); err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	select {
	case <-registry.leftCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Silent client was never dropped")
	}
}
