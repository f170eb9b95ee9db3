package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gorilla/websocket"

	"lectern/internal/api"
	"lectern/internal/app"
	"lectern/internal/config"
	"lectern/internal/generator"
	"lectern/pkg/types"
)

// scriptedModel is a chat model whose reply the test can change.
type scriptedModel struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (m *scriptedModel) setReply(reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = reply
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *scriptedModel) BindTools(tools []*schema.ToolInfo) error { return nil }

// testEnv is a full application behind an httptest server.
type testEnv struct {
	app    *app.Application
	server *httptest.Server
	model  *scriptedModel
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "lectern.db")
	cfg.HTTP.Port = 0
	// Sweeps are driven by hand; any idle time is enough
	cfg.Generation.Interval = time.Millisecond
	cfg.Generation.CheckInterval = time.Hour

	m := &scriptedModel{}
	gen, err := generator.NewService(context.Background(), m)
	if err != nil {
		t.Fatalf("Failed to build generator: %v", err)
	}

	application, err := app.NewApplication(cfg, app.WithGenerator(gen))
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Failed to stop application: %v", err)
		}
	})

	return &testEnv{app: application, server: srv, model: m}
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp, err := http.Post(e.server.URL+"/start-session", "application/json", nil)
	if err != nil {
		t.Fatalf("start-session failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	var body api.CreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode session id: %v", err)
	}
	return body.SessionID
}

func (e *testEnv) getSession(t *testing.T, id string) api.SessionResponse {
	t.Helper()
	resp, err := http.Get(e.server.URL + "/api/sessions/" + id)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	defer resp.Body.Close()
	var body api.SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode session: %v", err)
	}
	return body
}

func (e *testEnv) questions(t *testing.T, id string) []*types.Question {
	t.Helper()
	resp, err := http.Get(e.server.URL + "/api/sessions/" + id + "/questions")
	if err != nil {
		t.Fatalf("list questions failed: %v", err)
	}
	defer resp.Body.Close()
	var body api.QuestionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode questions: %v", err)
	}
	return body.Questions
}

func (e *testEnv) results(t *testing.T, sessionID, questionID string) api.ResultsResponse {
	t.Helper()
	resp, err := http.Get(e.server.URL + "/api/sessions/" + sessionID + "/questions/" + questionID + "/results")
	if err != nil {
		t.Fatalf("results request failed: %v", err)
	}
	defer resp.Body.Close()
	var body api.ResultsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode results: %v", err)
	}
	return body
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (e *testEnv) waitForBuffer(t *testing.T, id string, length int) {
	t.Helper()
	waitFor(t, fmt.Sprintf("buffer length %d", length), func() bool {
		live := e.getSession(t, id).Live
		return live != nil && live.BufferLength == length
	})
}

// sweep runs one trigger pass and waits for the generations it started.
func (e *testEnv) sweep(t *testing.T) int {
	t.Helper()
	time.Sleep(5 * time.Millisecond)
	fired := e.app.Trigger().RunOnce(context.Background())
	e.app.Trigger().Wait()
	return fired
}

// TestClient is a WebSocket client that collects every frame it receives.
type TestClient struct {
	conn     *websocket.Conn
	messages chan types.OutboundMessage
	done     chan struct{}

	mu       sync.Mutex
	closeErr error
}

func dialClient(t *testing.T, e *testEnv, role, sessionID string) *TestClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/" + role + "/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", role, err)
	}

	c := &TestClient{
		conn:     conn,
		messages: make(chan types.OutboundMessage, 100),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *TestClient) readLoop() {
	defer close(c.done)
	for {
		var msg types.OutboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.closeErr = err
			c.mu.Unlock()
			return
		}
		c.messages <- msg
	}
}

func (c *TestClient) send(t *testing.T, v interface{}) {
	t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
}

// expect waits for the next frame and checks its type.
func (c *TestClient) expect(t *testing.T, msgType string) types.OutboundMessage {
	t.Helper()
	select {
	case msg := <-c.messages:
		if msg.Type != msgType {
			t.Fatalf("Expected %s, got %+v", msgType, msg)
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatalf("Timed out waiting for %s", msgType)
		return types.OutboundMessage{}
	}
}

// expectQuiet asserts that nothing arrives for a short while.
func (c *TestClient) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case msg := <-c.messages:
		t.Fatalf("Expected no frame, got %+v", msg)
	case <-time.After(150 * time.Millisecond):
	}
}

// closed waits for the server to close the socket and returns the reason.
func (c *TestClient) closed(t *testing.T) *websocket.CloseError {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(3 * time.Second):
		t.Fatal("Server never closed the connection")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	closeErr, ok := c.closeErr.(*websocket.CloseError)
	if !ok {
		t.Fatalf("Expected close frame, got %v", c.closeErr)
	}
	return closeErr
}

func newDeleteRequest(url string) (*http.Request, error) {
	return http.NewRequest(http.MethodDelete, url, nil)
}
