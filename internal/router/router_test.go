package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

type fakeConn struct {
	id, role, sessionID string

	mu     sync.Mutex
	frames []types.OutboundMessage
}

func (c *fakeConn) ID() string        { return c.id }
func (c *fakeConn) Role() string      { return c.role }
func (c *fakeConn) SessionID() string { return c.sessionID }
func (c *fakeConn) Close() error      { return nil }
func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, v.(types.OutboundMessage))
	return nil
}

func (c *fakeConn) last() (types.OutboundMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return types.OutboundMessage{}, false
	}
	return c.frames[len(c.frames)-1], true
}

type fakeSink struct {
	mu     sync.Mutex
	chunks map[string]string
	err    error
}

func (s *fakeSink) AppendTranscript(sessionID, chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.chunks == nil {
		s.chunks = make(map[string]string)
	}
	s.chunks[sessionID] += chunk
	return nil
}

type fakeAnswers struct {
	mu        sync.Mutex
	questions map[string]*types.Question
	recorded  []*types.Answer
	recordErr error
}

func (f *fakeAnswers) GetQuestion(ctx context.Context, sessionID, questionID string) (*types.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.questions[sessionID+"/"+questionID]
	if !ok {
		return nil, interfaces.ErrQuestionNotFound
	}
	return q, nil
}

func (f *fakeAnswers) RecordAnswer(ctx context.Context, a *types.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, a)
	return nil
}

func newTestRouter() (*Router, *fakeSink, *fakeAnswers) {
	sink := &fakeSink{}
	answers := &fakeAnswers{questions: map[string]*types.Question{
		"s1/q1": {ID: "q1", SessionID: "s1", Text: "Q?", Options: []string{"a", "b"}, CorrectAnswer: "b"},
	}}
	return NewRouter(sink, answers, 100), sink, answers
}

// Functional Validation Tests - Transcript chunks

func TestRouter_LecturerChunkAppended(t *testing.T) {
	r, sink, _ := newTestRouter()
	lecturer := &fakeConn{id: "l", role: types.RoleLecturer, sessionID: "s1"}

	for _, chunk := range []string{"hello ", "class"} {
		msg := &types.InboundMessage{Type: types.MessageTypeTranscriptChunk, Chunk: chunk}
		if err := r.RouteMessage(context.Background(), lecturer, msg); err != nil {
			t.Fatalf("RouteMessage failed: %v", err)
		}
	}

	if sink.chunks["s1"] != "hello class" {
		t.Errorf("Expected 'hello class', got %q", sink.chunks["s1"])
	}
	if _, ok := lecturer.last(); ok {
		t.Error("Successful chunk should not produce a reply")
	}
}

func TestRouter_AppendFailureRepliesError(t *testing.T) {
	r, sink, _ := newTestRouter()
	sink.err = errors.New("session closed")
	lecturer := &fakeConn{id: "l", role: types.RoleLecturer, sessionID: "s1"}

	err := r.RouteMessage(context.Background(), lecturer, &types.InboundMessage{Type: types.MessageTypeTranscriptChunk, Chunk: "x"})
	if err == nil {
		t.Fatal("Expected error")
	}
	reply, ok := lecturer.last()
	if !ok || reply.Type != types.MessageTypeError {
		t.Errorf("Expected error reply, got %+v", reply)
	}
}

func TestRouter_RoleAndTypeValidation(t *testing.T) {
	tests := []struct {
		name string
		role string
		msg  types.InboundMessage
	}{
		{"student sends chunk", types.RoleStudent, types.InboundMessage{Type: types.MessageTypeTranscriptChunk, Chunk: "x"}},
		{"lecturer answers", types.RoleLecturer, types.InboundMessage{Type: types.MessageTypeSubmitAnswer, QuestionID: "q1", SelectedOption: "a"}},
		{"unknown type", types.RoleStudent, types.InboundMessage{Type: "shout"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, sink, _ := newTestRouter()
			conn := &fakeConn{id: "c", role: tt.role, sessionID: "s1"}

			err := r.RouteMessage(context.Background(), conn, &tt.msg)
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("Expected ErrInvalidMessage, got %v", err)
			}
			if reply, ok := conn.last(); !ok || reply.Type != types.MessageTypeError {
				t.Errorf("Expected error reply to sender, got %+v", reply)
			}
			if len(sink.chunks) != 0 {
				t.Error("Rejected frame must not reach the buffer")
			}
		})
	}
}

// Functional Validation Tests - Answers

func TestRouter_SubmitAnswerGraded(t *testing.T) {
	tests := []struct {
		selected string
		correct  bool
	}{
		{"b", true},
		{"a", false},
	}

	for _, tt := range tests {
		t.Run(tt.selected, func(t *testing.T) {
			r, _, answers := newTestRouter()
			student := &fakeConn{id: "st", role: types.RoleStudent, sessionID: "s1"}

			msg := &types.InboundMessage{Type: types.MessageTypeSubmitAnswer, QuestionID: "q1", SelectedOption: tt.selected}
			if err := r.RouteMessage(context.Background(), student, msg); err != nil {
				t.Fatalf("RouteMessage failed: %v", err)
			}

			reply, _ := student.last()
			if reply.Type != types.MessageTypeAnswerResult || reply.Correct == nil || *reply.Correct != tt.correct {
				t.Errorf("Expected answer_result correct=%v, got %+v", tt.correct, reply)
			}
			if reply.CorrectAnswer != "b" {
				t.Errorf("Expected correct answer b, got %q", reply.CorrectAnswer)
			}
			if len(answers.recorded) != 1 || answers.recorded[0].Correct != tt.correct || answers.recorded[0].ConnectionID != "st" {
				t.Errorf("Unexpected recorded answers %+v", answers.recorded)
			}
		})
	}
}

func TestRouter_SubmitAnswerFailures(t *testing.T) {
	t.Run("question from another session", func(t *testing.T) {
		r, _, _ := newTestRouter()
		student := &fakeConn{id: "st", role: types.RoleStudent, sessionID: "s2"}
		err := r.RouteMessage(context.Background(), student,
			&types.InboundMessage{Type: types.MessageTypeSubmitAnswer, QuestionID: "q1", SelectedOption: "a"})
		if !errors.Is(err, ErrUnknownQuestion) {
			t.Errorf("Expected ErrUnknownQuestion, got %v", err)
		}
	})

	t.Run("option not offered", func(t *testing.T) {
		r, _, answers := newTestRouter()
		student := &fakeConn{id: "st", role: types.RoleStudent, sessionID: "s1"}
		err := r.RouteMessage(context.Background(), student,
			&types.InboundMessage{Type: types.MessageTypeSubmitAnswer, QuestionID: "q1", SelectedOption: "zzz"})
		if !errors.Is(err, ErrOptionNotAvailable) {
			t.Errorf("Expected ErrOptionNotAvailable, got %v", err)
		}
		if len(answers.recorded) != 0 {
			t.Error("Expected nothing recorded")
		}
	})

	t.Run("record failure", func(t *testing.T) {
		r, _, answers := newTestRouter()
		answers.recordErr = errors.New("disk full")
		student := &fakeConn{id: "st", role: types.RoleStudent, sessionID: "s1"}
		err := r.RouteMessage(context.Background(), student,
			&types.InboundMessage{Type: types.MessageTypeSubmitAnswer, QuestionID: "q1", SelectedOption: "a"})
		if err == nil {
			t.Error("Expected error")
		}
		if reply, _ := student.last(); reply.Type != types.MessageTypeError {
			t.Errorf("Expected error reply, got %+v", reply)
		}
	})
}

// Technical Validation Tests - Rate limiting

func TestRouter_RateLimit(t *testing.T) {
	r, _, _ := newTestRouter()
	r.rateLimiter = NewRateLimiter(3, time.Minute)
	student := &fakeConn{id: "st", role: types.RoleStudent, sessionID: "s1"}
	msg := &types.InboundMessage{Type: types.MessageTypeSubmitAnswer, QuestionID: "q1", SelectedOption: "b"}

	for i := 0; i < 3; i++ {
		if err := r.RouteMessage(context.Background(), student, msg); err != nil {
			t.Fatalf("Message %d rejected: %v", i, err)
		}
	}
	if err := r.RouteMessage(context.Background(), student, msg); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Expected ErrRateLimitExceeded, got %v", err)
	}
	if reply, _ := student.last(); reply.Type != types.MessageTypeError {
		t.Errorf("Expected error reply, got %+v", reply)
	}

	r.Forget(student)
	if err := r.RouteMessage(context.Background(), student, msg); err != nil {
		t.Errorf("Expected fresh window after Forget, got %v", err)
	}
}

func TestRouter_TranscriptChunksNotRateLimited(t *testing.T) {
	sink := &fakeSink{}
	r := NewRouter(sink, &fakeAnswers{}, 3)
	lecturer := &fakeConn{id: "l", role: types.RoleLecturer, sessionID: "s1"}
	msg := &types.InboundMessage{Type: types.MessageTypeTranscriptChunk, Chunk: "x"}

	for i := 0; i < 10; i++ {
		if err := r.RouteMessage(context.Background(), lecturer, msg); err != nil {
			t.Fatalf("Chunk %d rejected: %v", i, err)
		}
	}
	if sink.chunks["s1"] != strings.Repeat("x", 10) {
		t.Errorf("Expected every chunk buffered, got %q", sink.chunks["s1"])
	}
	if _, replied := lecturer.last(); replied {
		t.Error("Lecturer should get no reply for accepted chunks")
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("First two messages should be allowed")
	}
	if rl.Allow("a") {
		t.Error("Third message in window should be denied")
	}
	if !rl.Allow("b") {
		t.Error("Keys must be limited independently")
	}

	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Error("Expected new window to allow message")
	}
	if rl.Tracked() != 2 {
		t.Errorf("Expected 2 tracked keys, got %d", rl.Tracked())
	}
}
