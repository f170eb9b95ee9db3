package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

// TranscriptSink receives lecturer text.
type TranscriptSink interface {
	AppendTranscript(sessionID, chunk string) error
}

// AnswerStore is the slice of persistence grading needs.
type AnswerStore interface {
	GetQuestion(ctx context.Context, sessionID, questionID string) (*types.Question, error)
	RecordAnswer(ctx context.Context, answer *types.Answer) error
}

// Router dispatches inbound frames by type and sender role.
// FUNCTIONAL DISCOVERY: Every rejection is answered on the sender's own
// connection; nothing a client sends is ever broadcast by the router.
type Router struct {
	transcripts TranscriptSink
	answers     AnswerStore
	rateLimiter *RateLimiter
}

// NewRouter creates a router allowing perMinute rate-limited frames per
// connection. Transcript chunks are not counted.
func NewRouter(transcripts TranscriptSink, answers AnswerStore, perMinute int) *Router {
	return &Router{
		transcripts: transcripts,
		answers:     answers,
		rateLimiter: NewRateLimiter(perMinute, time.Minute),
	}
}

// RouteMessage handles one inbound frame from sender.
func (r *Router) RouteMessage(ctx context.Context, sender interfaces.Connection, msg *types.InboundMessage) error {
	if err := msg.Validate(sender.Role()); err != nil {
		r.reply(sender, types.NewErrorMessage(err.Error()))
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	// Transcript chunks are never throttled
	if msg.Type != types.MessageTypeTranscriptChunk && !r.rateLimiter.Allow(sender.ID()) {
		r.reply(sender, types.NewErrorMessage(ErrRateLimitExceeded.Error()))
		return ErrRateLimitExceeded
	}

	switch msg.Type {
	case types.MessageTypeTranscriptChunk:
		if err := r.transcripts.AppendTranscript(sender.SessionID(), msg.Chunk); err != nil {
			r.reply(sender, types.NewErrorMessage(err.Error()))
			return fmt.Errorf("append transcript: %w", err)
		}
		return nil

	case types.MessageTypeSubmitAnswer:
		return r.handleAnswer(ctx, sender, msg)
	}

	// Validate already rejected every other type
	return nil
}

func (r *Router) handleAnswer(ctx context.Context, sender interfaces.Connection, msg *types.InboundMessage) error {
	q, err := r.answers.GetQuestion(ctx, sender.SessionID(), msg.QuestionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrQuestionNotFound) {
			r.reply(sender, types.NewErrorMessage(ErrUnknownQuestion.Error()))
			return ErrUnknownQuestion
		}
		r.reply(sender, types.NewErrorMessage("Failed to grade answer."))
		return fmt.Errorf("load question: %w", err)
	}

	if !contains(q.Options, msg.SelectedOption) {
		r.reply(sender, types.NewErrorMessage(ErrOptionNotAvailable.Error()))
		return ErrOptionNotAvailable
	}

	answer := &types.Answer{
		ID:             uuid.NewString(),
		SessionID:      sender.SessionID(),
		QuestionID:     q.ID,
		ConnectionID:   sender.ID(),
		SelectedOption: msg.SelectedOption,
		Correct:        q.IsCorrect(msg.SelectedOption),
	}
	if err := r.answers.RecordAnswer(ctx, answer); err != nil {
		r.reply(sender, types.NewErrorMessage("Failed to record answer."))
		return fmt.Errorf("record answer: %w", err)
	}

	r.reply(sender, types.NewAnswerResultMessage(q.ID, answer.Correct, q.CorrectAnswer))
	return nil
}

// Forget releases per-connection state once a connection closes.
func (r *Router) Forget(conn interfaces.Connection) {
	r.rateLimiter.Forget(conn.ID())
}

func (r *Router) reply(conn interfaces.Connection, msg types.OutboundMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Failed to reply to %s: %v", conn.ID(), err)
	}
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}
