package interfaces

import (
	"context"

	"lectern/pkg/types"
)

// CancelFunc ends a subscription. It is idempotent and never blocks on a
// delivery in progress.
type CancelFunc func()

// Store is the persistence collaborator for sessions, questions and answers.
// ARCHITECTURAL DISCOVERY: The change feed lives on the same interface as the
// writes so a question is only announced after it has been committed.
type Store interface {
	// CreateSession persists a new session record.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession returns ErrSessionNotFound for unknown ids.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSessionStatus changes status and stamps ended_at when closing.
	UpdateSessionStatus(ctx context.Context, sessionID, status string) error

	// CloseStaleSessions marks every session still active as closed and
	// returns how many were changed.
	CloseStaleSessions(ctx context.Context) (int64, error)

	// AddQuestion appends a question to the session's collection.
	AddQuestion(ctx context.Context, sessionID string, question *types.Question) error

	// GetQuestion returns ErrQuestionNotFound when the question is not part
	// of the given session.
	GetQuestion(ctx context.Context, sessionID, questionID string) (*types.Question, error)

	// ListQuestions returns a session's questions in creation order.
	ListQuestions(ctx context.Context, sessionID string) ([]*types.Question, error)

	// RecordAnswer persists a graded answer.
	RecordAnswer(ctx context.Context, answer *types.Answer) error

	// SubscribeToNewQuestions delivers every question added to the session
	// after the call returns, exactly once, until cancel is invoked.
	SubscribeToNewQuestions(sessionID string, onAdded func(*types.Question)) (CancelFunc, error)

	// HealthCheck verifies database connectivity.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and ends all subscriptions.
	Close() error
}
