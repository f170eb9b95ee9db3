package interfaces

import (
	"context"

	"lectern/pkg/types"
)

// QuestionGenerator turns a transcript window into one validated question.
// Implementations must honour ctx cancellation and report malformed model
// output as an error instead of returning a partial question.
type QuestionGenerator interface {
	Generate(ctx context.Context, transcript string) (*types.Question, error)
}
