package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types let callers tell a malformed
// generator payload apart from a bad client frame.
var (
	ErrEmptyQuestionText     = errors.New("question text cannot be empty")
	ErrNoOptions             = errors.New("question must have at least one option")
	ErrEmptyOption           = errors.New("question options cannot be empty strings")
	ErrAnswerNotInOptions    = errors.New("correct answer must be one of the options")
	ErrInvalidRole           = errors.New("role must be lecturer or student")
	ErrInvalidMessageType    = errors.New("invalid message type")
	ErrEmptyChunk            = errors.New("transcript chunk cannot be empty")
	ErrChunkTooLarge         = errors.New("transcript chunk exceeds 64KB limit")
	ErrMissingQuestionID     = errors.New("question_id is required")
	ErrMissingSelectedOption = errors.New("selected_option is required")
)
