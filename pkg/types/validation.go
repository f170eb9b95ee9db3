package types

import "strings"

// MaxChunkBytes bounds a single transcript_chunk frame.
const MaxChunkBytes = 65536

// Validate checks the invariants every stored or broadcast question holds.
func (q *Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return ErrEmptyQuestionText
	}
	if len(q.Options) == 0 {
		return ErrNoOptions
	}
	found := false
	for _, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return ErrEmptyOption
		}
		if opt == q.CorrectAnswer {
			found = true
		}
	}
	if !found {
		return ErrAnswerNotInOptions
	}
	return nil
}

// IsCorrect reports whether the selected option matches the correct answer.
func (q *Question) IsCorrect(selected string) bool {
	return selected == q.CorrectAnswer
}

// Validate checks an inbound frame against the sender's role.
// FUNCTIONAL DISCOVERY: Role gating happens here so the router never sees a
// transcript chunk from a student or an answer from the lecturer.
func (m *InboundMessage) Validate(role string) error {
	switch m.Type {
	case MessageTypeTranscriptChunk:
		if role != RoleLecturer {
			return ErrInvalidMessageType
		}
		if m.Chunk == "" {
			return ErrEmptyChunk
		}
		if len(m.Chunk) > MaxChunkBytes {
			return ErrChunkTooLarge
		}
	case MessageTypeSubmitAnswer:
		if role != RoleStudent {
			return ErrInvalidMessageType
		}
		if m.QuestionID == "" {
			return ErrMissingQuestionID
		}
		if m.SelectedOption == "" {
			return ErrMissingSelectedOption
		}
	default:
		return ErrInvalidMessageType
	}
	return nil
}

// IsValidRole reports whether role names a known connection role.
func IsValidRole(role string) bool {
	return role == RoleLecturer || role == RoleStudent
}
