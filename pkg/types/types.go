package types

import (
	"time"
)

// Outbound and inbound message type constants shared by the WebSocket
// boundary, the trigger and the lifecycle.
const (
	MessageTypeTranscriptChunk = "transcript_chunk"
	MessageTypeSubmitAnswer    = "submit_answer"
	MessageTypeNewQuestion     = "new_question"
	MessageTypeAnswerResult    = "answer_result"
	MessageTypeSessionEnded    = "session_ended"
	MessageTypeError           = "error"
)

// Roles a connection can take inside a session.
const (
	RoleLecturer = "lecturer"
	RoleStudent  = "student"
)

// Persisted session statuses.
const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
)

// GeneratedByAI marks questions produced by the question generator.
const GeneratedByAI = "AI"

// GenerationFailedMessage is the text broadcast when a generation cycle fails.
const GenerationFailedMessage = "Failed to generate question automatically."

// Session is the persisted record of a lecture session.
// FUNCTIONAL DISCOVERY: Only status and ended_at change after creation;
// the live transcript lives in memory and is never written back.
type Session struct {
	ID        string     `json:"id" db:"id"`
	Status    string     `json:"status" db:"status"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	EndedAt   *time.Time `json:"endedAt,omitempty" db:"ended_at"`
}

// Question is a multiple-choice question derived from a transcript window.
type Question struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId,omitempty"`
	Text          string    `json:"questionText"`
	Options       []string  `json:"options"`
	CorrectAnswer string    `json:"correctAnswer"`
	GeneratedBy   string    `json:"generatedBy"`
	CreatedAt     time.Time `json:"timestamp"`
}

// Answer is a student's submitted choice for a question.
type Answer struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	QuestionID     string    `json:"questionId"`
	ConnectionID   string    `json:"connectionId"`
	SelectedOption string    `json:"selectedOption"`
	Correct        bool      `json:"correct"`
	AnsweredAt     time.Time `json:"answeredAt"`
}

// InboundMessage is any frame a client may send. Unused fields stay empty.
type InboundMessage struct {
	Type           string `json:"type"`
	Chunk          string `json:"chunk,omitempty"`
	QuestionID     string `json:"question_id,omitempty"`
	SelectedOption string `json:"selected_option,omitempty"`
}

// OutboundMessage is the envelope for every frame the server pushes.
// TECHNICAL DISCOVERY: omitempty on every payload field keeps each frame
// limited to the keys its type defines.
type OutboundMessage struct {
	Type          string    `json:"type"`
	Question      *Question `json:"question,omitempty"`
	Message       string    `json:"message,omitempty"`
	QuestionID    string    `json:"question_id,omitempty"`
	Correct       *bool     `json:"correct,omitempty"`
	CorrectAnswer string    `json:"correct_answer,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
}

// NewQuestionMessage wraps a question for fan-out to a session.
func NewQuestionMessage(q *Question) OutboundMessage {
	return OutboundMessage{Type: MessageTypeNewQuestion, Question: q}
}

// NewErrorMessage builds an error frame.
func NewErrorMessage(msg string) OutboundMessage {
	return OutboundMessage{Type: MessageTypeError, Message: msg}
}

// NewAnswerResultMessage builds the grading reply sent to a single student.
func NewAnswerResultMessage(questionID string, correct bool, correctAnswer string) OutboundMessage {
	return OutboundMessage{
		Type:          MessageTypeAnswerResult,
		QuestionID:    questionID,
		Correct:       &correct,
		CorrectAnswer: correctAnswer,
	}
}

// NewSessionEndedMessage notifies connections that a session was closed.
func NewSessionEndedMessage(sessionID string) OutboundMessage {
	return OutboundMessage{
		Type:      MessageTypeSessionEnded,
		SessionID: sessionID,
		Message:   "Session has been ended",
	}
}
