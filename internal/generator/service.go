package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"lectern/pkg/types"
)

// Service turns transcript text into a multiple-choice question with a
// prompt+model chain.
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the generation chain around chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel) (*Service, error) {
	if chatModel == nil {
		return nil, ErrGeneratorUnavailable
	}

	tpl := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(questionSystemPrompt),
		schema.UserMessage(questionUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tpl)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile question chain: %w", err)
	}
	return &Service{chain: runnable}, nil
}

// Generate asks the model for one question about transcript.
func (s *Service) Generate(ctx context.Context, transcript string) (*types.Question, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}

	msg, err := s.chain.Invoke(ctx, map[string]any{"transcript": transcript})
	if err != nil {
		return nil, fmt.Errorf("question chain invoke failed: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}

	q, err := parseQuestion(msg.Content)
	if err != nil {
		log.Printf("[generator] unusable model output: %v", err)
		return nil, err
	}
	return q, nil
}

type questionPayload struct {
	QuestionText  string   `json:"question_text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

// parseQuestion extracts the outermost JSON object from content, which
// tolerates code fences and chatter around it.
func parseQuestion(content string) (*types.Question, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("%w: missing json object", ErrMalformedResponse)
	}

	var payload questionPayload
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	options := make([]string, 0, len(payload.Options))
	for _, opt := range payload.Options {
		options = append(options, strings.TrimSpace(opt))
	}

	q := &types.Question{
		Text:          strings.TrimSpace(payload.QuestionText),
		Options:       options,
		CorrectAnswer: strings.TrimSpace(payload.CorrectAnswer),
		GeneratedBy:   types.GeneratedByAI,
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return q, nil
}

// Unavailable stands in when no model is configured. Every call fails, so
// sessions see the usual generation error instead of silence.
type Unavailable struct{}

func (Unavailable) Generate(ctx context.Context, transcript string) (*types.Question, error) {
	return nil, ErrGeneratorUnavailable
}
