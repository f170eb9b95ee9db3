package generator

import "errors"

var (
	// ErrMalformedResponse means the model answered with something that is
	// not a usable question.
	ErrMalformedResponse = errors.New("malformed generator response")

	// ErrGeneratorUnavailable is returned when no model is configured.
	ErrGeneratorUnavailable = errors.New("question generator unavailable")

	ErrEmptyTranscript = errors.New("empty transcript")
)
