package transcript

import "errors"

var (
	ErrTriggerAlreadyRunning = errors.New("trigger is already running")
	ErrTriggerNotRunning     = errors.New("trigger is not running")
	ErrInvalidQuestion       = errors.New("generator returned an invalid question")
)
