package pipeline

import (
	"fmt"
	"strings"
)

// Error codes recorded on failed jobs. Failure reason strings become
// user-facing only once a job reaches dead_lettered.
const (
	ErrorCodeProviderError  = "provider_error"
	ErrorCodeTimeout        = "timeout"
	ErrorCodeInvalidInput   = "invalid_input"
	ErrorCodeRenderFailed   = "render_failed"
	ErrorCodeFinalizeFailed = "finalize_failed"
	ErrorCodeRetryExhausted = "retry_exhausted"
	ErrorCodeUnknown        = "unknown"
)

// StepError is the typed failure a step executor returns. The orchestrator
// consumes it for retry accounting; executors themselves carry no retry
// logic.
type StepError struct {
	Code    string
	Message string
	Cause   error
}

func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// NewStepError creates a typed step failure.
func NewStepError(code, message string, cause error) *StepError {
	return &StepError{Code: code, Message: message, Cause: cause}
}

// ClassifyStepError extracts the error code and message from an executor
// failure. Typed failures pass through; anything else is classified from
// its message so provider SDK errors still land in a sensible bucket.
func ClassifyStepError(step Step, err error) (code, message string) {
	if err == nil {
		return ErrorCodeUnknown, "unknown error"
	}

	if stepErr, ok := err.(*StepError); ok {
		return stepErr.Code, stepErr.Message
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "deadline exceeded") || strings.Contains(lower, "timed out") || strings.Contains(lower, "timeout"):
		code = ErrorCodeTimeout
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "validation"):
		code = ErrorCodeInvalidInput
	case step == StepRendering && (strings.Contains(lower, "render") || strings.Contains(lower, "ffmpeg")):
		code = ErrorCodeRenderFailed
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota") || strings.Contains(lower, "unavailable") || strings.Contains(lower, "connection"):
		code = ErrorCodeProviderError
	default:
		code = ErrorCodeUnknown
	}

	return code, fmt.Sprintf("%s failed: %s", step, msg)
}
