package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is the stable, operator-visible classification of an engine failure.
type ErrorCode string

const (
	CodeTriggerRejected      ErrorCode = "TriggerRejected"
	CodeRateLimitExceeded    ErrorCode = "RateLimitExceeded"
	CodeConfigurationError   ErrorCode = "ConfigurationError"
	CodeTransientFailure     ErrorCode = "TransientActionFailure"
	CodeActionFailed         ErrorCode = "ActionFailed"
	CodeInterruptedExecution ErrorCode = "InterruptedExecution"
	CodeCancelled            ErrorCode = "Cancelled"
)

var (
	ErrTriggerRejected      = errors.New("trigger rejected")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrConfiguration        = errors.New("configuration error")
	ErrTransientAction      = errors.New("transient action failure")
	ErrActionFailed         = errors.New("action failed")
	ErrInterruptedExecution = errors.New("interrupted execution")
	ErrRunCancelled         = errors.New("run cancelled")
)

// Trigger rejection reasons. Each matches ErrTriggerRejected with errors.Is.
var (
	ErrUnauthorized           = fmt.Errorf("%w: unauthorized", ErrTriggerRejected)
	ErrUnsupportedContentType = fmt.Errorf("%w: unsupported content type", ErrTriggerRejected)
	ErrMalformedPayload       = fmt.Errorf("%w: malformed payload", ErrTriggerRejected)
	ErrDuplicateIntent        = fmt.Errorf("%w: duplicate dedupe key", ErrTriggerRejected)
	ErrUnknownWebhook         = fmt.Errorf("%w: no webhook registered for path", ErrTriggerRejected)
	ErrMethodNotAllowed       = fmt.Errorf("%w: method not allowed", ErrTriggerRejected)
	ErrUnknownWorkflow        = fmt.Errorf("%w: workflow not found", ErrTriggerRejected)
)

// ActionError is returned by action adapters to classify a failure.
type ActionError struct {
	Retryable  bool
	StatusCode int
	Err        error
}

func (e *ActionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
	}

	return e.Err.Error()
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

func (e *ActionError) Is(target error) bool {
	if e.Retryable {
		return target == ErrTransientAction
	}

	return target == ErrActionFailed
}

// Transient marks err as retryable.
func Transient(err error) error {
	return &ActionError{Retryable: true, Err: err}
}

// Permanent marks err as terminal for the step.
func Permanent(err error) error {
	return &ActionError{Retryable: false, Err: err}
}

// StatusError classifies an HTTP-like status: 408, 429 and 5xx are retryable.
func StatusError(status int, err error) error {
	retryable := status == 408 || status == 429 || status >= 500

	return &ActionError{Retryable: retryable, StatusCode: status, Err: err}
}

// ConfigurationError wraps err as a non-retryable configuration problem.
func ConfigurationError(err error) error {
	return fmt.Errorf("%w: %w", ErrConfiguration, err)
}

// IsRetryable reports whether a step attempt that failed with err may be retried.
// Unclassified errors are retryable; only configuration problems, adapter
// rejections and cancellation are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrConfiguration):
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		return actionErr.Retryable
	}

	return true
}

// CodeOf maps err to its error code.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTriggerRejected):
		return CodeTriggerRejected
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimitExceeded
	case errors.Is(err, ErrConfiguration):
		return CodeConfigurationError
	case errors.Is(err, ErrInterruptedExecution):
		return CodeInterruptedExecution
	case errors.Is(err, ErrRunCancelled):
		return CodeCancelled
	case IsRetryable(err):
		return CodeTransientFailure
	default:
		return CodeActionFailed
	}
}

// StepError is the terminal error of a run, attributed to the step that caused it.
type StepError struct {
	StepIndex  int
	ActionKind ActionKind
	Attempt    int
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) attempt %d: %v", e.StepIndex, e.ActionKind, e.Attempt, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Failure converts the error to its persisted form.
func (e *StepError) Failure() *Failure {
	return &Failure{
		StepIndex:  e.StepIndex,
		ActionKind: e.ActionKind,
		Attempt:    e.Attempt,
		Code:       CodeOf(e.Err),
		Message:    e.Err.Error(),
	}
}
