package replayflow

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes
const (
	ErrCodeElementNotFound = "ELEMENT_NOT_FOUND"
	ErrCodeDisambiguation  = "DISAMBIGUATION_NEEDED"
	ErrCodeAuthRequired    = "AUTH_REQUIRED"
	ErrCodeActionFailed    = "ACTION_FAILED"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodeCancelled       = "CANCELLED"
	ErrCodePanic           = "PANIC"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// ErrNotFound is wrapped by stores when a record does not exist
var ErrNotFound = errors.New("not found")

// ElementNotFoundError means no visible element matched any strategy
type ElementNotFoundError struct {
	Step     string
	Tried    []string
	PageInfo string
}

func (e *ElementNotFoundError) Error() string {
	msg := fmt.Sprintf("no visible element found for %q", e.Step)
	if len(e.Tried) > 0 {
		msg += " (tried " + strings.Join(e.Tried, ", ") + ")"
	}
	if e.PageInfo != "" {
		msg += "; " + e.PageInfo
	}
	return msg
}

// Code returns the error code
func (e *ElementNotFoundError) Code() string { return ErrCodeElementNotFound }

// DisambiguationNeeded signals that several plausible elements matched.
// It pauses the run rather than failing it.
type DisambiguationNeeded struct {
	Step       string
	Reason     string
	Candidates []DisambiguationCandidate
}

func (e *DisambiguationNeeded) Error() string {
	return fmt.Sprintf("%d candidates matched %q: %s", len(e.Candidates), e.Step, e.Reason)
}

// Code returns the error code
func (e *DisambiguationNeeded) Code() string { return ErrCodeDisambiguation }

// AuthPauseDetected signals that the page is an authentication page
type AuthPauseDetected struct {
	URL     string
	Title   string
	Matched string
}

func (e *AuthPauseDetected) Error() string {
	return fmt.Sprintf("authentication required at %s (matched %q)", e.URL, e.Matched)
}

// Code returns the error code
func (e *AuthPauseDetected) Code() string { return ErrCodeAuthRequired }

// ActionExecutionError means a located element could not be interacted with
type ActionExecutionError struct {
	Action string
	Err    error
}

func (e *ActionExecutionError) Error() string {
	if e.Err == nil {
		return e.Action + " failed"
	}
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

// Code returns the error code
func (e *ActionExecutionError) Code() string { return ErrCodeActionFailed }

// NewActionError wraps err as an ActionExecutionError
func NewActionError(action string, err error) *ActionExecutionError {
	return &ActionExecutionError{Action: action, Err: err}
}

// TimeoutError means a wait condition never became true
type TimeoutError struct {
	Condition string
	After     time.Duration
	PageInfo  string
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s", e.After, e.Condition)
	if e.PageInfo != "" {
		msg += "; " + e.PageInfo
	}
	return msg
}

// Code returns the error code
func (e *TimeoutError) Code() string { return ErrCodeTimeout }

// EngineError is returned by engine operations
type EngineError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
	Err     error  `json:"-"`
}

func (e *EngineError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("[%s] %s (run: %s)", e.Code, e.Message, e.RunID)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewEngineError creates a new engine error
func NewEngineError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// WithRun attaches the run id
func (e *EngineError) WithRun(runID string) *EngineError {
	e.RunID = runID
	return e
}

// Wrap attaches the underlying cause
func (e *EngineError) Wrap(err error) *EngineError {
	e.Err = err
	return e
}

// ErrorCode extracts the error code carried by err, or INTERNAL_ERROR
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, ErrNotFound) {
		return ErrCodeNotFound
	}
	return ErrCodeInternalError
}

// IsElementNotFound checks if an error is an ElementNotFoundError
func IsElementNotFound(err error) bool {
	var target *ElementNotFoundError
	return errors.As(err, &target)
}

// AsDisambiguation extracts a DisambiguationNeeded signal
func AsDisambiguation(err error) (*DisambiguationNeeded, bool) {
	var target *DisambiguationNeeded
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// AsAuthPause extracts an AuthPauseDetected signal
func AsAuthPause(err error) (*AuthPauseDetected, bool) {
	var target *AuthPauseDetected
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsAuthPause checks if an error asks the user to sign in
func IsAuthPause(err error) bool {
	_, ok := AsAuthPause(err)
	return ok
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsControlFlow reports whether err pauses a run instead of failing it
func IsControlFlow(err error) bool {
	if _, ok := AsDisambiguation(err); ok {
		return true
	}
	_, ok := AsAuthPause(err)
	return ok
}

// IsEngineError checks for an EngineError with the given code
func IsEngineError(err error, code string) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Code == code
}
