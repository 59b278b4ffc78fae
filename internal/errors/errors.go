package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure classes the rotation workflow distinguishes.
var (
	// ErrEntropySourceUnavailable is fatal: secret generation never falls back
	// to a weaker source.
	ErrEntropySourceUnavailable = errors.New("entropy source unavailable")

	// ErrBackendUnreachable means a backing store could not be reached in time.
	// The operator may retry.
	ErrBackendUnreachable = errors.New("backend unreachable")

	// ErrConfirmationDeclined is a user-initiated abort, not a failure.
	ErrConfirmationDeclined = errors.New("confirmation declined")
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// CommandError represents a command execution error
type CommandError struct {
	Command    string
	ExitCode   int
	Message    string
	Suggestion string
}

func (e CommandError) Error() string {
	msg := fmt.Sprintf("Command '%s' failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// BackendError wraps a failed call against one backing store.
type BackendError struct {
	Store string
	Op    string
	Err   error
	// Unreachable is set when the store could not be contacted at all
	// (connection refused, timeout) as opposed to rejecting the request.
	Unreachable bool
}

func (e *BackendError) Error() string {
	kind := "failed"
	if e.Unreachable {
		kind = "unreachable"
	}
	return fmt.Sprintf("%s %s during %s: %v", e.Store, kind, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is reports unreachable backend errors as ErrBackendUnreachable.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackendUnreachable && e.Unreachable
}

// StepStatus is the outcome of one store write within a rotation.
type StepStatus string

const (
	StepOK      StepStatus = "OK"
	StepFailed  StepStatus = "FAIL"
	StepSkipped StepStatus = "SKIPPED"
)

// StepResult records what happened to one store during a rotation.
type StepResult struct {
	Store  string
	Target string
	Status StepStatus
	Err    error
}

// Label returns "store" or "store:target".
func (s StepResult) Label() string {
	if s.Target == "" {
		return s.Store
	}
	return s.Store + ":" + s.Target
}

// PartialRotationFailure reports which stores were updated and which were not
// so the operator can finish the rotation by hand.
type PartialRotationFailure struct {
	Class string
	Steps []StepResult
}

func (e *PartialRotationFailure) Error() string {
	var updated, notUpdated []string
	for _, s := range e.Steps {
		if s.Status == StepOK {
			updated = append(updated, s.Label())
		} else {
			notUpdated = append(notUpdated, s.Label())
		}
	}
	if len(updated) == 0 {
		updated = []string{"none"}
	}
	return fmt.Sprintf("partial %s rotation failure: updated [%s], not updated [%s]",
		e.Class, strings.Join(updated, ", "), strings.Join(notUpdated, ", "))
}

// Unwrap exposes the first step error.
func (e *PartialRotationFailure) Unwrap() error {
	for _, s := range e.Steps {
		if s.Err != nil {
			return s.Err
		}
	}
	return nil
}

// Updated returns the labels of the steps that completed.
func (e *PartialRotationFailure) Updated() []string {
	return e.labels(func(s StepResult) bool { return s.Status == StepOK })
}

// NotUpdated returns the labels of the steps that failed or never ran.
func (e *PartialRotationFailure) NotUpdated() []string {
	return e.labels(func(s StepResult) bool { return s.Status != StepOK })
}

func (e *PartialRotationFailure) labels(keep func(StepResult) bool) []string {
	var out []string
	for _, s := range e.Steps {
		if keep(s) {
			out = append(out, s.Label())
		}
	}
	return out
}

// InvariantViolation is raised by the consistency checker. It is never
// corrected automatically.
type InvariantViolation struct {
	Invariants []string
	Details    []string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: %s (%s)",
		strings.Join(e.Invariants, ", "), strings.Join(e.Details, "; "))
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBackendUnreachable) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}
	if _, ok := err.(CommandError); ok {
		return err
	}

	if errors.Is(err, ErrBackendUnreachable) {
		return UserError{
			Message:    "Backing store is unreachable",
			Suggestion: "Check that the database container is running and retry; nothing was changed before the failing step",
			Err:        err,
		}
	}

	if errors.Is(err, ErrEntropySourceUnavailable) {
		return UserError{
			Message:    "Secure random source could not be read",
			Suggestion: "Investigate the host's entropy source; rekey will not fall back to a weaker generator",
			Err:        err,
		}
	}

	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}
	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
