// Package gadgeterr provides the structured error taxonomy gadget results are
// classified into (spec.md §7). Errors preserve message and causal context
// while still implementing the standard error interface so callers can use
// errors.Is/As across retries and nested gadget invocations.
package gadgeterr

import (
	"errors"
	"fmt"
)

// Kind classifies a gadget-result failure into one of the stable categories
// named in spec.md §7. The scheduler and executor never treat these as Go
// panics/exceptions; they are ordinary error values carried in a gadget
// node's result.
type Kind string

const (
	// KindRegistry means the gadget name was not found in the registry.
	KindRegistry Kind = "registry_error"
	// KindParse means the marker or pointer tree was malformed.
	KindParse Kind = "parse_error"
	// KindValidation means the schema rejected the parsed value.
	KindValidation Kind = "validation_error"
	// KindApprovalDenied means configuration, user, or non-interactive policy denied the call.
	KindApprovalDenied Kind = "approval_denied"
	// KindTimeout means elapsed time exceeded the effective timeout.
	KindTimeout Kind = "timeout_error"
	// KindExecution means the gadget returned or raised an ordinary error.
	KindExecution Kind = "execution_error"
	// KindDependencyFailed means a declared dependency failed or was skipped first.
	KindDependencyFailed Kind = "dependency_failed"
)

// Error is a structured gadget failure. It chains to an underlying cause via
// Unwrap so errors.Is/As work across wrapped errors, and carries the §7 Kind
// plus kind-specific fields used to render the status line fed back to the
// model as the gadget's result text.
type Error struct {
	Kind Kind
	// Message is the human-readable summary.
	Message string
	// Cause links to the wrapped error, if any.
	Cause error

	// Issues carries schema validation issues (KindValidation only).
	Issues []Issue
	// AvailableNames carries the registry's known names (KindRegistry only).
	AvailableNames []string
	// FailedDependency carries the invocation id that failed (KindDependencyFailed
	// only, ordinary propagation case).
	FailedDependency string
	// Reason carries a generic skip reason for a KindDependencyFailed error that
	// is not tied to one named dependency id, e.g. "unknown_dependency" or
	// "cyclic_dependency" (spec.md §4.3, §8 "reason=cyclic_dependency").
	Reason string
}

// Issue is a single schema validation failure, named by the JSON pointer
// path to the offending field.
type Issue struct {
	Path    string
	Message string
}

// New constructs a Kind-tagged error with the given message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a Kind-tagged error that chains to cause.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Registry constructs a RegistryError naming the unknown gadget and the
// names the registry does know about.
func Registry(name string, available []string) *Error {
	return &Error{
		Kind:           KindRegistry,
		Message:        fmt.Sprintf("unknown gadget %q", name),
		AvailableNames: available,
	}
}

// Validation constructs a ValidationError carrying the schema issues.
func Validation(message string, issues []Issue) *Error {
	return &Error{Kind: KindValidation, Message: message, Issues: issues}
}

// ApprovalDenied constructs an ApprovalDenied error with the given reason.
func ApprovalDenied(reason string) *Error {
	return &Error{Kind: KindApprovalDenied, Message: reason}
}

// Timeout constructs a TimeoutError with the given message.
func Timeout(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}

// Execution wraps an arbitrary gadget-thrown error as an ExecutionError.
func Execution(cause error) *Error {
	return Wrap(KindExecution, "", cause)
}

// DependencyFailed constructs a DependencyFailed error referencing the
// invocation id of the dependency that failed or was skipped.
func DependencyFailed(failedID string) *Error {
	return &Error{
		Kind:             KindDependencyFailed,
		Message:          fmt.Sprintf("dependency %q failed", failedID),
		FailedDependency: failedID,
	}
}

// UnknownDependency constructs a DependencyFailed error for a call that named
// a dependency id absent from its batch; it is skipped at scheduling time
// rather than ever executed (spec.md §4.3, §8).
func UnknownDependency() *Error {
	return &Error{
		Kind:    KindDependencyFailed,
		Message: "unknown dependency",
		Reason:  "unknown_dependency",
	}
}

// CyclicDependency constructs a DependencyFailed error for a call that
// belongs to a dependency cycle; every call in the cycle is skipped with this
// reason rather than executed (spec.md §4.3, §8 "reason=cyclic_dependency").
func CyclicDependency() *Error {
	return &Error{
		Kind:    KindDependencyFailed,
		Message: "dependency cycle",
		Reason:  "cyclic_dependency",
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the wrapped cause, if any, so errors.Is/As traverse chains
// that cross gadget/executor boundaries.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// StatusLine renders the error kind and message the way the agent loop
// feeds it back as the gadget's result text (spec.md §4.7 step 8, §7).
func (e *Error) StatusLine() string {
	switch e.Kind {
	case KindApprovalDenied:
		return fmt.Sprintf("status=denied; %s", e.Message)
	case KindDependencyFailed:
		if e.Reason != "" {
			return fmt.Sprintf("status=skipped; reason=%s", e.Reason)
		}
		return fmt.Sprintf("status=skipped; failed_dependency=%s", e.FailedDependency)
	default:
		return fmt.Sprintf("status=error; kind=%s; %s", e.Kind, e.Message)
	}
}

// As reports whether err is, or wraps, a *Error and returns it.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
