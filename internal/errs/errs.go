// Package errs implements the closed error taxonomy every component
// classifies its outcomes into before returning across a component
// boundary.
package errs

import "fmt"

// Kind is one of the closed set of error classes a caller can switch on.
type Kind string

const (
	KindAuth                 Kind = "AuthError"
	KindForbidden            Kind = "ForbiddenError"
	KindNotFound             Kind = "NotFound"
	KindConflict             Kind = "ConflictError"
	KindConcurrentRestore    Kind = "ConcurrentRestore"
	KindConfirmationRequired Kind = "ConfirmationRequired"
	KindUnsupportedBootMode  Kind = "UnsupportedBootMode"
	KindQuotaInsufficient    Kind = "QuotaInsufficient"
	KindTimeout              Kind = "Timeout"
	KindSizeRejected         Kind = "SizeRejected"
	KindTransient            Kind = "Transient"
	KindSnapshotNotFound     Kind = "SnapshotNotFound"
	KindSnapshotMismatch     Kind = "SnapshotMismatch"
	KindVMNotFound           Kind = "VMNotFound"
	KindInternal             Kind = "Internal"
)

// CoreError is the structured error every component boundary returns
// instead of a raw transport error.
type CoreError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// New builds a CoreError of the given kind.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap builds a CoreError of the given kind around an underlying error.
func Wrap(kind Kind, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is a CoreError of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*CoreError)
	return ok && ce.Kind == kind
}

// Retryable reports whether the kind is one the cloud client's retry
// policy applies to.
func (k Kind) Retryable() bool {
	return k == KindTransient
}
