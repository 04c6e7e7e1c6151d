// Package wrknverrors defines the typed error taxonomy shared by every wrknv
// component. Each kind wraps an underlying cause and an identifying context
// (tool-id, version, URL, or task name) so callers can both branch on kind
// with errors.As and print a one-line human message.
package wrknverrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories named in the specification.
type Kind string

const (
	KindConfig       Kind = "ConfigError"
	KindNetwork      Kind = "NetworkError"
	KindCircuitOpen  Kind = "CircuitOpen"
	KindIntegrity    Kind = "IntegrityError"
	KindUnsafePath   Kind = "UnsafePathError"
	KindExtraction   Kind = "ExtractionError"
	KindVerification Kind = "VerificationError"
	KindResolution   Kind = "ResolutionError"
	KindTaskNotFound Kind = "TaskNotFoundError"
	KindTaskTimeout  Kind = "TaskTimeoutError"
	KindToolManager  Kind = "ToolManagerError"
	KindBadURL       Kind = "BadUrl"
)

// Error is the concrete type every wrknv failure is surfaced as.
type Error struct {
	Kind    Kind
	Ident   string // offending identifier: tool-id, version, URL, or task name
	Op      string // operation in progress, e.g. "install", "fetch"
	Message string
	Err     error

	// Debug carries an optional diagnostic payload (e.g. a directory listing
	// of a failed install tree) for VerificationError. Never printed unless a
	// caller explicitly asks for it.
	Debug string
}

func (e *Error) Error() string {
	if e.Ident != "" {
		return fmt.Sprintf("%s: %s (%s): %s", e.Kind, e.Op, e.Ident, e.messageOrErr())
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.messageOrErr())
}

func (e *Error) messageOrErr() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

func (e *Error) Unwrap() error { return e.Err }

// WithDebug attaches a diagnostic payload (e.g. a directory listing of a
// failed install tree) and returns e for chaining at the call site.
func (e *Error) WithDebug(debug string) *Error {
	e.Debug = debug
	return e
}

func new(kind Kind, op, ident, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Ident: ident, Message: message, Err: err}
}

func Config(op, ident string, err error) *Error {
	return new(KindConfig, op, ident, "", err)
}

func Network(op, ident string, err error) *Error {
	return new(KindNetwork, op, ident, "", err)
}

func CircuitOpen(op, ident string) *Error {
	return new(KindCircuitOpen, op, ident, "circuit breaker open, refusing to dial", nil)
}

func Integrity(op, ident, message string) *Error {
	return new(KindIntegrity, op, ident, message, nil)
}

func UnsafePath(op, ident, entry string) *Error {
	return new(KindUnsafePath, op, ident, fmt.Sprintf("archive entry %q escapes destination", entry), nil)
}

func Extraction(op, ident string, err error) *Error {
	return new(KindExtraction, op, ident, "", err)
}

func Verification(op, ident, message string) *Error {
	return new(KindVerification, op, ident, message, nil)
}

func Resolution(op, ident, message string) *Error {
	return new(KindResolution, op, ident, message, nil)
}

func TaskNotFound(name string) *Error {
	return new(KindTaskNotFound, "resolve", name, "no task matches this name", nil)
}

func TaskTimeout(op, ident string) *Error {
	return new(KindTaskTimeout, op, ident, "task exceeded its timeout", nil)
}

func ToolManager(op, ident string, err error) *Error {
	return new(KindToolManager, op, ident, "", err)
}

func BadURL(op, ident string) *Error {
	return new(KindBadURL, op, ident, "URL scheme must be http or https", nil)
}

// Is reports whether err (or something it wraps) is a wrknverrors.Error of
// the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
