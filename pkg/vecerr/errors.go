// Package vecerr holds the error taxonomy shared by the vector subsystem.
//
// Every error that leaves the lifecycle manager is an *Error carrying a Kind
// (who is at fault) and a Code (the stable identifier reported to clients).
// The underlying cause stays reachable through errors.Is / errors.As.
package vecerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by origin
type Kind int

const (
	// KindInternal is an unexpected failure (storage, I/O)
	KindInternal Kind = iota
	// KindValidation is a user-caused failure that left all state untouched
	KindValidation
	// KindRebuild is an aborted rebuild; index and config kept their previous values
	KindRebuild
	// KindConsistency means index state disagrees with the committed config
	KindConsistency
)

// String returns the name of the kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRebuild:
		return "rebuild"
	case KindConsistency:
		return "consistency"
	default:
		return "internal"
	}
}

// Code is the stable error code surfaced to clients
type Code string

const (
	CodeInvalidSettingsEmbedders Code = "invalid_settings_embedders"
	CodeInvalidRequest           Code = "invalid_request"
	CodeRebuildFailed            Code = "vector_rebuild_failed"
	CodeInternalConsistency      Code = "internal_consistency"
	CodeInternal                 Code = "internal"
)

var (
	// ErrCannotDisableQuantization is returned when a settings update tries to
	// turn binary quantization off again.
	ErrCannotDisableQuantization = errors.New("cannot disable the binary quantization")

	// ErrDimensionMismatch matches any *DimensionMismatchError
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrDistanceMetricMismatch matches any *DistanceMismatchError
	ErrDistanceMetricMismatch = errors.New("distance metric mismatch")

	// ErrEmbedderNotFound is returned for operations on an unknown embedder
	ErrEmbedderNotFound = errors.New("embedder not found")

	// ErrInvalidSettings is the cause of field-level settings failures
	ErrInvalidSettings = errors.New("invalid settings")

	// ErrStaleTransition is returned when committing a transition validated
	// against a config revision that is no longer current.
	ErrStaleTransition = errors.New("stale settings transition")
)

// DimensionMismatchError indicates a vector whose length differs from the
// configured dimensions.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is reports whether target is ErrDimensionMismatch
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// DistanceMismatchError indicates that a distance descriptor presented by a
// caller differs from the one the index was built with.
type DistanceMismatchError struct {
	Expected string
	Actual   string
}

func (e *DistanceMismatchError) Error() string {
	return fmt.Sprintf("distance mismatch: expected %s, index has %s", e.Expected, e.Actual)
}

// Is reports whether target is ErrDistanceMetricMismatch
func (e *DistanceMismatchError) Is(target error) bool {
	return target == ErrDistanceMetricMismatch
}

// Error is the structured error returned across package boundaries
type Error struct {
	Kind     Kind
	Code     Code
	Embedder string // empty when not tied to one embedder
	Field    string // settings field, e.g. "binaryQuantized"
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Field != "" && e.Embedder != "" {
		return fmt.Sprintf("`.embedders.%s.%s`: %s", e.Embedder, e.Field, msg)
	}
	if e.Embedder != "" {
		return fmt.Sprintf("embedder %q: %s", e.Embedder, msg)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Type returns the client-facing error type
func (e *Error) Type() string {
	if e.Kind == KindValidation {
		return "invalid_request"
	}
	return "internal"
}

// Settings builds a validation error for one settings field
func Settings(embedder, field string, err error) *Error {
	return &Error{
		Kind:     KindValidation,
		Code:     CodeInvalidSettingsEmbedders,
		Embedder: embedder,
		Field:    field,
		Message:  capitalize(err.Error()),
		Err:      err,
	}
}

// InvalidRequest builds a validation error for a malformed document or query
func InvalidRequest(embedder string, err error) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidRequest, Embedder: embedder, Err: err}
}

// Rebuild builds a rebuild failure
func Rebuild(embedder string, err error) *Error {
	return &Error{
		Kind:     KindRebuild,
		Code:     CodeRebuildFailed,
		Embedder: embedder,
		Message:  "rebuild aborted, index and settings unchanged: " + err.Error(),
		Err:      err,
	}
}

// Consistency builds an internal-consistency fault
func Consistency(embedder string, err error) *Error {
	return &Error{
		Kind:     KindConsistency,
		Code:     CodeInternalConsistency,
		Embedder: embedder,
		Message:  "internal consistency fault: " + err.Error(),
		Err:      err,
	}
}

// Internal wraps an unexpected failure
func Internal(embedder string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Embedder: embedder, Err: err}
}

// KindOf returns the kind of err, KindInternal when err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, CodeInternal when err is not an *Error
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
