// Package vectorerr defines the error kinds shared across the engine and a
// small wrapping type that attaches an operation name and kind to the
// underlying cause.
package vectorerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the engine's abstract error
// categories. Callers should branch on Kind rather than on error strings.
type Kind int

const (
	// Internal marks a bug-class error that should never occur in production.
	Internal Kind = iota
	// NotFound marks a missing collection or vector id.
	NotFound
	// AlreadyExists marks a collection name collision.
	AlreadyExists
	// DimensionMismatch marks a vector whose length disagrees with the
	// collection's configured dimension.
	DimensionMismatch
	// InvalidArgument marks a malformed configuration or request parameter.
	InvalidArgument
	// PolicyViolation marks an encryption, quota, or cache-admission rule
	// violation.
	PolicyViolation
	// CorruptedState marks a checksum/magic/length failure during load.
	CorruptedState
	// Cancelled marks cooperative cancellation of a search.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case DimensionMismatch:
		return "dimension_mismatch"
	case InvalidArgument:
		return "invalid_argument"
	case PolicyViolation:
		return "policy_violation"
	case CorruptedState:
		return "corrupted_state"
	case Cancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error wraps an underlying cause with an operation name and a Kind.
type Error struct {
	Op   string // operation name, e.g. "collection.insert"
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("vectorengine: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("vectorengine: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is to match against a sentinel of the same kind, or
// delegates to the wrapped cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return errors.Is(e.Err, target)
}

// Wrap attaches op and kind to err. Returns nil if err is nil.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// New constructs a new error of the given kind directly from a message.
func New(op string, kind Kind, msg string) error {
	return &Error{Op: op, Kind: kind, Err: errors.New(msg)}
}

// Newf is New with formatting.
func Newf(op string, kind Kind, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to Internal when err does
// not wrap a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Sentinel errors for use with errors.Is where no operation context is
// needed (e.g. comparing against a package-level constant in tests).
var (
	ErrNotFound          = &Error{Kind: NotFound, Err: errors.New("not found")}
	ErrAlreadyExists     = &Error{Kind: AlreadyExists, Err: errors.New("already exists")}
	ErrDimensionMismatch = &Error{Kind: DimensionMismatch, Err: errors.New("dimension mismatch")}
	ErrInvalidArgument   = &Error{Kind: InvalidArgument, Err: errors.New("invalid argument")}
	ErrPolicyViolation   = &Error{Kind: PolicyViolation, Err: errors.New("policy violation")}
	ErrCorruptedState    = &Error{Kind: CorruptedState, Err: errors.New("corrupted state")}
	ErrCancelled         = &Error{Kind: Cancelled, Err: errors.New("cancelled")}
)
