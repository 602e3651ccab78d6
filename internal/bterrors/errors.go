// Package bterrors defines the single root error type used across the
// backtester core. Every failure surfaced by the ingest, event-log, book,
// and execution packages wraps one of these kinds so callers can branch on
// failure class with errors.Is / errors.As instead of string matching.
package bterrors

import "fmt"

// Kind identifies which class of invariant a failure belongs to.
type Kind uint8

const (
	// KindSchema covers malformed input, bad headers, unknown enums, and
	// invariants broken inside a single record or batch.
	KindSchema Kind = iota + 1
	// KindOrdering covers monotonicity violations: timestamps, index
	// offsets, sequence numbers.
	KindOrdering
	// KindQuantization covers decimal parse failures and non-multiple values.
	KindQuantization
	// KindQuarantine covers quarantine-mode payload surfacing and the
	// engine's cash/position risk rejects.
	KindQuarantine
	// KindDeterminism covers input-hash mismatches detected mid-compile.
	KindDeterminism
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindOrdering:
		return "ordering"
	case KindQuantization:
		return "quantization"
	case KindQuarantine:
		return "quarantine"
	case KindDeterminism:
		return "determinism"
	default:
		return "unknown"
	}
}

// Error is the root error type. It always carries a Kind so the caller can
// decide whether the failure belongs in a quarantine sink or must abort.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, which is the
// comparison errors.Is(err, bterrors.Schema) performs via a sentinel built
// with New(kind, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return e == target
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping an existing cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Sentinels usable with errors.Is(err, bterrors.Schema) to test Kind only.
var (
	Schema       = &Error{Kind: KindSchema}
	Ordering     = &Error{Kind: KindOrdering}
	Quantization = &Error{Kind: KindQuantization}
	Quarantine   = &Error{Kind: KindQuarantine}
	Determinism  = &Error{Kind: KindDeterminism}
)

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error; ok is false otherwise.
func KindOf(err error) (k Kind, ok bool) {
	var be *Error
	if As(err, &be) {
		return be.Kind, true
	}
	return 0, false
}

// As is a thin re-export point kept local so callers don't need a second
// import just to unwrap. It walks the single-error Unwrap chain itself
// rather than calling the standard errors package, so Unwrap() []error
// chains are not followed.
func As(err error, target **Error) bool {
	for err != nil {
		if be, okCast := err.(*Error); okCast {
			*target = be
			return true
		}
		u, okUnwrap := err.(interface{ Unwrap() error })
		if !okUnwrap {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
