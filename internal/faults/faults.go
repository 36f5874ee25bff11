package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a fault so callers can choose between log-and-continue and terminate
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindTimeReference
	KindTransport
	KindPersistence
	KindCapture
)

// String returns the log label of the kind
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTimeReference:
		return "time_reference"
	case KindTransport:
		return "transport"
	case KindPersistence:
		return "persistence"
	case KindCapture:
		return "capture"
	default:
		return "unknown"
	}
}

// Error is a tagged fault carrying the failed operation and its cause
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and an operation name. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a tagged fault from a format string
func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost tagged fault in err's chain
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries a fault of the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsFatal reports whether the fault must stop the stream.
// Only capture faults terminate; everything else is recovered or logged.
func IsFatal(err error) bool {
	return Is(err, KindCapture)
}

// OpOf returns the operation recorded on the outermost tagged fault
func OpOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Op
	}
	return ""
}
