// Package xerrors implements a kind-based error taxonomy: a small set
// of kinds (not Go types) that every subsystem tags its errors with, so
// callers can decide propagation policy without parsing error strings.
package xerrors

import "fmt"

type Kind int

const (
	Validation Kind = iota
	Protocol
	State
	Slashable
	Integrity
	Resource
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "ValidationError"
	case Protocol:
		return "ProtocolError"
	case State:
		return "StateError"
	case Slashable:
		return "SlashableOffense"
	case Integrity:
		return "IntegrityError"
	case Resource:
		return "ResourceError"
	default:
		return "UnknownError"
	}
}

// Error wraps an underlying cause with a Kind and the component that
// raised it, so propagation policy can be applied mechanically by kind
// rather than by parsing the error string.
type Error struct {
	Kind      Kind
	Component string
	Err       error
}

func New(kind Kind, component string, err error) *Error {
	return &Error{Kind: kind, Component: component, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s[%s]: %v", e.Kind, e.Component, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var xe *Error
	for err != nil {
		if x, isXe := err.(*Error); isXe {
			xe = x
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if xe == nil {
		return 0, false
	}
	return xe.Kind, true
}

// IsFatal reports whether err is an IntegrityError — the one kind allowed
// to halt the node.
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Integrity
}
