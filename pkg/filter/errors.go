package filter

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFilter       = errors.New("malformed filter")
	ErrInvalidFieldReference = errors.New("invalid field reference")
)

type Kind int

const (
	KindMalformedFilter Kind = iota + 1
	KindInvalidFieldReference
)

func (k Kind) String() string {
	switch k {
	case KindMalformedFilter:
		return "malformed_filter"
	case KindInvalidFieldReference:
		return "invalid_field_reference"
	default:
		return "unknown"
	}
}

// Error is a typed evaluation or construction failure. It unwraps to
// ErrMalformedFilter or ErrInvalidFieldReference depending on Kind.
type Error struct {
	Kind   Kind
	Path   string
	Ref    *Ref
	Reason string
}

func (e *Error) Error() string {
	base := ErrMalformedFilter.Error()
	if e.Kind == KindInvalidFieldReference {
		base = ErrInvalidFieldReference.Error()
	}
	msg := fmt.Sprintf("%s at %s", base, displayPath(e.Path))
	if e.Ref != nil {
		msg += fmt.Sprintf(" (%s)", e.Ref)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindMalformedFilter:
		return ErrMalformedFilter
	case KindInvalidFieldReference:
		return ErrInvalidFieldReference
	}
	return nil
}

func malformed(path, format string, args ...interface{}) *Error {
	return &Error{
		Kind:   KindMalformedFilter,
		Path:   path,
		Reason: fmt.Sprintf(format, args...),
	}
}

func invalidRef(path string, ref Ref, reason string) *Error {
	return &Error{
		Kind:   KindInvalidFieldReference,
		Path:   path,
		Ref:    &ref,
		Reason: reason,
	}
}

// KindOf returns the kind of a filter error, or 0 when err is not one.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
