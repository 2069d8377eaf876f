// Package fwerr defines the error kinds shared by the firmware update pipeline.
package fwerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Unknown is the zero Kind.
	Unknown Kind = iota
	// TransportError is a socket or HTTP level failure. Never retried.
	TransportError
	// ProtocolViolation is a malformed record received from the device.
	ProtocolViolation
	// NegotiationExhausted means every request variant produced an unusable answer.
	NegotiationExhausted
	// UnrecognizedServerCode is a server code we cannot interpret. Non-fatal.
	UnrecognizedServerCode
	// FileSystemError is a local read or write failure.
	FileSystemError
)

func (k Kind) String() string {
	switch k {
	case TransportError:
		return "transport error"
	case ProtocolViolation:
		return "protocol violation"
	case NegotiationExhausted:
		return "negotiation exhausted"
	case UnrecognizedServerCode:
		return "unrecognized server code"
	case FileSystemError:
		return "file system error"
	default:
		return "unknown error"
	}
}

// Error carries the kind of a failure plus the context needed to reproduce it.
type Error struct {
	Kind      Kind
	Op        string
	Component string
	Variant   string
	Err       error
}

// New builds an Error of kind k for operation op.
func New(k Kind, op string, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err}
}

// WithComponent returns a copy of e scoped to a firmware component.
func (e *Error) WithComponent(id string) *Error {
	c := *e
	c.Component = id
	return &c
}

// WithVariant returns a copy of e scoped to a request variant.
func (e *Error) WithVariant(name string) *Error {
	c := *e
	c.Variant = name
	return &c
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Component != "" {
		fmt.Fprintf(&b, " (component %s)", e.Component)
	}
	if e.Variant != "" {
		fmt.Fprintf(&b, " (variant %s)", e.Variant)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. This lets callers
// write errors.Is(err, &fwerr.Error{Kind: fwerr.TransportError}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
