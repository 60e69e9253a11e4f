// Package errs defines the error taxonomy shared by every enclave component.
//
// Every failure that can reach the Router is wrapped in an *errs.Error
// carrying one of the Kind buckets below. The numeric/typed WASM ABI codes
// and the six taxonomy buckets are kept distinct until the Router collapses
// them to an HTTP status and a JSON body — errors are never stringly-typed
// before that boundary.
package errs

import "fmt"

// Kind is one of the taxonomy buckets from the error handling design.
type Kind string

const (
	Authorization   Kind = "authorization"
	IntegrityVerify Kind = "integrity_verification"
	Format          Kind = "format"
	Resource        Kind = "resource"
	Execution       Kind = "execution"
	Configuration   Kind = "configuration"
)

// Error wraps an underlying cause with a stable Kind and a caller-safe
// message. Message is what crosses the HTTP boundary; Err is logged
// server-side only.
type Error struct {
	Kind    Kind
	Code    string // stable machine name, e.g. "SealedFormat", "HashMismatch"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an *Error around an existing cause.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: err.Error(), Err: err}
}

// As is a small helper so callers don't need to import errors to type-assert.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
