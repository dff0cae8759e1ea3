// Package bizerr defines the errors that business logic returns and their
// classification for traces.
package bizerr

import (
	"errors"
	"fmt"
)

// Kind is the category of a business error.
type Kind int

const (
	Unknown Kind = iota
	EntityExists
	NotFound
	Permission
	Business
	IncorrectData
)

func (k Kind) String() string {
	switch k {
	case EntityExists:
		return "EntityExists"
	case NotFound:
		return "NotFound"
	case Permission:
		return "Permission"
	case Business:
		return "Business"
	case IncorrectData:
		return "IncorrectData"
	default:
		return "Unknown"
	}
}

// Type returns the business error type that is recorded in traces.
func (k Kind) Type() string {
	switch k {
	case EntityExists:
		return "business_validation_error"
	case NotFound:
		return "entity_not_found"
	case Permission:
		return "authorization_error"
	case Business:
		return "business_logic_error"
	case IncorrectData:
		return "data_validation_error"
	default:
		return "system_error"
	}
}

// Error is an error of a known Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	default:
		return e.Msg + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind that wraps err.
func Wrap(kind Kind, err error, msg string) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func NotFoundf(format string, args ...any) error {
	return New(NotFound, format, args...)
}

func EntityExistsf(format string, args ...any) error {
	return New(EntityExists, format, args...)
}

func Permissionf(format string, args ...any) error {
	return New(Permission, format, args...)
}

func Businessf(format string, args ...any) error {
	return New(Business, format, args...)
}

func IncorrectDataf(format string, args ...any) error {
	return New(IncorrectData, format, args...)
}

// KindOf returns the kind of the first *Error in the chain of err, Unknown
// if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return Unknown
}

// Classify returns the business error type of err.
func Classify(err error) string {
	return KindOf(err).Type()
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
