package objectstore

import (
	"errors"
	"fmt"
)

// Kind classifies a storage failure independently of the backend that
// produced it. Adapters are solely responsible for mapping every
// provider-native failure into one of these; no provider error type leaks
// across the Store boundary.
type Kind uint8

const (
	// Generic is a backend failure with no better classification. It is
	// never retried.
	Generic Kind = iota

	// NotFound means the addressed object does not exist.
	NotFound

	// AlreadyExists is reserved for create-only write variants.
	AlreadyExists

	// PermissionDenied means the credentials in use do not allow the
	// operation.
	PermissionDenied

	// InvalidPath means the object key is malformed.
	InvalidPath

	// InvalidRange means a byte range lies outside the object's bounds.
	InvalidRange

	// InvalidConfig means construction parameters were unrecognized or
	// out of bounds.
	InvalidConfig

	// Transient marks timeouts, connection resets and backend overload:
	// failures expected to resolve on retry. Only this kind is retried.
	Transient
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case AlreadyExists:
		return "already exists"
	case PermissionDenied:
		return "permission denied"
	case InvalidPath:
		return "invalid path"
	case InvalidRange:
		return "invalid range"
	case InvalidConfig:
		return "invalid configuration"
	case Transient:
		return "transient"
	default:
		return "generic"
	}
}

// Error is the tagged variant every backend failure is normalized into.
// Detail carries the provider-native diagnostic for logging only; callers
// branch on Kind, never on Detail.
type Error struct {
	Kind   Kind
	Store  string // backend name, e.g. "s3"
	Path   string // offending path, when applicable
	Detail error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Store != "" {
		msg = e.Store + ": " + msg
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Detail != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Detail }

var (
	errEmptyPath   = errors.New("path is empty after normalization")
	errControlChar = errors.New("path contains control characters")
	errBadSegment  = errors.New("segment is empty or contains a separator")
)

// KindOf extracts the taxonomy kind from err, or Generic when err was not
// produced by this library.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Generic
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool { return KindOf(err) == NotFound }

// IsTransient reports whether err is expected to resolve on retry.
func IsTransient(err error) bool { return KindOf(err) == Transient }
