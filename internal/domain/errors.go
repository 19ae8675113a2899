package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the cache/order engine so callers can branch on
// the kind instead of on concrete error types.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	// KindAdmission: the pending queue is full; retry later (HTTP 429).
	KindAdmission
	// KindNotFound: the product is unknown to the catalog.
	KindNotFound
	// KindSubmission: the remote refused or failed to accept a job.
	KindSubmission
	// KindTransfer: moving bytes from the remote into the cache failed.
	KindTransfer
	// KindReadOnly: a mutation was attempted on a cache-through store.
	KindReadOnly
	// KindMaxRunning: the running quota is saturated; the caller stops starting orders
	// for this pass.
	KindMaxRunning
	// KindUnavailable: the store is shutting down or closed; retry against a live
	// instance (HTTP 503).
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindAdmission:
		return "admission"
	case KindNotFound:
		return "not_found"
	case KindSubmission:
		return "submission"
	case KindTransfer:
		return "transfer"
	case KindReadOnly:
		return "read_only"
	case KindMaxRunning:
		return "max_running"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is the error type returned by the engine for every classified failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, ErrReadOnly) works for any
// read-only error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Kind-only sentinels for errors.Is.
var (
	ErrAdmission   = &Error{Kind: KindAdmission}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrSubmission  = &Error{Kind: KindSubmission}
	ErrTransfer    = &Error{Kind: KindTransfer}
	ErrReadOnly    = &Error{Kind: KindReadOnly}
	ErrMaxRunning  = &Error{Kind: KindMaxRunning}
	ErrUnavailable = &Error{Kind: KindUnavailable}
)

// ErrAlreadyExists is returned by cache stores when an entry is already present.
var ErrAlreadyExists = errors.New("product already exists in cache")

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
