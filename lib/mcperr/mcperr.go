// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcperr defines the gateway's wire-stable error taxonomy.
//
// Every error that crosses the orchestrator boundary carries a Kind.
// The thin server layers translate kinds to transport status codes
// with HTTPStatus and RPCCode; internal plumbing wraps errors with
// fmt.Errorf("...: %w", err) as usual and the kind survives the
// wrapping (KindOf unwraps).
package mcperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for wire translation. The set is closed:
// adding a kind means extending both status tables below.
type Kind int

const (
	// Internal is a bug or corrupt state. The zero value, so an
	// unclassified error surfaces as Internal rather than something
	// misleadingly benign.
	Internal Kind = iota

	// InvalidArgument means the caller's input failed validation.
	InvalidArgument

	// NotFound means the named resource (usually a task id) does not
	// resolve.
	NotFound

	// PermissionDenied means policy denied the action before any
	// side effect occurred.
	PermissionDenied

	// ResourceExhausted means a quota or queue bound was hit.
	ResourceExhausted

	// DeadlineExceeded means a task or call ran past its timeout.
	DeadlineExceeded

	// Cancelled means the caller cancelled the work.
	Cancelled

	// FailedPrecondition means the operation is not valid in the
	// current state (for example a state transition from the wrong
	// source state).
	FailedPrecondition

	// Unavailable means a required collaborator (executor, confiner)
	// is unhealthy or absent.
	Unavailable

	// ConfigError means policy or configuration failed to load. Only
	// produced at load time, never during request handling.
	ConfigError
)

// String returns the stable name of the kind.
func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case PermissionDenied:
		return "permission_denied"
	case ResourceExhausted:
		return "resource_exhausted"
	case DeadlineExceeded:
		return "deadline_exceeded"
	case Cancelled:
		return "cancelled"
	case FailedPrecondition:
		return "failed_precondition"
	case Unavailable:
		return "unavailable"
	case ConfigError:
		return "config_error"
	default:
		return "internal"
	}
}

// Error is a kinded error. Construct with E or Errorf.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// E returns a new kinded error with the given message.
func E(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Errorf returns a new kinded error with a formatted message. The %w
// verb wraps a cause as with fmt.Errorf.
func Errorf(kind Kind, format string, args ...any) error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Msg: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

// Wrap attaches a kind and context message to an existing error.
// Returns nil when err is nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, unwrapping as needed. A nil error
// has no kind and panics; errors with no *Error in their chain are
// Internal.
func KindOf(err error) Kind {
	if err == nil {
		panic("mcperr: KindOf(nil)")
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to its REST status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case PermissionDenied:
		return http.StatusForbidden
	case ResourceExhausted:
		return http.StatusTooManyRequests
	case DeadlineExceeded:
		return http.StatusGatewayTimeout
	case Cancelled:
		// Nginx's non-standard "client closed request"; the closest
		// HTTP has to a cancellation status.
		return 499
	case FailedPrecondition:
		return http.StatusConflict
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RPCCode maps a kind to its gRPC-style numeric status code. The RPC
// surface carries these so callers migrating from the gRPC protocol
// see familiar codes.
func RPCCode(kind Kind) int {
	switch kind {
	case Cancelled:
		return 1
	case InvalidArgument:
		return 3
	case DeadlineExceeded:
		return 4
	case NotFound:
		return 5
	case PermissionDenied:
		return 7
	case ResourceExhausted:
		return 8
	case FailedPrecondition:
		return 9
	case Unavailable:
		return 14
	default: // Internal, ConfigError
		return 13
	}
}
