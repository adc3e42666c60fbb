// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package mcperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := E(NotFound, "no such task")
	wrapped := fmt.Errorf("status lookup: %w", base)
	doubly := fmt.Errorf("rpc handler: %w", wrapped)

	if got := KindOf(doubly); got != NotFound {
		t.Fatalf("KindOf = %v, want NotFound", got)
	}
	if !Is(doubly, NotFound) {
		t.Fatal("Is(doubly, NotFound) = false")
	}
}

func TestUnclassifiedIsInternal(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != Internal {
		t.Fatalf("KindOf(plain) = %v, want Internal", got)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Internal, "context", nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
}

func TestErrorfWrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Errorf(ResourceExhausted, "writing capture: %w", cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause lost through Errorf")
	}
	if KindOf(err) != ResourceExhausted {
		t.Fatalf("KindOf = %v", KindOf(err))
	}
}

func TestHTTPStatusTable(t *testing.T) {
	cases := map[Kind]int{
		InvalidArgument:    http.StatusBadRequest,
		NotFound:           http.StatusNotFound,
		PermissionDenied:   http.StatusForbidden,
		ResourceExhausted:  http.StatusTooManyRequests,
		DeadlineExceeded:   http.StatusGatewayTimeout,
		Cancelled:          499,
		FailedPrecondition: http.StatusConflict,
		Unavailable:        http.StatusServiceUnavailable,
		Internal:           http.StatusInternalServerError,
		ConfigError:        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestRPCCodeTable(t *testing.T) {
	cases := map[Kind]int{
		Cancelled:          1,
		InvalidArgument:    3,
		DeadlineExceeded:   4,
		NotFound:           5,
		PermissionDenied:   7,
		ResourceExhausted:  8,
		FailedPrecondition: 9,
		Unavailable:        14,
		Internal:           13,
		ConfigError:        13,
	}
	for kind, want := range cases {
		if got := RPCCode(kind); got != want {
			t.Errorf("RPCCode(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestKindNamesStable(t *testing.T) {
	names := map[Kind]string{
		Internal:           "internal",
		InvalidArgument:    "invalid_argument",
		NotFound:           "not_found",
		PermissionDenied:   "permission_denied",
		ResourceExhausted:  "resource_exhausted",
		DeadlineExceeded:   "deadline_exceeded",
		Cancelled:          "cancelled",
		FailedPrecondition: "failed_precondition",
		Unavailable:        "unavailable",
		ConfigError:        "config_error",
	}
	for kind, want := range names {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}
