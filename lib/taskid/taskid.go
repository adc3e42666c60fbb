// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskid generates unique task identifiers.
//
// Identifiers are opaque printable strings of the form
// "task-<32 hex chars>", backed by a random UUID. Collision within a
// process lifetime would require a UUID collision, so identifiers are
// treated as unique without coordination.
package taskid

import (
	"strings"

	"github.com/google/uuid"
)

// Prefix is the leading marker on every task identifier.
const Prefix = "task-"

// New returns a fresh task identifier.
func New() string {
	u := uuid.New()
	return Prefix + strings.ReplaceAll(u.String(), "-", "")
}

// Valid reports whether s has the shape of a task identifier. It does
// not check that the task exists; the registry does that.
func Valid(s string) bool {
	if !strings.HasPrefix(s, Prefix) {
		return false
	}
	rest := s[len(Prefix):]
	if len(rest) != 32 {
		return false
	}
	for _, r := range rest {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
