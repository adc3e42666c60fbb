// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"strings"
	"time"

	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
)

// ValidateInvocation checks an invocation and its timeout before any
// resources are committed. Every failure is InvalidArgument: these
// are caller mistakes, not gateway faults.
func ValidateInvocation(inv Invocation, timeout, maxTimeout time.Duration) error {
	if inv.Program == "" {
		return mcperr.E(mcperr.InvalidArgument, "program is required")
	}
	if strings.ContainsRune(inv.Program, 0) {
		return mcperr.E(mcperr.InvalidArgument, "program contains a null byte")
	}
	if strings.Contains(inv.Program, "/") && !isAbsPath(inv.Program) {
		return mcperr.Errorf(mcperr.InvalidArgument,
			"program %q must be an absolute path or a bare name", inv.Program)
	}
	for i, arg := range inv.Args {
		if strings.ContainsRune(arg, 0) {
			return mcperr.Errorf(mcperr.InvalidArgument, "argument %d contains a null byte", i)
		}
	}
	for key := range inv.Env {
		if !envKeyWellFormed(key) {
			return mcperr.Errorf(mcperr.InvalidArgument, "malformed environment key %q", key)
		}
	}
	if inv.WorkingDir != "" && !isAbsPath(inv.WorkingDir) {
		return mcperr.Errorf(mcperr.InvalidArgument, "working directory %q is not absolute", inv.WorkingDir)
	}
	if timeout < time.Second {
		return mcperr.E(mcperr.InvalidArgument, "timeout must be at least 1s")
	}
	if timeout > maxTimeout {
		return mcperr.Errorf(mcperr.InvalidArgument, "timeout %s exceeds the maximum %s", timeout, maxTimeout)
	}
	return nil
}

// ValidateSpec normalizes the spec and checks the working directory
// lands inside it.
func ValidateSpec(spec *Spec, workingDir string) error {
	if err := spec.Normalize(); err != nil {
		return mcperr.Wrap(mcperr.InvalidArgument, "sandbox spec", err)
	}
	if spec.Enabled && workingDir != "" && !spec.Covers(workingDir) {
		return mcperr.Errorf(mcperr.InvalidArgument,
			"working directory %s is not under any read-write path", workingDir)
	}
	return nil
}

// envKeyWellFormed applies the POSIX rule: letters, digits, and
// underscore, not starting with a digit.
func envKeyWellFormed(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r == '_':
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
