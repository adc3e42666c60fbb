// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os/exec"
)

// ScopeRunner wraps a command in a transient systemd scope so the
// kernel enforces the spec's resource limits via cgroups. Without
// systemd the limits are advisory only; the capability check at
// startup decides whether that is acceptable.
type ScopeRunner struct {
	// Unit is the scope name prefix; the task id is appended per
	// launch by the caller. Empty lets systemd pick a name.
	Unit string

	// User runs the scope in the user manager instead of the system
	// one. Default true: the gateway does not usually run as root.
	User bool
}

// NewScopeRunner returns a runner with the given unit prefix.
func NewScopeRunner(unit string) *ScopeRunner {
	return &ScopeRunner{Unit: unit, User: true}
}

// Available reports whether systemd-run exists on this host.
func (s *ScopeRunner) Available() bool {
	_, err := exec.LookPath("systemd-run")
	return err == nil
}

// Wrap prefixes argv with a systemd-run scope invocation carrying
// the limits as unit properties. Returns argv unchanged when no
// limit is set.
func (s *ScopeRunner) Wrap(argv []string, limits ResourceLimits) []string {
	if !limits.HasLimits() {
		return argv
	}

	wrapped := []string{"systemd-run"}
	if s.User {
		wrapped = append(wrapped, "--user")
	}
	wrapped = append(wrapped, "--scope", "--collect", "--quiet")
	if s.Unit != "" {
		wrapped = append(wrapped, "--unit="+s.Unit)
	}
	if limits.CPUCores > 0 {
		wrapped = append(wrapped, fmt.Sprintf("--property=CPUQuota=%d%%", int(limits.CPUCores*100)))
	}
	if limits.MemoryBytes > 0 {
		wrapped = append(wrapped, fmt.Sprintf("--property=MemoryMax=%d", limits.MemoryBytes))
	}
	if limits.PIDCount > 0 {
		wrapped = append(wrapped, fmt.Sprintf("--property=TasksMax=%d", limits.PIDCount))
	}
	if limits.IOWeight > 0 {
		wrapped = append(wrapped, fmt.Sprintf("--property=IOWeight=%d", limits.IOWeight))
	}

	wrapped = append(wrapped, "--")
	return append(wrapped, argv...)
}
