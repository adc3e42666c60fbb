// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"os/exec"
	"strings"
)

// Capabilities describes what confinement this host can actually
// provide. Detected once at startup and by tests deciding what to
// skip.
type Capabilities struct {
	BwrapAvailable bool
	BwrapPath      string
	BwrapVersion   string

	UserNamespacesEnabled bool

	SystemdRunAvailable bool
}

// DetectCapabilities probes the host.
func DetectCapabilities() *Capabilities {
	caps := &Capabilities{}

	if path, err := BwrapPath(); err == nil {
		caps.BwrapAvailable = true
		caps.BwrapPath = path
		if out, err := exec.Command(path, "--version").Output(); err == nil {
			caps.BwrapVersion = strings.TrimSpace(string(out))
		}
	}

	// Unprivileged user namespaces: the kernel knob exists on Debian
	// and Ubuntu; absence of the file means unrestricted.
	if data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone"); err != nil {
		caps.UserNamespacesEnabled = true
	} else {
		caps.UserNamespacesEnabled = strings.TrimSpace(string(data)) == "1"
	}

	if _, err := exec.LookPath("systemd-run"); err == nil {
		caps.SystemdRunAvailable = true
	}

	return caps
}

// CanConfine reports whether bwrap confinement will work here.
func (c *Capabilities) CanConfine() bool {
	return c.BwrapAvailable && c.UserNamespacesEnabled
}

// SkipReason returns a human-readable reason confinement is
// unavailable, or "" when it is available. Tests use this for skip
// messages.
func (c *Capabilities) SkipReason() string {
	switch {
	case !c.BwrapAvailable:
		return "bubblewrap not installed"
	case !c.UserNamespacesEnabled:
		return "unprivileged user namespaces disabled"
	default:
		return ""
	}
}
