// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"sort"
)

// BwrapConfiner builds launch plans that wrap the child in
// bubblewrap. The generated plan:
//
//   - unshares every namespace, re-sharing the network one only for
//     NetworkHost,
//   - mounts a fresh /proc and a minimal /dev,
//   - binds each read-write and read-only path onto itself,
//   - masks each denied path with an empty tmpfs,
//   - clears the environment and re-injects exactly the declared
//     variables via --setenv,
//   - applies the seccomp filter by inherited file descriptor when a
//     compiled filter is available,
//   - dies with the parent, so an orphaned gateway never leaks
//     children.
type BwrapConfiner struct {
	// BwrapPath is the bubblewrap binary. Defaults to the first of
	// the standard locations that exists.
	BwrapPath string

	// Seccomp provides compiled syscall filters by network posture.
	// Nil means no filter.
	Seccomp *ProfileManager

	// Scope wraps the bwrap process in a transient systemd scope
	// when the spec carries resource limits. Nil disables cgroup
	// limits (the plan still records them).
	Scope *ScopeRunner
}

// seccompFD is the file descriptor number the runner passes the
// filter on: the first ExtraFiles slot after stdin/stdout/stderr.
const seccompFD = 3

// Name implements Confiner.
func (c *BwrapConfiner) Name() string { return "bwrap" }

// Prepare implements Confiner.
func (c *BwrapConfiner) Prepare(inv Invocation, spec *Spec) (*PreparedInvocation, error) {
	bwrapPath := c.BwrapPath
	if bwrapPath == "" {
		found, err := BwrapPath()
		if err != nil {
			return nil, err
		}
		bwrapPath = found
	}

	workingDir := inv.WorkingDir
	if workingDir == "" && len(spec.RWPaths) > 0 {
		workingDir = spec.RWPaths[0]
	}

	args := []string{bwrapPath}

	// Namespaces. --unshare-all covers user, pid, net, uts, ipc, and
	// cgroup; host networking re-shares just the network namespace.
	args = append(args, "--unshare-all")
	if spec.Network == NetworkHost {
		args = append(args, "--share-net")
	}
	args = append(args, "--die-with-parent", "--new-session")

	// Base mounts: fresh /proc, minimal /dev.
	args = append(args, "--proc", "/proc", "--dev", "/dev")

	// Path bindings. Denied paths are masked last so a denied path
	// under a bound one ends up empty, matching the documented
	// precedence.
	for _, p := range spec.ROPaths {
		args = append(args, "--ro-bind", p, p)
	}
	for _, p := range spec.RWPaths {
		args = append(args, "--bind", p, p)
	}
	for _, p := range spec.DeniedPaths {
		args = append(args, "--tmpfs", p)
	}

	// Environment: wipe everything, then set exactly the declared
	// variables in sorted order for a stable argv.
	args = append(args, "--clearenv")
	keys := make([]string, 0, len(inv.Env))
	for k := range inv.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--setenv", k, inv.Env[k])
	}

	if workingDir != "" {
		args = append(args, "--chdir", workingDir)
	}

	// Seccomp filter, when one is compiled for this posture.
	seccompPath := ""
	if c.Seccomp != nil {
		path, err := c.Seccomp.FilterPath(spec.Network)
		if err != nil {
			return nil, fmt.Errorf("resolving seccomp filter: %w", err)
		}
		if path != "" {
			seccompPath = path
			args = append(args, "--seccomp", fmt.Sprint(seccompFD))
		}
	}

	args = append(args, "--")
	args = append(args, inv.Program)
	args = append(args, inv.Args...)

	// Resource limits ride a systemd scope around the whole bwrap
	// process tree.
	if c.Scope != nil && spec.Limits.HasLimits() {
		args = c.Scope.Wrap(args, spec.Limits)
	}

	// The wrapper process itself gets a minimal environment. bwrap
	// clears the payload's environment, but the bwrap process would
	// otherwise expose the gateway's variables through
	// /proc/<pid>/environ — a straightforward escape for anything
	// that can read proc.
	return &PreparedInvocation{
		Argv:        args,
		Env:         []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
		RWBinds:     append([]string(nil), spec.RWPaths...),
		ROBinds:     append([]string(nil), spec.ROPaths...),
		Denied:      append([]string(nil), spec.DeniedPaths...),
		Network:     spec.Network,
		Limits:      spec.Limits,
		SeccompPath: seccompPath,
		Confined:    true,
	}, nil
}

// BwrapPath returns the bubblewrap binary, checking the standard
// install locations.
func BwrapPath() (string, error) {
	for _, path := range []string{"/usr/bin/bwrap", "/usr/local/bin/bwrap", "/bin/bwrap"} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("bwrap not found in standard locations")
}
