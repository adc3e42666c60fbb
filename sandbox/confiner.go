// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os/exec"
	"sort"
)

// Invocation is what the caller wants to run, before confinement.
type Invocation struct {
	// Program is an absolute path, or a bare name resolved within
	// the sandbox's PATH.
	Program string

	// Args are the program's arguments, argv[1:].
	Args []string

	// Env is the child's complete environment. The child never sees
	// a parent variable that is not in here.
	Env map[string]string

	// WorkingDir is the child's working directory. Must lie under a
	// read-write path. Empty means the first read-write path.
	WorkingDir string
}

// PreparedInvocation is the fully-resolved launch plan a confiner
// produced: the argv to spawn, the exact environment, and the
// confinement bookkeeping that went into it. It is plain data —
// serializable, inspectable in tests, loggable for audit.
type PreparedInvocation struct {
	// Argv is the complete command line, argv[0] included. For the
	// bwrap confiner argv[0] is the bwrap binary and the payload
	// command comes after the "--" separator.
	Argv []string `json:"argv" cbor:"argv"`

	// Env is the environment for argv[0] itself. Deliberately
	// minimal: the payload's environment travels inside Argv via
	// --setenv so the wrapper process leaks nothing through
	// /proc/<pid>/environ.
	Env []string `json:"env" cbor:"env"`

	// Dir is the working directory for the spawned process. Empty
	// for the bwrap confiner, which sets the payload's directory
	// with --chdir instead.
	Dir string `json:"dir,omitempty" cbor:"dir,omitempty"`

	// RWBinds, ROBinds, and Denied record the mount plan.
	RWBinds []string `json:"rw_binds,omitempty" cbor:"rw_binds,omitempty"`
	ROBinds []string `json:"ro_binds,omitempty" cbor:"ro_binds,omitempty"`
	Denied  []string `json:"denied,omitempty" cbor:"denied,omitempty"`

	// Network is the posture the plan enforces.
	Network NetworkAccess `json:"network" cbor:"network"`

	// Limits are the resource caps the plan enforces.
	Limits ResourceLimits `json:"limits" cbor:"limits"`

	// SeccompPath is the compiled syscall filter handed to bwrap by
	// file descriptor, empty when no filter applies.
	SeccompPath string `json:"seccomp_path,omitempty" cbor:"seccomp_path,omitempty"`

	// Confined records whether a mount namespace actually wraps the
	// child. False for the exec confiner.
	Confined bool `json:"confined" cbor:"confined"`
}

// Confiner turns an invocation plus a spec into a launch plan. The
// runner consumes the plan without knowing which confiner built it.
type Confiner interface {
	// Name identifies the confiner in logs and health output.
	Name() string

	// Prepare builds the launch plan. It does not spawn anything.
	Prepare(inv Invocation, spec *Spec) (*PreparedInvocation, error)
}

// ExecConfiner runs children directly, with no mount namespace. The
// environment guarantee still holds (the child gets exactly inv.Env)
// but path confinement does not. Used on hosts without bubblewrap —
// only when the configuration explicitly tolerates that — and in
// tests.
type ExecConfiner struct{}

// Name implements Confiner.
func (ExecConfiner) Name() string { return "exec" }

// Prepare implements Confiner.
func (ExecConfiner) Prepare(inv Invocation, spec *Spec) (*PreparedInvocation, error) {
	program := inv.Program
	if !isAbsPath(program) {
		resolved, err := exec.LookPath(program)
		if err != nil {
			return nil, fmt.Errorf("resolving program %q: %w", program, err)
		}
		program = resolved
	}

	argv := append([]string{program}, inv.Args...)
	return &PreparedInvocation{
		Argv:     argv,
		Env:      flattenEnv(inv.Env),
		Dir:      inv.WorkingDir,
		Network:  spec.Network,
		Limits:   spec.Limits,
		Confined: false,
	}, nil
}

// flattenEnv renders an environment map as KEY=VALUE pairs in sorted
// key order, so prepared invocations compare stably in tests and
// audit records.
func flattenEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func isAbsPath(p string) bool {
	return len(p) > 0 && p[0] == '/'
}
