// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox runs child processes under confinement.
//
// A Spec declares what a child may touch: read-write, read-only, and
// denied paths, a network posture, and resource limits. A Confiner
// turns a Spec plus an invocation into a PreparedInvocation — the
// concrete argv and environment to spawn — and the Runner spawns it,
// streams its output, enforces the timeout and cancel signal, and
// reaps the exit status and resource usage.
//
// The production confiner wraps the child in bubblewrap (bwrap):
// mount namespace with explicit binds, tmpfs over denied paths,
// cleared environment, optional seccomp filter, and a systemd scope
// for cgroup resource limits. The exec confiner runs the child
// directly and exists for development machines without bwrap and for
// tests.
package sandbox
