// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"os"
	"time"

	"github.com/fcchi/mcp-security-gateway/sandbox"
)

// Spec is the tagged variant describing what a task does. Exactly one
// of Command, File, and Network is set, matching Kind.
type Spec struct {
	Kind    Kind
	Command *CommandSpec
	File    *FileSpec
	Network *NetworkSpec

	// Metadata is caller-supplied and never interpreted by the core,
	// with one exception: the submission layer reads the reserved
	// keys "caller.user" and "caller.roles" when building the policy
	// input.
	Metadata map[string]string
}

// CommandSpec describes a command invocation.
type CommandSpec struct {
	Program    string
	Args       []string
	Env        map[string]string
	WorkingDir string

	// Timeout bounds the child's runtime. Zero means the gateway
	// default applies.
	Timeout time.Duration

	// Sandbox overrides the gateway's default confinement. Nil means
	// use the default.
	Sandbox *sandbox.Spec
}

// FileMode selects a file operation.
type FileMode string

const (
	FileRead   FileMode = "read"
	FileWrite  FileMode = "write"
	FileDelete FileMode = "delete"
)

// FileSpec describes a file operation.
type FileSpec struct {
	Path string
	Mode FileMode

	// Payload is the content for write operations.
	Payload []byte

	// CreateDirs makes missing parent directories on write.
	CreateDirs bool

	// Perm is the file mode for writes; zero means 0644.
	Perm os.FileMode

	// Recursive removes directories on delete.
	Recursive bool
}

// NetworkSpec describes an outbound network request.
type NetworkSpec struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Result is the outcome of a task that actually ran. Policy-denied
// tasks terminate without a Result... except that the orchestrator
// synthesizes one carrying the deny reasons on stderr, so callers
// polling for output have one place to look.
type Result struct {
	// ExitCode is the child's exit status; -1 when the child was
	// killed by a signal or never ran.
	ExitCode int

	// Stdout and Stderr are the captured streams, each bounded by
	// max_capture_bytes with a truncation marker appended when the
	// child produced more.
	Stdout []byte
	Stderr []byte

	// Usage is what the host reported for the child.
	Usage sandbox.ResourceUsage

	// Duration is wall-clock time from spawn to reap.
	Duration time.Duration
}

// Record is one task's full state. The registry owns records; every
// read crossing the registry boundary is a snapshot copy.
type Record struct {
	ID    string
	Spec  Spec
	State State

	CreatedAt   time.Time
	StartedAt   time.Time // zero until Running
	CompletedAt time.Time // zero until terminal

	// Result is nil until the state is terminal. A task cancelled
	// while still queued ends without one.
	Result *Result

	// Cancel is the task's one-shot cancel trigger. Shared between
	// snapshots and the stored record: firing a snapshot's signal
	// cancels the task.
	Cancel *Cancel
}

// snapshot returns a copy safe to hand out. Slices and maps inside
// Spec and Result are shared but treated as immutable once stored;
// the struct copy is what protects readers from in-place transitions.
func (r *Record) snapshot() Record {
	return *r
}
