// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"github.com/fcchi/mcp-security-gateway/orchestrator"
)

// Actions a Request may carry.
const (
	ActionExecuteCommand = "execute-command"
	ActionTaskStatus     = "task-status"
	ActionCancelTask     = "cancel-task"
	ActionStreamOutput   = "stream-output"
	ActionReadFile       = "read-file"
	ActionWriteFile      = "write-file"
	ActionDeleteFile     = "delete-file"
	ActionHealth         = "health"
)

// Request is one CBOR frame from client to server.
type Request struct {
	// Action selects the operation.
	Action string `cbor:"action"`

	// TaskID names the task for status, cancel, and stream requests.
	TaskID string `cbor:"task_id,omitempty"`

	// Command is the payload for execute-command.
	Command *CommandPayload `cbor:"command,omitempty"`

	// File is the payload for the file actions.
	File *FilePayload `cbor:"file,omitempty"`

	// Metadata is caller-supplied task metadata, including the
	// reserved caller identity keys.
	Metadata map[string]string `cbor:"metadata,omitempty"`
}

// CommandPayload mirrors the command task spec.
type CommandPayload struct {
	Program        string            `cbor:"program"`
	Args           []string          `cbor:"args,omitempty"`
	Env            map[string]string `cbor:"env,omitempty"`
	Cwd            string            `cbor:"cwd,omitempty"`
	TimeoutSeconds int               `cbor:"timeout_seconds,omitempty"`
}

// FilePayload carries the file action parameters.
type FilePayload struct {
	Path       string `cbor:"path"`
	Content    []byte `cbor:"content,omitempty"`
	CreateDirs bool   `cbor:"create_dirs,omitempty"`
	Mode       uint32 `cbor:"mode,omitempty"`
	Recursive  bool   `cbor:"recursive,omitempty"`
}

// Response is one CBOR frame from server to client.
type Response struct {
	// OK is false when Error and Code are set.
	OK bool `cbor:"ok"`

	// Code is the gRPC-style status code accompanying Error.
	Code int `cbor:"code,omitempty"`

	// Error is the human-readable failure, empty on success.
	Error string `cbor:"error,omitempty"`

	// Task carries task lifecycle fields for execute, status, and
	// cancel responses.
	Task *TaskPayload `cbor:"task,omitempty"`

	// File carries file action results.
	File *FileResultPayload `cbor:"file,omitempty"`

	// Health carries the health response.
	Health *orchestrator.Health `cbor:"health,omitempty"`

	// Chunk is one output chunk in a stream.
	Chunk *ChunkPayload `cbor:"chunk,omitempty"`

	// Done terminates a stream.
	Done bool `cbor:"done,omitempty"`
}

// TaskPayload mirrors the record for the wire.
type TaskPayload struct {
	TaskID      string            `cbor:"task_id"`
	TaskType    string            `cbor:"task_type"`
	Status      string            `cbor:"status"`
	CreatedAt   string            `cbor:"created_at"`
	StartedAt   string            `cbor:"started_at,omitempty"`
	CompletedAt string            `cbor:"completed_at,omitempty"`
	Metadata    map[string]string `cbor:"metadata,omitempty"`

	ExitCode        *int   `cbor:"exit_code,omitempty"`
	Stdout          []byte `cbor:"stdout,omitempty"`
	Stderr          []byte `cbor:"stderr,omitempty"`
	ExecutionTimeMS int64  `cbor:"execution_time_ms,omitempty"`
}

// FileResultPayload carries file action results.
type FileResultPayload struct {
	Path         string `cbor:"path"`
	Content      []byte `cbor:"content,omitempty"`
	MIME         string `cbor:"mime,omitempty"`
	BytesWritten int    `cbor:"bytes_written,omitempty"`
	Success      bool   `cbor:"success,omitempty"`
}

// ChunkPayload is one streamed output chunk.
type ChunkPayload struct {
	TaskID      string `cbor:"task_id"`
	Kind        string `cbor:"kind"`
	Data        []byte `cbor:"data"`
	TimestampMS int64  `cbor:"timestamp_ms"`
	Seq         uint64 `cbor:"seq"`
}
