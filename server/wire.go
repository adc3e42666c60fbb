// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"time"

	"github.com/fcchi/mcp-security-gateway/registry"
)

// commandRequest is the POST /v1/tasks/command body.
type commandRequest struct {
	Command string            `json:"command" binding:"required"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Cwd     string            `json:"cwd"`
	// TimeoutSeconds of zero means the gateway default.
	TimeoutSeconds int               `json:"timeout"`
	Metadata       map[string]string `json:"metadata"`
}

// taskCreated is the submission response.
type taskCreated struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// taskInfo mirrors the record's lifecycle fields. Timestamps are
// ISO-8601 with sub-second precision.
type taskInfo struct {
	TaskID      string            `json:"task_id"`
	TaskType    string            `json:"task_type"`
	Status      string            `json:"status"`
	CreatedAt   string            `json:"created_at"`
	StartedAt   *string           `json:"started_at,omitempty"`
	CompletedAt *string           `json:"completed_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// resourceUsage mirrors the sandbox's counters.
type resourceUsage struct {
	CPUTimeMS    int64  `json:"cpu_time_ms"`
	MaxMemoryKB  uint64 `json:"max_memory_kb"`
	IOReadBytes  uint64 `json:"io_read_bytes"`
	IOWriteBytes uint64 `json:"io_write_bytes"`
}

// taskResult mirrors the record's result.
type taskResult struct {
	ExitCode        int            `json:"exit_code"`
	Stdout          []byte         `json:"stdout,omitempty"`
	Stderr          []byte         `json:"stderr,omitempty"`
	ResourceUsage   *resourceUsage `json:"resource_usage,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
}

// taskStatus is the status and cancel response.
type taskStatus struct {
	TaskInfo taskInfo    `json:"task_info"`
	Result   *taskResult `json:"result,omitempty"`
}

// outputChunk is one WebSocket stream frame. Data is base64 in JSON.
type outputChunk struct {
	TaskID      string `json:"task_id"`
	Kind        string `json:"kind"`
	Data        []byte `json:"data"`
	TimestampMS int64  `json:"timestamp_ms"`
	Seq         uint64 `json:"seq"`
}

// File operation bodies and responses.
type readFileRequest struct {
	Path     string            `json:"path" binding:"required"`
	Metadata map[string]string `json:"metadata"`
}

type readFileResponse struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
	MIME    string `json:"mime,omitempty"`
}

type writeFileRequest struct {
	Path       string `json:"path" binding:"required"`
	Content    []byte `json:"content"`
	CreateDirs bool   `json:"create_dirs"`
	// Mode is an octal permission like 0644; zero means the default.
	Mode     uint32            `json:"mode"`
	Metadata map[string]string `json:"metadata"`
}

type writeFileResponse struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytes_written"`
}

type deleteFileRequest struct {
	Path      string            `json:"path" binding:"required"`
	Recursive bool              `json:"recursive"`
	Metadata  map[string]string `json:"metadata"`
}

type deleteFileResponse struct {
	Path    string `json:"path"`
	Success bool   `json:"success"`
}

// errorBody is the uniform error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optionalTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := isoTime(t)
	return &s
}

func toTaskInfo(rec registry.Record) taskInfo {
	return taskInfo{
		TaskID:      rec.ID,
		TaskType:    rec.Spec.Kind.String(),
		Status:      rec.State.String(),
		CreatedAt:   isoTime(rec.CreatedAt),
		StartedAt:   optionalTime(rec.StartedAt),
		CompletedAt: optionalTime(rec.CompletedAt),
		Metadata:    rec.Spec.Metadata,
	}
}

func toTaskStatus(rec registry.Record) taskStatus {
	status := taskStatus{TaskInfo: toTaskInfo(rec)}
	if rec.Result != nil {
		status.Result = &taskResult{
			ExitCode:        rec.Result.ExitCode,
			Stdout:          rec.Result.Stdout,
			Stderr:          rec.Result.Stderr,
			ExecutionTimeMS: rec.Result.Duration.Milliseconds(),
		}
		usage := rec.Result.Usage
		if usage.CPUTime > 0 || usage.MaxRSSBytes > 0 {
			status.Result.ResourceUsage = &resourceUsage{
				CPUTimeMS:    usage.CPUTime.Milliseconds(),
				MaxMemoryKB:  usage.MaxRSSBytes / 1024,
				IOReadBytes:  usage.IOReadBytes,
				IOWriteBytes: usage.IOWriteBytes,
			}
		}
	}
	return status
}
