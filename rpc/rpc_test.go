// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fcchi/mcp-security-gateway/hub"
	"github.com/fcchi/mcp-security-gateway/lib/clock"
	"github.com/fcchi/mcp-security-gateway/orchestrator"
	"github.com/fcchi/mcp-security-gateway/policy"
	"github.com/fcchi/mcp-security-gateway/registry"
	"github.com/fcchi/mcp-security-gateway/sandbox"
)

func startTestServer(t *testing.T) *Client {
	t.Helper()
	orch, err := orchestrator.New(orchestrator.Config{
		Registry: registry.New(),
		Hub:      hub.New(hub.Config{}),
		Engine:   policy.NewEngine(policy.Default(), nil),
		Confiner: sandbox.ExecConfiner{},
		Runner: &sandbox.Runner{
			Clock:           clock.Real(),
			GracePeriod:     200 * time.Millisecond,
			MaxCaptureBytes: 1 << 20,
		},
		WorkspaceDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	orch.Start(ctx)

	server, err := NewServer(orch, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx, "127.0.0.1:0") }()

	// Wait for the listener to bind.
	deadline := time.Now().Add(5 * time.Second)
	for server.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}

	client, err := Dial(server.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		cancel()
		orch.Wait()
		if err := <-serveErr; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return client
}

func pollStatus(t *testing.T, client *Client, taskID string) *TaskPayload {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Call(Request{Action: ActionTaskStatus, TaskID: taskID})
		if err != nil {
			t.Fatalf("status call: %v", err)
		}
		if !resp.OK {
			t.Fatalf("status error: %s", resp.Error)
		}
		switch resp.Task.Status {
		case "completed", "failed", "cancelled", "timed_out":
			return resp.Task
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s never terminal", taskID)
	return nil
}

func TestExecuteAndStatus(t *testing.T) {
	client := startTestServer(t)

	resp, err := client.Call(Request{
		Action:  ActionExecuteCommand,
		Command: &CommandPayload{Program: "echo", Args: []string{"rpc hello"}},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK || resp.Task == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Task.Status != "queued" {
		t.Errorf("initial status = %q", resp.Task.Status)
	}

	task := pollStatus(t, client, resp.Task.TaskID)
	if task.Status != "completed" {
		t.Fatalf("terminal status = %q, stderr %q", task.Status, task.Stderr)
	}
	if string(task.Stdout) != "rpc hello\n" {
		t.Errorf("stdout = %q", task.Stdout)
	}
	if task.ExitCode == nil || *task.ExitCode != 0 {
		t.Errorf("exit code = %v", task.ExitCode)
	}
}

func TestPolicyDenialCarriesReasons(t *testing.T) {
	client := startTestServer(t)

	resp, err := client.Call(Request{
		Action:  ActionExecuteCommand,
		Command: &CommandPayload{Program: "sudo", Args: []string{"reboot"}},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK {
		t.Fatalf("denial surfaced as RPC error: %s", resp.Error)
	}
	if resp.Task.Status != "failed" {
		t.Errorf("status = %q", resp.Task.Status)
	}
	if !strings.Contains(string(resp.Task.Stderr), "dangerous and forbidden") {
		t.Errorf("stderr = %q", resp.Task.Stderr)
	}
}

func TestUnknownTaskCode(t *testing.T) {
	client := startTestServer(t)
	resp, err := client.Call(Request{Action: ActionTaskStatus, TaskID: "task-ffffffffffffffffffffffffffffffff"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.OK {
		t.Fatal("unknown task returned OK")
	}
	if resp.Code != 5 { // NOT_FOUND
		t.Errorf("code = %d, want 5", resp.Code)
	}
}

func TestUnknownAction(t *testing.T) {
	client := startTestServer(t)
	resp, err := client.Call(Request{Action: "frobnicate"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.OK || resp.Code != 3 { // INVALID_ARGUMENT
		t.Errorf("response = %+v", resp)
	}
}

func TestStreamOutput(t *testing.T) {
	client := startTestServer(t)

	resp, err := client.Call(Request{
		Action: ActionExecuteCommand,
		Command: &CommandPayload{
			Program: "sh",
			Args:    []string{"-c", "echo alpha; sleep 0.1; echo beta"},
		},
		Metadata: map[string]string{"caller.roles": "admin"},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK {
		t.Fatalf("submit failed: %s", resp.Error)
	}

	// A second connection streams while the first submitted.
	streamClient, err := Dial(client.conn.RemoteAddr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("Dial for stream: %v", err)
	}
	defer streamClient.Close()

	var stdout []string
	sawExit := false
	err = streamClient.Stream(resp.Task.TaskID, func(chunk ChunkPayload) error {
		switch chunk.Kind {
		case "stdout":
			stdout = append(stdout, string(chunk.Data))
		case "exit_code":
			sawExit = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if strings.Join(stdout, "") != "alpha\nbeta\n" {
		t.Errorf("stdout = %q", stdout)
	}
	if !sawExit {
		t.Error("no exit_code chunk")
	}
}

func TestFileActions(t *testing.T) {
	client := startTestServer(t)
	dir := t.TempDir()
	path := dir + "/rpc.txt"

	resp, err := client.Call(Request{
		Action: ActionWriteFile,
		File:   &FilePayload{Path: path, Content: []byte("rpc file content")},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !resp.OK || resp.File.BytesWritten != len("rpc file content") {
		t.Fatalf("write response = %+v", resp)
	}

	resp, err = client.Call(Request{Action: ActionReadFile, File: &FilePayload{Path: path}})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !resp.OK || string(resp.File.Content) != "rpc file content" {
		t.Fatalf("read response = %+v", resp)
	}

	resp, err = client.Call(Request{Action: ActionDeleteFile, File: &FilePayload{Path: path}})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !resp.OK || !resp.File.Success {
		t.Fatalf("delete response = %+v", resp)
	}

	// Denied path maps to PERMISSION_DENIED.
	resp, err = client.Call(Request{Action: ActionReadFile, File: &FilePayload{Path: "/etc/shadow"}})
	if err != nil {
		t.Fatalf("denied read: %v", err)
	}
	if resp.OK || resp.Code != 7 {
		t.Errorf("denied read response = %+v", resp)
	}
}

func TestHealthAction(t *testing.T) {
	client := startTestServer(t)
	resp, err := client.Call(Request{Action: ActionHealth})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK || resp.Health == nil || resp.Health.Status != "ok" {
		t.Fatalf("response = %+v", resp)
	}
}
