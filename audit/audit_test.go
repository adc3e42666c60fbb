// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fcchi/mcp-security-gateway/policy"
	"github.com/fcchi/mcp-security-gateway/registry"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(Config{Path: filepath.Join(t.TempDir(), "audit.db"), PoolSize: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

// waitForEvents polls until the async writer has landed n rows.
func waitForEvents(t *testing.T, l *Log, taskID string, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		events, err := l.TaskEvents(context.Background(), taskID)
		if err != nil {
			t.Fatalf("TaskEvents: %v", err)
		}
		if len(events) >= n {
			return events
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %d events for %s within 5s", n, taskID)
	return nil
}

func TestPolicyDecisionRecorded(t *testing.T) {
	l := openTestLog(t)
	defer l.Close()

	l.PolicyDecision("task-1", policy.Input{
		Command: &policy.CommandInput{Name: "rm"},
		User:    policy.UserInput{ID: "user1"},
	}, policy.Decision{
		Allow:       false,
		DenyReasons: []string{"command 'rm' is dangerous and forbidden"},
	})

	events := waitForEvents(t, l, "task-1", 1)
	ev := events[0]
	if ev.Event != "policy_decision" || ev.Kind != "command" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Allowed {
		t.Error("denial recorded as allowed")
	}
	if !strings.Contains(ev.Detail, "dangerous and forbidden") {
		t.Errorf("detail = %q", ev.Detail)
	}
}

func TestTaskTerminalRoundTripsOutput(t *testing.T) {
	l := openTestLog(t)
	defer l.Close()

	stdout := strings.Repeat("captured output line\n", 100)
	l.TaskTerminal(registry.Record{
		ID:    "task-2",
		Spec:  registry.Spec{Kind: registry.KindCommand},
		State: registry.Completed,
		Result: &registry.Result{
			ExitCode: 0,
			Stdout:   []byte(stdout),
			Stderr:   []byte("warn\n"),
		},
	})

	events := waitForEvents(t, l, "task-2", 1)
	ev := events[0]
	if ev.Event != "task_terminal" || ev.Detail != "completed" {
		t.Errorf("event = %+v", ev)
	}
	if string(ev.Stdout) != stdout {
		t.Errorf("stdout round trip lost data: %d bytes back", len(ev.Stdout))
	}
	if string(ev.Stderr) != "warn\n" {
		t.Errorf("stderr = %q", ev.Stderr)
	}
}

func TestEventsOrdered(t *testing.T) {
	l := openTestLog(t)
	defer l.Close()

	l.PolicyDecision("task-3", policy.Input{
		Command: &policy.CommandInput{Name: "echo"},
	}, policy.Decision{Allow: true})
	l.TaskTerminal(registry.Record{
		ID:     "task-3",
		Spec:   registry.Spec{Kind: registry.KindCommand},
		State:  registry.Completed,
		Result: &registry.Result{ExitCode: 0},
	})

	events := waitForEvents(t, l, "task-3", 2)
	if events[0].Event != "policy_decision" || events[1].Event != "task_terminal" {
		t.Errorf("order = %s, %s", events[0].Event, events[1].Event)
	}
}

func TestCloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(Config{Path: path, PoolSize: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 100; i++ {
		l.PolicyDecision("task-4", policy.Input{
			Command: &policy.CommandInput{Name: "echo"},
		}, policy.Decision{Allow: true})
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Everything enqueued before Close is on disk.
	reopened, err := Open(Config{Path: path, PoolSize: 1})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	events, err := reopened.TaskEvents(context.Background(), "task-4")
	if err != nil {
		t.Fatalf("TaskEvents: %v", err)
	}
	if len(events) != 100 {
		t.Errorf("events after close = %d, want 100", len(events))
	}
}
