// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fcchi/mcp-security-gateway/hub"
	"github.com/fcchi/mcp-security-gateway/lib/clock"
	"github.com/fcchi/mcp-security-gateway/orchestrator"
	"github.com/fcchi/mcp-security-gateway/policy"
	"github.com/fcchi/mcp-security-gateway/registry"
	"github.com/fcchi/mcp-security-gateway/sandbox"
)

func newTestServer(t *testing.T) (*httptest.Server, *orchestrator.Orchestrator) {
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

	s, err := New(Config{Orchestrator: orch})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		orch.Wait()
	})
	return ts, orch
}

func postJSON(t *testing.T, url string, body any) (*http.Response, []byte) {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, data
}

func getJSON(t *testing.T, url string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if into != nil {
		if err := json.Unmarshal(data, into); err != nil {
			t.Fatalf("decoding %q: %v", data, err)
		}
	}
	return resp
}

func pollCompleted(t *testing.T, baseURL, id string) taskStatus {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var status taskStatus
		getJSON(t, baseURL+"/v1/tasks/"+id, &status)
		switch status.TaskInfo.Status {
		case "completed", "failed", "cancelled", "timed_out":
			return status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s never terminal", id)
	return taskStatus{}
}

func TestExecuteCommandLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/v1/tasks/command", commandRequest{
		Command: "echo",
		Args:    []string{"over the wire"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var created taskCreated
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !strings.HasPrefix(created.TaskID, "task-") {
		t.Errorf("task id = %q", created.TaskID)
	}
	if _, err := time.Parse(time.RFC3339Nano, created.CreatedAt); err != nil {
		t.Errorf("created_at %q not RFC3339Nano: %v", created.CreatedAt, err)
	}

	status := pollCompleted(t, ts.URL, created.TaskID)
	if status.TaskInfo.Status != "completed" {
		t.Fatalf("terminal status = %s", status.TaskInfo.Status)
	}
	if status.Result == nil || string(status.Result.Stdout) != "over the wire\n" {
		t.Errorf("result = %+v", status.Result)
	}
	if status.TaskInfo.StartedAt == nil || status.TaskInfo.CompletedAt == nil {
		t.Error("terminal task missing timestamps")
	}
}

func TestPolicyDenialOverWire(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/v1/tasks/command", commandRequest{
		Command: "rm", Args: []string{"-rf", "/"},
	})
	// Denial is a task outcome, not a transport error.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var created taskCreated
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	if created.Status != "failed" {
		t.Errorf("status = %q", created.Status)
	}

	var status taskStatus
	getJSON(t, ts.URL+"/v1/tasks/"+created.TaskID, &status)
	if !strings.Contains(string(status.Result.Stderr), "dangerous and forbidden") {
		t.Errorf("stderr = %q", status.Result.Stderr)
	}
}

func TestValidationErrorIs400(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := postJSON(t, ts.URL+"/v1/tasks/command", map[string]any{"args": []string{"x"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var e errorBody
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatal(err)
	}
	if e.Error.Kind != "invalid_argument" {
		t.Errorf("kind = %q", e.Error.Kind)
	}
}

func TestStatusNotFoundIs404(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := getJSON(t, ts.URL+"/v1/tasks/task-ffffffffffffffffffffffffffffffff", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStreamOverWebSocket(t *testing.T) {
	ts, _ := newTestServer(t)

	_, body := postJSON(t, ts.URL+"/v1/tasks/command", commandRequest{
		Command:  "sh",
		Args:     []string{"-c", "echo one; sleep 0.1; echo two"},
		Metadata: map[string]string{"caller.user": "tester", "caller.roles": "admin"},
	})
	var created taskCreated
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/tasks/" + created.TaskID + "/output"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()

	var stdout []string
	sawExit := false
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var chunk outputChunk
		if err := conn.ReadJSON(&chunk); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			t.Fatalf("ReadJSON: %v (stdout so far %v)", err, stdout)
		}
		switch chunk.Kind {
		case "stdout":
			stdout = append(stdout, string(chunk.Data))
		case "exit_code":
			sawExit = true
			if string(chunk.Data) != "0" {
				t.Errorf("exit chunk = %q", chunk.Data)
			}
		}
	}

	if strings.Join(stdout, "") != "one\ntwo\n" {
		t.Errorf("stdout = %q", stdout)
	}
	if !sawExit {
		t.Error("no exit_code chunk before close")
	}
}

func TestStreamUnknownTaskRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/tasks/task-ffffffffffffffffffffffffffffffff/output"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial to unknown task succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("handshake response = %+v", resp)
	}
}

func TestFileEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)
	dir := t.TempDir()
	path := dir + "/wire.txt"

	resp, body := postJSON(t, ts.URL+"/v1/files/write", writeFileRequest{
		Path:    path,
		Content: []byte("wire payload"),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("write status = %d: %s", resp.StatusCode, body)
	}
	var wrote writeFileResponse
	if err := json.Unmarshal(body, &wrote); err != nil {
		t.Fatal(err)
	}
	if wrote.BytesWritten != len("wire payload") {
		t.Errorf("bytes_written = %d", wrote.BytesWritten)
	}

	resp, body = postJSON(t, ts.URL+"/v1/files/read", readFileRequest{Path: path})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read status = %d", resp.StatusCode)
	}
	var read readFileResponse
	if err := json.Unmarshal(body, &read); err != nil {
		t.Fatal(err)
	}
	if string(read.Content) != "wire payload" {
		t.Errorf("content = %q", read.Content)
	}

	resp, body = postJSON(t, ts.URL+"/v1/files/delete", deleteFileRequest{Path: path})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	var deleted deleteFileResponse
	if err := json.Unmarshal(body, &deleted); err != nil {
		t.Fatal(err)
	}
	if !deleted.Success {
		t.Error("delete success = false")
	}
}

func TestFileDeniedIs403(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := postJSON(t, ts.URL+"/v1/files/read", readFileRequest{Path: "/etc/shadow"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var e errorBody
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatal(err)
	}
	if e.Error.Kind != "permission_denied" {
		t.Errorf("kind = %q", e.Error.Kind)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	var health orchestrator.Health
	resp := getJSON(t, ts.URL+"/healthz", &health)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if health.Status != "ok" || health.Version == "" {
		t.Errorf("health = %+v", health)
	}
}

func TestMetricsExposed(t *testing.T) {
	ts, _ := newTestServer(t)
	postJSON(t, ts.URL+"/v1/tasks/command", commandRequest{Command: "echo", Args: []string{"x"}})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "mcp_gateway_tasks_submitted_total") {
		t.Error("submitted counter missing from /metrics")
	}
}
