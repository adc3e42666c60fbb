// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
)

func writeModule(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestDefaultBundleCompiles(t *testing.T) {
	bundle := Default()
	if bundle.Fingerprint == "" {
		t.Fatal("empty fingerprint")
	}
	allowed := bundle.AllowedCommands()
	if len(allowed) != 9 {
		t.Errorf("allowed commands = %v", allowed)
	}
	dangerous := bundle.DangerousCommands()
	if len(dangerous) != 8 {
		t.Errorf("dangerous commands = %v", dangerous)
	}
}

func TestLoadDirOverridesOneModule(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "command.jsonc", `{
		// deployment-specific allowlist
		"allowed_commands": ["make"],
		"dangerous_commands": ["rm"]
	}`)

	bundle, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	engine := NewEngine(bundle, nil)
	decision, _ := engine.Evaluate(commandInput("make", "user"))
	if !decision.Allow {
		t.Errorf("make denied: %v", decision.DenyReasons)
	}
	decision, _ = engine.Evaluate(commandInput("ls", "user"))
	if decision.Allow {
		t.Error("ls allowed despite override dropping it")
	}
	// file module falls back to the embedded default.
	decision, _ = engine.Evaluate(fileInput("/workspace/x", "read"))
	if !decision.Allow {
		t.Errorf("default file module missing: %v", decision.DenyReasons)
	}
}

func TestLoadDirRejectsUnknownModule(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "comand.jsonc", `{}`) // typo
	_, err := LoadDir(dir)
	if err == nil {
		t.Fatal("typoed module accepted")
	}
	if !mcperr.Is(err, mcperr.ConfigError) {
		t.Errorf("kind = %v", mcperr.KindOf(err))
	}
}

func TestLoadDirMalformedModuleReportsLine(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "network.jsonc", `{
  // comment line
  "allowed_hosts": ["a.example.com"],
  "allowed_ports": "not-a-list"
}`)
	_, err := LoadDir(dir)
	if err == nil {
		t.Fatal("malformed module accepted")
	}
	if !mcperr.Is(err, mcperr.ConfigError) {
		t.Fatalf("kind = %v", mcperr.KindOf(err))
	}
	if !strings.Contains(err.Error(), "network.jsonc:4") {
		t.Errorf("error lacks file:line detail: %v", err)
	}
}

func TestLoadDirRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "command.jsonc", `{"alowed_commands": ["ls"]}`)
	if _, err := LoadDir(dir); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestCompileRejectsOverlappingSets(t *testing.T) {
	_, err := Compile(map[string][]byte{
		"command.jsonc": []byte(`{
			"allowed_commands": ["curl"],
			"dangerous_commands": ["curl"]
		}`),
		"file.jsonc":    []byte(`{}`),
		"network.jsonc": []byte(`{}`),
	})
	if err == nil {
		t.Fatal("overlapping allowed/dangerous accepted")
	}
}

func TestCompileRejectsBadPort(t *testing.T) {
	_, err := Compile(map[string][]byte{
		"command.jsonc": []byte(`{}`),
		"file.jsonc":    []byte(`{}`),
		"network.jsonc": []byte(`{"allowed_ports": [0]}`),
	})
	if err == nil {
		t.Fatal("port 0 accepted")
	}
}

func TestFingerprintTracksContent(t *testing.T) {
	a, err := Compile(map[string][]byte{
		"command.jsonc": []byte(`{"allowed_commands": ["ls"]}`),
		"file.jsonc":    []byte(`{}`),
		"network.jsonc": []byte(`{}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compile(map[string][]byte{
		"command.jsonc": []byte(`{"allowed_commands": ["cat"]}`),
		"file.jsonc":    []byte(`{}`),
		"network.jsonc": []byte(`{}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Fingerprint == b.Fingerprint {
		t.Error("different sources, same fingerprint")
	}

	again, _ := Compile(map[string][]byte{
		"command.jsonc": []byte(`{"allowed_commands": ["ls"]}`),
		"file.jsonc":    []byte(`{}`),
		"network.jsonc": []byte(`{}`),
	})
	if a.Fingerprint != again.Fingerprint {
		t.Error("same sources, different fingerprint")
	}
}

func TestSwapIsAtomic(t *testing.T) {
	engine := NewEngine(Default(), nil)

	strict, err := Compile(map[string][]byte{
		"command.jsonc": []byte(`{"allowed_commands": []}`),
		"file.jsonc":    []byte(`{}`),
		"network.jsonc": []byte(`{}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			decision, err := engine.Evaluate(commandInput("ls", "user"))
			if err != nil {
				t.Errorf("Evaluate: %v", err)
				return
			}
			// Under either bundle the decision is well-formed; a torn
			// bundle would deny with no reasons or panic.
			if !decision.Allow && len(decision.DenyReasons) == 0 {
				t.Error("torn decision")
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		engine.Swap(strict)
		engine.Swap(Default())
	}
	<-done

	engine.Swap(strict)
	decision, _ := engine.Evaluate(commandInput("ls", "user"))
	if decision.Allow {
		t.Error("post-swap evaluation used the old bundle")
	}
}
