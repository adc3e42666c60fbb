// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package taskid

import "testing"

func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate id %q after %d generations", id, i)
		}
		seen[id] = true
	}
}

func TestNewShape(t *testing.T) {
	id := New()
	if !Valid(id) {
		t.Fatalf("New produced invalid id %q", id)
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"task-0123456789abcdef0123456789abcdef", true},
		{"task-0123456789ABCDEF0123456789ABCDEF", false}, // uppercase
		{"task-0123", false},                             // too short
		{"job-0123456789abcdef0123456789abcdef", false},  // wrong prefix
		{"", false},
		{"task-0123456789abcdef0123456789abcdeg", false}, // non-hex
	}
	for _, c := range cases {
		if got := Valid(c.in); got != c.want {
			t.Errorf("Valid(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
