// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Name  string            `cbor:"name"`
	Count int               `cbor:"count"`
	Tags  map[string]string `cbor:"tags,omitempty"`
}

func TestRoundTrip(t *testing.T) {
	in := sample{
		Name:  "echo",
		Count: 3,
		Tags:  map[string]string{"caller.user": "user1", "env": "test"},
	}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Name != in.Name || out.Count != in.Count || len(out.Tags) != 2 {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestDeterministicEncoding(t *testing.T) {
	// Maps are the usual source of nondeterminism; encode one many
	// times and require identical bytes.
	v := map[string]int{"zulu": 1, "alpha": 2, "mike": 3, "delta": 4}
	first, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := Marshal(v)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding differs on attempt %d", i)
		}
	}
}

func TestAnyTargetDecodesToStringMap(t *testing.T) {
	data, err := Marshal(map[string]any{"inner": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	inner, ok := out["inner"].(map[string]any)
	if !ok {
		t.Fatalf("inner decoded as %T, want map[string]any", out["inner"])
	}
	if inner["k"] != "v" {
		t.Errorf("inner[k] = %v", inner["k"])
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"name": "x", "count": 1, "future": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("decoding with unknown field: %v", err)
	}
	if out.Name != "x" || out.Count != 1 {
		t.Errorf("decoded %+v", out)
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for i := 0; i < 3; i++ {
		if err := enc.Encode(sample{Name: "n", Count: i}); err != nil {
			t.Fatalf("Encode %d: %v", i, err)
		}
	}

	dec := NewDecoder(&buf)
	for i := 0; i < 3; i++ {
		var out sample
		if err := dec.Decode(&out); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if out.Count != i {
			t.Errorf("frame %d count = %d", i, out.Count)
		}
	}
}
