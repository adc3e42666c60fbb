// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy decides whether a requested action is allowed.
//
// A Bundle is the compiled form of a directory of declarative rule
// modules (command.jsonc, file.jsonc, network.jsonc). The rule
// language is deliberately small — set membership, string prefix
// matching, and formatted deny reasons — which covers the gateway's
// semantics without dragging in a policy-language runtime.
//
// The Engine holds the active bundle behind an atomic pointer.
// Evaluate is pure and deterministic given a bundle and an input;
// Swap replaces the bundle without blocking in-flight evaluations,
// which complete against the bundle they started with.
package policy
