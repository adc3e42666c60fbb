// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry owns the gateway's task records.
//
// The registry is the single writer for task state: every state move
// goes through Transition, a compare-and-swap on the current state,
// so observers can never see a terminal state regress or a skipped
// transition. Reads return snapshots and never block writers on other
// shards.
//
// Records are in-memory only. Terminal records linger for the
// retention window so callers polling for a result still find it,
// then the reaper evicts them.
package registry
