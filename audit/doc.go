// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit persists the gateway's security-relevant events: one
// row per policy decision and one per terminal task, captured output
// included (zstd-compressed).
//
// The log is append-only and written asynchronously so a slow disk
// never stalls the submit path; under sustained overload events are
// dropped with a logged warning rather than queued without bound.
// This is an audit trail, not task-history persistence — the registry
// is never rebuilt from it.
package audit
