// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package server is the REST-shaped wire surface: a thin translator
// between HTTP/WebSocket and the orchestrator's in-process contract.
// No policy, no execution logic lives here — requests are decoded,
// handed to the orchestrator, and its records and errors rendered
// back with the taxonomy's status mapping.
package server
