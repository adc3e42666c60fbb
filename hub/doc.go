// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package hub fans task output out to stream subscribers.
//
// Each task gets one stream: an ordered replay ring of recent chunks
// plus the set of live subscribers. A subscriber joining mid-task
// first receives the retained history (prefixed with a synthetic
// "history truncated" event when the ring has already dropped
// chunks), then live chunks until the task closes, then a channel
// close. A subscriber that stops draining its queue is disconnected
// rather than allowed to stall the producer.
package hub
