// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The orchestrator's timeout enforcement, the registry reaper, and the
// output hub all schedule work against wall-clock time. Testing those
// paths with real timers is slow and flaky, so every component takes a
// clock.Clock and the tests hand it a *FakeClock whose time only moves
// when the test calls Advance.
package clock
