// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// mcp-gateway is the security gateway daemon: it accepts command,
// file, and network tasks from AI agents over its REST and RPC
// surfaces, decides them against the policy bundle, and runs what is
// allowed inside a bubblewrap sandbox.
//
// Usage:
//
//	mcp-gateway [--config gateway.yaml] [--bind-address ADDR] [--policy-dir DIR]
//
// SIGHUP reloads the policy bundle; SIGTERM and SIGINT shut down
// gracefully.
package main
