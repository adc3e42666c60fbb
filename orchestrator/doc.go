// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator is the gateway's control plane: it glues the
// registry, the policy engine, the sandbox executor, and the output
// hub into the submit → policy → execute pipeline.
//
// Submit allocates the task id, consults policy synchronously, and
// either fails the task on the spot (denial) or queues it for the
// worker pool. Everything after that is asynchronous: workers pull
// tasks FIFO, run them under the configured confiner, publish output
// to the hub, and drive the record to its terminal state. Status,
// Subscribe, and Cancel are thin delegations to the registry and hub.
//
// There is no global state: tests build an Orchestrator from their
// own registry, hub, engine, and fake clock.
package orchestrator
