// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc is the request-response wire surface: CBOR frames over
// a TCP connection, one request at a time per connection, with a
// streaming mode for task output.
//
// Each frame on the wire is one CBOR-encoded Request or Response.
// A stream-output request gets a sequence of chunk-bearing responses
// terminated by a frame with Done set. Errors ride the gRPC-style
// numeric codes from the error taxonomy, so clients of the previous
// gRPC protocol see familiar numbers.
package rpc
