// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec centralizes the gateway's CBOR wire configuration.
//
// The RPC surface and the policy decision cache both need one thing
// from the codec: determinism. Core Deterministic Encoding guarantees
// that equal values encode to equal bytes, so frames can be hashed
// and compared without a canonicalization pass.
package codec
