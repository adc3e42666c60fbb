// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite connection pools with the
// gateway's standard pragmas applied to every connection.
//
// SQLite serializes writes no matter how many connections exist, so
// the pool's value is concurrent reads and a single place to get the
// pragma set right: WAL journaling, a busy timeout instead of
// immediate SQLITE_BUSY failures, and foreign keys on.
package sqlitepool
