// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config holds the parameters for opening a pool. Path is required.
type Config struct {
	// Path is the database file, created if absent. ":memory:" gives
	// an in-memory database; use PoolSize 1 with it, since every
	// in-memory connection is a separate database.
	Path string

	// PoolSize defaults to max(NumCPU, 4).
	PoolSize int

	// Logger receives operational messages. Nil means slog.Default().
	Logger *slog.Logger

	// OnConnect runs once per connection after the standard pragmas.
	// Schema creation goes here. An error discards the connection.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size SQLite connection pool. Safe for concurrent
// use; individual connections are not — Take one per goroutine and
// Put it back.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool. Connections initialize lazily on first Take.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: path is required")
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = runtime.NumCPU()
		if size < 4 {
			size = 4
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	memory := cfg.Path == ":memory:"

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA busy_timeout = 5000;",
				"PRAGMA foreign_keys = ON;",
			}
			if !memory {
				// WAL lets readers run during a write. Meaningless
				// for in-memory databases.
				pragmas = append(pragmas,
					"PRAGMA journal_mode = WAL;",
					"PRAGMA synchronous = NORMAL;")
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("applying %q: %w", pragma, err)
				}
			}
			if cfg.OnConnect != nil {
				return cfg.OnConnect(conn)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Path, err)
	}

	logger.Debug("sqlite pool opened", "path", cfg.Path, "size", size)
	return &Pool{inner: inner, logger: logger, path: cfg.Path}, nil
}

// Take borrows a connection. Blocks until one is free or ctx is done.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	return p.inner.Take(ctx)
}

// Put returns a borrowed connection.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes every connection. Outstanding Takes fail.
func (p *Pool) Close() error {
	p.logger.Debug("sqlite pool closing", "path", p.path)
	return p.inner.Close()
}
