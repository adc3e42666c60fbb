// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func openTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	pool, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		PoolSize: size,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn,
				"CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT);", nil)
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("empty path accepted")
	}
}

func TestRoundTrip(t *testing.T) {
	pool := openTestPool(t, 2)
	ctx := context.Background()

	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	err = sqlitex.Execute(conn, "INSERT INTO kv (k, v) VALUES (?, ?);", &sqlitex.ExecOptions{
		Args: []any{"greeting", "hello"},
	})
	pool.Put(conn)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	conn, err = pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	var got string
	err = sqlitex.Execute(conn, "SELECT v FROM kv WHERE k = ?;", &sqlitex.ExecOptions{
		Args: []any{"greeting"},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			got = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != "hello" {
		t.Errorf("v = %q", got)
	}
}

func TestConcurrentWriters(t *testing.T) {
	pool := openTestPool(t, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conn, err := pool.Take(ctx)
			if err != nil {
				t.Errorf("Take: %v", err)
				return
			}
			defer pool.Put(conn)
			err = sqlitex.Execute(conn, "INSERT OR REPLACE INTO kv (k, v) VALUES (?, ?);",
				&sqlitex.ExecOptions{Args: []any{n, "x"}})
			if err != nil {
				t.Errorf("insert %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)
	var count int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM kv;", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 16 {
		t.Errorf("count = %d", count)
	}
}
