// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/fcchi/mcp-security-gateway/lib/clock"
	"github.com/fcchi/mcp-security-gateway/lib/sqlitepool"
	"github.com/fcchi/mcp-security-gateway/policy"
	"github.com/fcchi/mcp-security-gateway/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts_ms     INTEGER NOT NULL,
	event     TEXT    NOT NULL,
	task_id   TEXT,
	kind      TEXT,
	allowed   INTEGER,
	detail    TEXT,
	exit_code INTEGER,
	stdout    BLOB,
	stderr    BLOB
);
CREATE INDEX IF NOT EXISTS audit_events_task ON audit_events (task_id);
`

// Event names stored in the event column.
const (
	eventPolicyDecision = "policy_decision"
	eventTaskTerminal   = "task_terminal"
)

// Config holds audit log parameters.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// PoolSize is the connection pool size. Default 4.
	PoolSize int

	// QueueSize bounds the async write queue. Default 1024.
	QueueSize int

	// Clock stamps events. Nil means the real clock.
	Clock clock.Clock

	// Logger for drops and write failures. Nil means slog.Default().
	Logger *slog.Logger
}

// Log is the SQLite-backed audit sink. It satisfies the
// orchestrator's AuditSink interface.
type Log struct {
	pool    *sqlitepool.Pool
	clock   clock.Clock
	logger  *slog.Logger
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	queue chan row
	done  chan struct{}
	once  sync.Once
}

type row struct {
	tsMS     int64
	event    string
	taskID   string
	kind     string
	allowed  bool
	detail   string
	exitCode int
	stdout   []byte
	stderr   []byte
}

// Open opens (creating as needed) the audit database and starts the
// writer.
func Open(cfg Config) (*Log, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("building zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("building zstd decoder: %w", err)
	}

	l := &Log{
		pool:    pool,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		encoder: encoder,
		decoder: decoder,
		queue:   make(chan row, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go l.writer()
	return l, nil
}

// PolicyDecision records one policy evaluation. taskID may be empty
// for direct file calls, which never allocate an id.
func (l *Log) PolicyDecision(taskID string, input policy.Input, decision policy.Decision) {
	detail := strings.Join(decision.DenyReasons, "; ")
	if decision.Allow {
		detail = strings.Join(decision.Warnings, "; ")
	}
	l.enqueue(row{
		tsMS:    l.clock.Now().UnixMilli(),
		event:   eventPolicyDecision,
		taskID:  taskID,
		kind:    inputType(input),
		allowed: decision.Allow,
		detail:  detail,
	})
}

// TaskTerminal records a task reaching its terminal state, with the
// captured output compressed.
func (l *Log) TaskTerminal(rec registry.Record) {
	r := row{
		tsMS:   l.clock.Now().UnixMilli(),
		event:  eventTaskTerminal,
		taskID: rec.ID,
		kind:   rec.Spec.Kind.String(),
		detail: rec.State.String(),
	}
	if rec.Result != nil {
		r.exitCode = rec.Result.ExitCode
		r.stdout = l.encoder.EncodeAll(rec.Result.Stdout, nil)
		r.stderr = l.encoder.EncodeAll(rec.Result.Stderr, nil)
	}
	l.enqueue(r)
}

func (l *Log) enqueue(r row) {
	// After Close the queue channel is closed and the send panics;
	// such events are dropped.
	defer func() {
		if recover() != nil {
			l.logger.Warn("audit log closed, dropping event", "event", r.event, "task_id", r.taskID)
		}
	}()
	select {
	case l.queue <- r:
	default:
		l.logger.Warn("audit queue full, dropping event", "event", r.event, "task_id", r.taskID)
	}
}

// writer drains the queue until Close.
func (l *Log) writer() {
	defer close(l.done)
	for r := range l.queue {
		if err := l.insert(r); err != nil {
			l.logger.Error("audit write failed", "event", r.event, "error", err)
		}
	}
}

func (l *Log) insert(r row) error {
	conn, err := l.pool.Take(context.Background())
	if err != nil {
		return err
	}
	defer l.pool.Put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO audit_events (ts_ms, event, task_id, kind, allowed, detail, exit_code, stdout, stderr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		&sqlitex.ExecOptions{
			Args: []any{r.tsMS, r.event, r.taskID, r.kind, boolInt(r.allowed), r.detail, r.exitCode, r.stdout, r.stderr},
		})
}

// Close flushes the queue and closes the database. Events enqueued
// after Close begins are dropped.
func (l *Log) Close() error {
	l.once.Do(func() { close(l.queue) })
	<-l.done
	l.encoder.Close()
	l.decoder.Close()
	return l.pool.Close()
}

// Event is one audit row read back from the database. Output blobs
// are decompressed.
type Event struct {
	TimestampMS int64
	Event       string
	TaskID      string
	Kind        string
	Allowed     bool
	Detail      string
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
}

// TaskEvents returns a task's audit rows in insertion order.
func (l *Log) TaskEvents(ctx context.Context, taskID string) ([]Event, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer l.pool.Put(conn)

	var events []Event
	err = sqlitex.Execute(conn, `
		SELECT ts_ms, event, task_id, kind, allowed, detail, exit_code, stdout, stderr
		FROM audit_events WHERE task_id = ? ORDER BY id;`,
		&sqlitex.ExecOptions{
			Args: []any{taskID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ev := Event{
					TimestampMS: stmt.ColumnInt64(0),
					Event:       stmt.ColumnText(1),
					TaskID:      stmt.ColumnText(2),
					Kind:        stmt.ColumnText(3),
					Allowed:     stmt.ColumnInt(4) != 0,
					Detail:      stmt.ColumnText(5),
					ExitCode:    stmt.ColumnInt(6),
				}
				var err error
				if ev.Stdout, err = l.readBlob(stmt, 7); err != nil {
					return err
				}
				if ev.Stderr, err = l.readBlob(stmt, 8); err != nil {
					return err
				}
				events = append(events, ev)
				return nil
			},
		})
	return events, err
}

func (l *Log) readBlob(stmt *sqlite.Stmt, col int) ([]byte, error) {
	n := stmt.ColumnLen(col)
	if n == 0 {
		return nil, nil
	}
	compressed := make([]byte, n)
	stmt.ColumnBytes(col, compressed)
	return l.decoder.DecodeAll(compressed, nil)
}

func inputType(input policy.Input) string {
	switch {
	case input.Command != nil:
		return "command"
	case input.File != nil:
		return "file"
	case input.Network != nil:
		return "network"
	default:
		return "unknown"
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
