// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/fcchi/mcp-security-gateway/lib/codec"
	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
	"github.com/fcchi/mcp-security-gateway/orchestrator"
	"github.com/fcchi/mcp-security-gateway/registry"
)

// Server serves the CBOR RPC surface.
type Server struct {
	orch     *orchestrator.Orchestrator
	logger   *slog.Logger
	listener net.Listener
}

// NewServer builds a server; Serve starts accepting.
func NewServer(orch *orchestrator.Orchestrator, logger *slog.Logger) (*Server, error) {
	if orch == nil {
		return nil, mcperr.E(mcperr.ConfigError, "rpc server requires an orchestrator")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{orch: orch, logger: logger}, nil
}

// Serve listens on addr and handles connections until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.Info("RPC surface listening", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

// Addr returns the bound address once Serve has started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleConn processes requests sequentially on one connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	decoder := codec.NewDecoder(conn)
	encoder := codec.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("rpc decode failed", "error", err)
			}
			return
		}
		if err := s.dispatch(ctx, &req, encoder, conn); err != nil {
			// Encoding failures mean the connection is gone.
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req *Request, encoder *codec.Encoder, conn net.Conn) error {
	s.orch.Metrics().APIRequest("rpc", req.Action, "handled")
	switch req.Action {
	case ActionExecuteCommand:
		return encoder.Encode(s.executeCommand(ctx, req))
	case ActionTaskStatus:
		rec, err := s.orch.Status(req.TaskID)
		return encoder.Encode(taskResponse(rec, err))
	case ActionCancelTask:
		rec, err := s.orch.Cancel(req.TaskID)
		return encoder.Encode(taskResponse(rec, err))
	case ActionStreamOutput:
		return s.streamOutput(ctx, req.TaskID, encoder, conn)
	case ActionReadFile, ActionWriteFile, ActionDeleteFile:
		return encoder.Encode(s.fileAction(req))
	case ActionHealth:
		health := s.orch.Health()
		return encoder.Encode(Response{OK: true, Health: &health})
	default:
		return encoder.Encode(errorResponse(
			mcperr.Errorf(mcperr.InvalidArgument, "unknown action %q", req.Action)))
	}
}

func (s *Server) executeCommand(ctx context.Context, req *Request) Response {
	if req.Command == nil {
		return errorResponse(mcperr.E(mcperr.InvalidArgument, "command payload is required"))
	}
	spec := registry.Spec{
		Kind: registry.KindCommand,
		Command: &registry.CommandSpec{
			Program:    req.Command.Program,
			Args:       req.Command.Args,
			Env:        req.Command.Env,
			WorkingDir: req.Command.Cwd,
			Timeout:    time.Duration(req.Command.TimeoutSeconds) * time.Second,
		},
		Metadata: req.Metadata,
	}
	rec, err := s.orch.Submit(ctx, spec)
	return taskResponse(rec, err)
}

// streamOutput relays the task's chunks as a frame sequence ending
// in a Done frame.
func (s *Server) streamOutput(ctx context.Context, taskID string, encoder *codec.Encoder, conn net.Conn) error {
	sub, err := s.orch.Subscribe(taskID)
	if err != nil {
		return encoder.Encode(errorResponse(err))
	}
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return encoder.Encode(Response{OK: true, Done: true})
		case chunk, ok := <-sub.C:
			if !ok {
				if err := sub.Err(); err != nil {
					return encoder.Encode(errorResponse(err))
				}
				return encoder.Encode(Response{OK: true, Done: true})
			}
			conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			err := encoder.Encode(Response{OK: true, Chunk: &ChunkPayload{
				TaskID:      chunk.TaskID,
				Kind:        chunk.Kind.String(),
				Data:        chunk.Data,
				TimestampMS: chunk.TimestampMS,
				Seq:         chunk.Seq,
			}})
			conn.SetWriteDeadline(time.Time{})
			if err != nil {
				return err
			}
		}
	}
}

func (s *Server) fileAction(req *Request) Response {
	if req.File == nil {
		return errorResponse(mcperr.E(mcperr.InvalidArgument, "file payload is required"))
	}
	switch req.Action {
	case ActionReadFile:
		content, err := s.orch.ReadFile(req.File.Path, req.Metadata)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, File: &FileResultPayload{
			Path:    content.Path,
			Content: content.Content,
			MIME:    content.MIME,
		}}
	case ActionWriteFile:
		n, err := s.orch.WriteFile(req.File.Path, req.File.Content,
			req.File.CreateDirs, os.FileMode(req.File.Mode), req.Metadata)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, File: &FileResultPayload{
			Path:         req.File.Path,
			BytesWritten: n,
			Success:      true,
		}}
	default: // ActionDeleteFile
		if err := s.orch.DeleteFile(req.File.Path, req.File.Recursive, req.Metadata); err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, File: &FileResultPayload{Path: req.File.Path, Success: true}}
	}
}

func taskResponse(rec registry.Record, err error) Response {
	if err != nil {
		return errorResponse(err)
	}
	payload := &TaskPayload{
		TaskID:    rec.ID,
		TaskType:  rec.Spec.Kind.String(),
		Status:    rec.State.String(),
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		Metadata:  rec.Spec.Metadata,
	}
	if !rec.StartedAt.IsZero() {
		payload.StartedAt = rec.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if !rec.CompletedAt.IsZero() {
		payload.CompletedAt = rec.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	if rec.Result != nil {
		code := rec.Result.ExitCode
		payload.ExitCode = &code
		payload.Stdout = rec.Result.Stdout
		payload.Stderr = rec.Result.Stderr
		payload.ExecutionTimeMS = rec.Result.Duration.Milliseconds()
	}
	return Response{OK: true, Task: payload}
}

func errorResponse(err error) Response {
	kind := mcperr.KindOf(err)
	return Response{OK: false, Code: mcperr.RPCCode(kind), Error: err.Error()}
}
