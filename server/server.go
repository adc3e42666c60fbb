// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
	"github.com/fcchi/mcp-security-gateway/orchestrator"
	"github.com/fcchi/mcp-security-gateway/registry"
)

// Config wires a Server.
type Config struct {
	// Orchestrator is the in-process contract everything translates
	// into. Required.
	Orchestrator *orchestrator.Orchestrator

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the REST surface.
type Server struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
	router *gin.Engine
}

// New builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, mcperr.E(mcperr.ConfigError, "server requires an orchestrator")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{orch: cfg.Orchestrator, logger: cfg.Logger, router: router}

	v1 := router.Group("/v1")
	v1.POST("/tasks/command", s.handleExecuteCommand)
	v1.GET("/tasks/:id", s.handleTaskStatus)
	v1.POST("/tasks/:id/cancel", s.handleCancelTask)
	v1.GET("/tasks/:id/output", s.handleStreamOutput)
	v1.POST("/files/read", s.handleReadFile)
	v1.POST("/files/write", s.handleWriteFile)
	v1.POST("/files/delete", s.handleDeleteFile)

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		cfg.Orchestrator.Metrics().Registry(), promhttp.HandlerOpts{})))

	return s, nil
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("REST surface listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleExecuteCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, "POST", mcperr.Errorf(mcperr.InvalidArgument, "decoding request: %w", err))
		return
	}

	spec := registry.Spec{
		Kind: registry.KindCommand,
		Command: &registry.CommandSpec{
			Program:    req.Command,
			Args:       req.Args,
			Env:        req.Env,
			WorkingDir: req.Cwd,
			Timeout:    time.Duration(req.TimeoutSeconds) * time.Second,
		},
		Metadata: req.Metadata,
	}

	rec, err := s.orch.Submit(c.Request.Context(), spec)
	if err != nil {
		s.renderError(c, "POST", err)
		return
	}

	s.orch.Metrics().APIRequest("rest", "execute_command", "200")
	c.JSON(http.StatusOK, taskCreated{
		TaskID:    rec.ID,
		Status:    rec.State.String(),
		CreatedAt: isoTime(rec.CreatedAt),
	})
}

func (s *Server) handleTaskStatus(c *gin.Context) {
	rec, err := s.orch.Status(c.Param("id"))
	if err != nil {
		s.renderError(c, "GET", err)
		return
	}
	s.orch.Metrics().APIRequest("rest", "task_status", "200")
	c.JSON(http.StatusOK, toTaskStatus(rec))
}

func (s *Server) handleCancelTask(c *gin.Context) {
	rec, err := s.orch.Cancel(c.Param("id"))
	if err != nil {
		s.renderError(c, "POST", err)
		return
	}
	s.orch.Metrics().APIRequest("rest", "cancel_task", "200")
	c.JSON(http.StatusOK, toTaskStatus(rec))
}

func (s *Server) handleReadFile(c *gin.Context) {
	var req readFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, "POST", mcperr.Errorf(mcperr.InvalidArgument, "decoding request: %w", err))
		return
	}
	content, err := s.orch.ReadFile(req.Path, req.Metadata)
	if err != nil {
		s.renderError(c, "POST", err)
		return
	}
	s.orch.Metrics().APIRequest("rest", "read_file", "200")
	c.JSON(http.StatusOK, readFileResponse{
		Path:    content.Path,
		Content: content.Content,
		MIME:    content.MIME,
	})
}

func (s *Server) handleWriteFile(c *gin.Context) {
	var req writeFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, "POST", mcperr.Errorf(mcperr.InvalidArgument, "decoding request: %w", err))
		return
	}
	n, err := s.orch.WriteFile(req.Path, req.Content, req.CreateDirs, os.FileMode(req.Mode), req.Metadata)
	if err != nil {
		s.renderError(c, "POST", err)
		return
	}
	s.orch.Metrics().APIRequest("rest", "write_file", "200")
	c.JSON(http.StatusOK, writeFileResponse{Path: req.Path, BytesWritten: n})
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	var req deleteFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, "POST", mcperr.Errorf(mcperr.InvalidArgument, "decoding request: %w", err))
		return
	}
	if err := s.orch.DeleteFile(req.Path, req.Recursive, req.Metadata); err != nil {
		s.renderError(c, "POST", err)
		return
	}
	s.orch.Metrics().APIRequest("rest", "delete_file", "200")
	c.JSON(http.StatusOK, deleteFileResponse{Path: req.Path, Success: true})
}

func (s *Server) handleHealth(c *gin.Context) {
	s.orch.Metrics().APIRequest("rest", "health", "200")
	c.JSON(http.StatusOK, s.orch.Health())
}

// renderError maps a taxonomy error onto the wire.
func (s *Server) renderError(c *gin.Context, method string, err error) {
	kind := mcperr.KindOf(err)
	status := mcperr.HTTPStatus(kind)
	s.orch.Metrics().APIRequest("rest", method, strconv.Itoa(status))
	s.logger.Debug("request failed", "path", c.FullPath(), "kind", kind.String(), "error", err)

	var e *mcperr.Error
	message := err.Error()
	if errors.As(err, &e) {
		message = e.Error()
	}
	c.JSON(status, errorBody{Error: errorDetail{Kind: kind.String(), Message: message}})
}
