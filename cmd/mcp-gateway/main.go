// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/fcchi/mcp-security-gateway/audit"
	"github.com/fcchi/mcp-security-gateway/hub"
	"github.com/fcchi/mcp-security-gateway/lib/clock"
	"github.com/fcchi/mcp-security-gateway/lib/config"
	"github.com/fcchi/mcp-security-gateway/lib/tracing"
	"github.com/fcchi/mcp-security-gateway/lib/version"
	"github.com/fcchi/mcp-security-gateway/orchestrator"
	"github.com/fcchi/mcp-security-gateway/policy"
	"github.com/fcchi/mcp-security-gateway/registry"
	"github.com/fcchi/mcp-security-gateway/rpc"
	"github.com/fcchi/mcp-security-gateway/sandbox"
	"github.com/fcchi/mcp-security-gateway/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env next to the binary is a development convenience; absence
	// is not an error.
	_ = godotenv.Load()

	flags := pflag.NewFlagSet("mcp-gateway", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to gateway.yaml (or MCP_GATEWAY_CONFIG)")
	bindAddress := flags.String("bind-address", "", "override bind_address")
	policyDir := flags.String("policy-dir", "", "override policy_dir")
	logLevel := flags.String("log-level", "", "override log_level")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("mcp-gateway %s\n", version.Info())
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *bindAddress != "" {
		cfg.BindAddress = *bindAddress
	}
	if *policyDir != "" {
		cfg.PolicyDir = *policyDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := buildLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("mcp-gateway starting", "version", version.Info(), "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, logger)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	// Policy bundle: compiled-in defaults unless a directory is
	// configured.
	bundle := policy.Default()
	if cfg.PolicyDir != "" {
		bundle, err = policy.LoadDir(cfg.PolicyDir)
		if err != nil {
			return err
		}
	}
	engine := policy.NewEngine(bundle, logger)
	logger.Info("policy bundle loaded", "summary", bundle.Describe())

	confiner, runner, err := buildExecutor(cfg, logger)
	if err != nil {
		return err
	}

	var auditSink orchestrator.AuditSink
	var auditLog *audit.Log
	if cfg.Audit.Path != "" {
		auditLog, err = audit.Open(audit.Config{
			Path:     cfg.Audit.Path,
			PoolSize: cfg.Audit.PoolSize,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer auditLog.Close()
		auditSink = auditLog
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Registry:        registry.New(),
		Hub:             hub.New(hub.Config{Logger: logger}),
		Engine:          engine,
		Confiner:        confiner,
		Runner:          runner,
		Network:         orchestrator.NewHTTPNetworkRunner(),
		Audit:           auditSink,
		Logger:          logger,
		WorkspaceDir:    cfg.WorkspaceDir,
		DefaultTimeout:  cfg.DefaultTimeout.Std(),
		MaxTimeout:      cfg.MaxTimeout.Std(),
		MaxConcurrent:   maxConcurrent(cfg),
		RetentionWindow: cfg.RetentionWindow.Std(),
		ReapInterval:    cfg.ReapInterval.Std(),
	})
	if err != nil {
		return err
	}
	orch.Start(ctx)

	// SIGHUP swaps the policy bundle in place.
	go reloadOnSighup(ctx, cfg.PolicyDir, engine, logger)

	errCh := make(chan error, 2)

	rest, err := server.New(server.Config{Orchestrator: orch, Logger: logger})
	if err != nil {
		return err
	}
	go func() { errCh <- rest.Run(ctx, cfg.BindAddress) }()

	if cfg.RPCAddress != "" {
		rpcServer, err := rpc.NewServer(orch, logger)
		if err != nil {
			return err
		}
		go func() { errCh <- rpcServer.Serve(ctx, cfg.RPCAddress) }()
	}

	if cfg.MetricsAddress != "" {
		go serveMetrics(ctx, cfg.MetricsAddress, orch, logger)
	}

	select {
	case err := <-errCh:
		stop()
		orch.Wait()
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		orch.Wait()
		return nil
	}
}

// buildExecutor picks the confiner per capability detection and the
// configured fallback behavior.
func buildExecutor(cfg *config.Config, logger *slog.Logger) (sandbox.Confiner, *sandbox.Runner, error) {
	runner := &sandbox.Runner{
		Clock:           clock.Real(),
		GracePeriod:     cfg.Sandbox.GracePeriod.Std(),
		MaxCaptureBytes: cfg.Sandbox.MaxCaptureBytes,
		Logger:          logger,
	}

	if !cfg.Sandbox.Enabled {
		logger.Warn("sandbox disabled by configuration; tasks run unconfined")
		return sandbox.ExecConfiner{}, runner, nil
	}

	caps := sandbox.DetectCapabilities()
	if caps.CanConfine() {
		seccomp := sandbox.NewProfileManager(cfg.Sandbox.SeccompDir)
		if seccomp == nil {
			logger.Warn("no seccomp directory configured; children run without a syscall filter")
		} else if !seccomp.Available() {
			logger.Warn("no compiled seccomp filters found; children run without a syscall filter",
				"dir", cfg.Sandbox.SeccompDir)
		}
		var scope *sandbox.ScopeRunner
		if caps.SystemdRunAvailable {
			scope = sandbox.NewScopeRunner("mcp-gateway-task")
		} else {
			logger.Warn("systemd-run unavailable; resource limits will not be enforced")
		}
		logger.Info("bubblewrap confinement active", "bwrap", caps.BwrapPath, "version", caps.BwrapVersion)
		return &sandbox.BwrapConfiner{BwrapPath: caps.BwrapPath, Seccomp: seccomp, Scope: scope}, runner, nil
	}

	reason := caps.SkipReason()
	switch cfg.NoBwrapBehavior() {
	case "error":
		return nil, nil, fmt.Errorf("sandbox unavailable (%s) and sandbox.no_bwrap=error", reason)
	case "warn":
		logger.Warn("sandbox unavailable, running unconfined", "reason", reason)
	}
	return sandbox.ExecConfiner{}, runner, nil
}

func maxConcurrent(cfg *config.Config) int {
	n := cfg.MaxConcurrentTasks
	if cfg.Sandbox.PoolSize > 0 && cfg.Sandbox.PoolSize < n {
		n = cfg.Sandbox.PoolSize
	}
	return n
}

// reloadOnSighup recompiles the policy directory and swaps the
// bundle on each SIGHUP. A broken reload keeps the old bundle.
func reloadOnSighup(ctx context.Context, policyDir string, engine *policy.Engine, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if policyDir == "" {
				logger.Warn("SIGHUP received but no policy_dir configured; keeping compiled-in bundle")
				continue
			}
			bundle, err := policy.LoadDir(policyDir)
			if err != nil {
				logger.Error("policy reload failed, keeping current bundle", "error", err)
				continue
			}
			engine.Swap(bundle)
			logger.Info("policy bundle reloaded", "summary", bundle.Describe())
		}
	}
}

// serveMetrics runs the optional standalone metrics listener. The
// REST surface serves /metrics too; this one exists for deployments
// that keep the scrape endpoint off the task-facing port.
func serveMetrics(ctx context.Context, addr string, orch *orchestrator.Orchestrator, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(orch.Metrics().Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	logger.Info("metrics surface listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics surface failed", "error", err)
	}
}

func buildLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if os.Getenv("MCP_GATEWAY_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
