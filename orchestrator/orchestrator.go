// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fcchi/mcp-security-gateway/hub"
	"github.com/fcchi/mcp-security-gateway/lib/clock"
	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
	"github.com/fcchi/mcp-security-gateway/lib/taskid"
	"github.com/fcchi/mcp-security-gateway/lib/version"
	"github.com/fcchi/mcp-security-gateway/policy"
	"github.com/fcchi/mcp-security-gateway/registry"
	"github.com/fcchi/mcp-security-gateway/sandbox"
)

// AuditSink receives the events worth keeping: every policy decision
// and every terminal task. Implementations must not block — the
// audit log writes asynchronously.
type AuditSink interface {
	PolicyDecision(taskID string, input policy.Input, decision policy.Decision)
	TaskTerminal(rec registry.Record)
}

// NetworkRunner executes allowed network-request tasks. Optional: a
// gateway without one fails such tasks as Unavailable after policy
// has had its say.
type NetworkRunner interface {
	Do(ctx context.Context, spec *registry.NetworkSpec) (status int, body []byte, err error)
}

// Config wires an Orchestrator. Registry, Hub, Engine, Confiner, and
// Runner are required.
type Config struct {
	Registry *registry.Registry
	Hub      *hub.Hub
	Engine   *policy.Engine
	Confiner sandbox.Confiner
	Runner   *sandbox.Runner

	// Network executes network-request tasks. Nil disables them.
	Network NetworkRunner

	// Audit receives decisions and terminal tasks. Nil disables
	// auditing.
	Audit AuditSink

	// Metrics defaults to a fresh NewMetrics().
	Metrics *Metrics

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// WorkspaceDir anchors default working directories and the
	// default sandbox spec. Defaults to /workspace.
	WorkspaceDir string

	// SandboxSpec is the default confinement for command tasks that
	// do not carry their own. Defaults to
	// sandbox.DefaultSpec(WorkspaceDir).
	SandboxSpec *sandbox.Spec

	// DefaultTimeout applies to tasks that declare none; MaxTimeout
	// caps declared ones. Default 30s / 10m.
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration

	// MaxConcurrent is the executor pool size. Default 8.
	MaxConcurrent int

	// QueueCapacity bounds the FIFO admission queue; a full queue
	// fails further submissions with ResourceExhausted. Default 256.
	QueueCapacity int

	// RetentionWindow and ReapInterval drive the reaper. Default 1h
	// and 1m.
	RetentionWindow time.Duration
	ReapInterval    time.Duration
}

// Orchestrator is the gateway's control plane. Build with New, start
// the workers with Start, and submit away.
type Orchestrator struct {
	registry *registry.Registry
	hub      *hub.Hub
	engine   *policy.Engine
	confiner sandbox.Confiner
	runner   *sandbox.Runner
	network  NetworkRunner
	audit    AuditSink
	metrics  *Metrics
	clock    clock.Clock
	logger   *slog.Logger
	tracer   trace.Tracer

	workspaceDir   string
	sandboxSpec    *sandbox.Spec
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	retention      time.Duration
	reapInterval   time.Duration

	queue     chan string
	workers   int
	wg        sync.WaitGroup
	startedAt time.Time
}

// New validates the config and builds an Orchestrator. Workers do
// not run until Start.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil || cfg.Hub == nil || cfg.Engine == nil {
		return nil, mcperr.E(mcperr.ConfigError, "orchestrator requires a registry, hub, and policy engine")
	}
	if cfg.Confiner == nil || cfg.Runner == nil {
		return nil, mcperr.E(mcperr.ConfigError, "orchestrator requires a confiner and runner")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = "/workspace"
	}
	if cfg.SandboxSpec == nil {
		cfg.SandboxSpec = sandbox.DefaultSpec(cfg.WorkspaceDir)
	}
	if err := cfg.SandboxSpec.Normalize(); err != nil {
		return nil, mcperr.Wrap(mcperr.ConfigError, "default sandbox spec", err)
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 10 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = time.Hour
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}

	return &Orchestrator{
		registry:       cfg.Registry,
		hub:            cfg.Hub,
		engine:         cfg.Engine,
		confiner:       cfg.Confiner,
		runner:         cfg.Runner,
		network:        cfg.Network,
		audit:          cfg.Audit,
		metrics:        cfg.Metrics,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		tracer:         otel.Tracer("github.com/fcchi/mcp-security-gateway/orchestrator"),
		workspaceDir:   cfg.WorkspaceDir,
		sandboxSpec:    cfg.SandboxSpec,
		defaultTimeout: cfg.DefaultTimeout,
		maxTimeout:     cfg.MaxTimeout,
		retention:      cfg.RetentionWindow,
		reapInterval:   cfg.ReapInterval,
		queue:          make(chan string, cfg.QueueCapacity),
		workers:        cfg.MaxConcurrent,
		startedAt:      cfg.Clock.Now(),
	}, nil
}

// Start launches the worker pool and the reaper. They run until ctx
// is cancelled; Wait blocks until they have drained.
func (o *Orchestrator) Start(ctx context.Context) {
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}
	o.wg.Add(1)
	go o.reapLoop(ctx)
}

// Wait blocks until the workers and reaper have exited after their
// context was cancelled.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Metrics exposes the instrumentation for the wire surfaces.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// Engine exposes the policy engine for reload handling.
func (o *Orchestrator) Engine() *policy.Engine { return o.engine }

// Submit runs the submit → policy → queue pipeline. On success the
// returned snapshot is the task in state Queued (or already Failed,
// for a policy denial — denial is a task outcome, not a Submit
// error). Validation failures return InvalidArgument with no task
// created.
func (o *Orchestrator) Submit(ctx context.Context, spec registry.Spec) (registry.Record, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Submit",
		trace.WithAttributes(attribute.String("task.kind", spec.Kind.String())))
	defer span.End()

	spec, err := o.validateSpec(spec)
	if err != nil {
		o.metrics.errorSurfaced(mcperr.KindOf(err).String())
		return registry.Record{}, err
	}

	now := o.clock.Now()
	rec := registry.Record{
		ID:        taskid.New(),
		Spec:      spec,
		State:     registry.Created,
		CreatedAt: now,
		Cancel:    registry.NewCancel(),
	}
	if err := o.registry.Insert(rec); err != nil {
		return registry.Record{}, err
	}
	o.hub.Open(rec.ID)
	span.SetAttributes(attribute.String("task.id", rec.ID))
	o.metrics.taskSubmitted(spec.Kind.String())

	decision := o.decide(ctx, rec.ID, spec)

	if !decision.Allow {
		reasons := strings.Join(decision.DenyReasons, "\n")
		o.logger.Info("policy denied task",
			"task_id", rec.ID, "kind", spec.Kind.String(), "reasons", decision.DenyReasons)
		snap := o.finish(rec.ID, registry.Created, registry.Failed, &registry.Result{
			ExitCode: -1,
			Stderr:   []byte(reasons),
		}, false)
		return snap, nil
	}

	for _, warning := range decision.Warnings {
		o.logger.Info("policy warning", "task_id", rec.ID, "warning", warning)
	}

	snap, err := o.registry.Transition(rec.ID, registry.Created, registry.Queued, nil)
	if err != nil {
		return registry.Record{}, err
	}

	select {
	case o.queue <- rec.ID:
		o.metrics.queueDepth.Set(float64(len(o.queue)))
	default:
		snap = o.finish(rec.ID, registry.Queued, registry.Failed, &registry.Result{
			ExitCode: -1,
			Stderr:   []byte("executor queue full"),
		}, false)
		o.metrics.errorSurfaced(mcperr.ResourceExhausted.String())
		return snap, mcperr.E(mcperr.ResourceExhausted, "executor queue full")
	}

	return snap, nil
}

// decide evaluates policy for a task, with metrics, tracing, and
// audit.
func (o *Orchestrator) decide(ctx context.Context, taskID string, spec registry.Spec) policy.Decision {
	_, span := o.tracer.Start(ctx, "policy.Evaluate")
	defer span.End()

	input := buildPolicyInput(spec)
	before := o.clock.Now()
	decision, err := o.engine.Evaluate(input)
	took := o.clock.Now().Sub(before)
	if err != nil {
		// A corrupt bundle denies everything: failing open is not an
		// option for a security gateway.
		o.logger.Error("policy evaluation failed", "task_id", taskID, "error", err)
		decision = policy.Decision{Allow: false, DenyReasons: []string{"policy engine failure"}}
	}

	o.metrics.policyEvaluated(spec.Kind.String(), decision.Allow, took)
	span.SetAttributes(attribute.Bool("policy.allow", decision.Allow))
	if o.audit != nil {
		o.audit.PolicyDecision(taskID, input, decision)
	}
	return decision
}

// Status returns a snapshot of the task.
func (o *Orchestrator) Status(id string) (registry.Record, error) {
	rec, err := o.registry.Get(id)
	if err != nil {
		o.metrics.errorSurfaced(mcperr.KindOf(err).String())
	}
	return rec, err
}

// Subscribe attaches to the task's output stream.
func (o *Orchestrator) Subscribe(id string) (*hub.Subscription, error) {
	if _, err := o.registry.Get(id); err != nil {
		o.metrics.errorSurfaced(mcperr.KindOf(err).String())
		return nil, err
	}
	return o.hub.Subscribe(id)
}

// Cancel fires the task's cancel signal and returns the current
// snapshot. Cancelling a terminal task is a no-op. A task still in
// the queue is failed over to Cancelled immediately; a running one
// terminates within the grace period.
func (o *Orchestrator) Cancel(id string) (registry.Record, error) {
	rec, err := o.registry.Get(id)
	if err != nil {
		o.metrics.errorSurfaced(mcperr.KindOf(err).String())
		return registry.Record{}, err
	}
	if rec.State.Terminal() {
		return rec, nil
	}

	rec.Cancel.Fire()

	// Queued tasks have no child to signal; settle them here. The
	// CAS loses harmlessly when the worker picked the task up in the
	// meantime — the fired signal handles it from there.
	if rec.State == registry.Queued {
		if snap, err := o.registry.Transition(id, registry.Queued, registry.Cancelled, func(r *registry.Record) {
			r.CompletedAt = o.clock.Now()
		}); err == nil {
			o.hub.Publish(id, hub.Event, []byte("cancelled"))
			o.hub.Close(id)
			o.afterTerminal(snap)
			return snap, nil
		}
	}

	return o.registry.Get(id)
}

// Health reports liveness for the health endpoints.
type Health struct {
	Status        string `json:"status" cbor:"status"`
	Version       string `json:"version" cbor:"version"`
	UptimeSeconds int64  `json:"uptime_seconds" cbor:"uptime_seconds"`
}

// Health returns the gateway's liveness summary.
func (o *Orchestrator) Health() Health {
	return Health{
		Status:        "ok",
		Version:       version.Info(),
		UptimeSeconds: int64(o.clock.Now().Sub(o.startedAt).Seconds()),
	}
}

// validateSpec normalizes and validates a submission. Returned spec
// has defaults (timeout, working directory, sandbox) applied.
func (o *Orchestrator) validateSpec(spec registry.Spec) (registry.Spec, error) {
	switch spec.Kind {
	case registry.KindCommand:
		cmd := spec.Command
		if cmd == nil {
			return spec, mcperr.E(mcperr.InvalidArgument, "command spec is required")
		}
		if cmd.Timeout == 0 {
			cmd.Timeout = o.defaultTimeout
		}
		if cmd.WorkingDir == "" {
			cmd.WorkingDir = o.workspaceDir
		}
		inv := sandbox.Invocation{
			Program:    cmd.Program,
			Args:       cmd.Args,
			Env:        cmd.Env,
			WorkingDir: cmd.WorkingDir,
		}
		if err := sandbox.ValidateInvocation(inv, cmd.Timeout, o.maxTimeout); err != nil {
			return spec, err
		}
		sbSpec := cmd.Sandbox
		if sbSpec == nil {
			// The shared default was normalized at construction; only
			// the working-directory coverage is per-task.
			sbSpec = o.sandboxSpec
			if sbSpec.Enabled && !sbSpec.Covers(cmd.WorkingDir) {
				return spec, mcperr.Errorf(mcperr.InvalidArgument,
					"working directory %s is not under any read-write path", cmd.WorkingDir)
			}
		} else if err := sandbox.ValidateSpec(sbSpec, cmd.WorkingDir); err != nil {
			return spec, err
		}
		cmd.Sandbox = sbSpec

	case registry.KindFile:
		file := spec.File
		if file == nil {
			return spec, mcperr.E(mcperr.InvalidArgument, "file spec is required")
		}
		if file.Path == "" {
			return spec, mcperr.E(mcperr.InvalidArgument, "file path is required")
		}
		switch file.Mode {
		case registry.FileRead, registry.FileWrite, registry.FileDelete:
		default:
			return spec, mcperr.Errorf(mcperr.InvalidArgument, "unknown file mode %q", file.Mode)
		}

	case registry.KindNetwork:
		net := spec.Network
		if net == nil {
			return spec, mcperr.E(mcperr.InvalidArgument, "network spec is required")
		}
		if networkPolicyInput(net) == nil {
			return spec, mcperr.Errorf(mcperr.InvalidArgument, "unparseable request URL %q", net.URL)
		}
		if net.Method == "" {
			net.Method = "GET"
		}

	default:
		return spec, mcperr.Errorf(mcperr.InvalidArgument, "unknown task kind %d", spec.Kind)
	}
	return spec, nil
}
