// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fcchi/mcp-security-gateway/hub"
	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
	"github.com/fcchi/mcp-security-gateway/registry"
	"github.com/fcchi/mcp-security-gateway/sandbox"
)

// worker drains the admission queue until the context is cancelled.
func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-o.queue:
			o.metrics.queueDepth.Set(float64(len(o.queue)))
			o.runTask(ctx, id)
		}
	}
}

// runTask drives one queued task to its terminal state.
func (o *Orchestrator) runTask(ctx context.Context, id string) {
	ctx, span := o.tracer.Start(ctx, "task.run",
		trace.WithAttributes(attribute.String("task.id", id)))
	defer span.End()

	rec, err := o.registry.Get(id)
	if err != nil {
		// Reaped while queued; nothing left to do.
		return
	}

	// A cancel that fired while the task sat in the queue may have
	// already settled the record (Cancel's own CAS); if not, settle
	// it here before spawning anything.
	if rec.Cancel.Fired() {
		if snap, err := o.registry.Transition(id, registry.Queued, registry.Cancelled, func(r *registry.Record) {
			r.CompletedAt = o.clock.Now()
		}); err == nil {
			o.hub.Publish(id, hub.Event, []byte("cancelled"))
			o.hub.Close(id)
			o.afterTerminal(snap)
		}
		return
	}

	if _, err := o.registry.Transition(id, registry.Queued, registry.Running, func(r *registry.Record) {
		r.StartedAt = o.clock.Now()
	}); err != nil {
		// Lost the race with Cancel; the record is already settled.
		return
	}

	o.metrics.activeTasks.Inc()
	defer o.metrics.activeTasks.Dec()

	var result *registry.Result
	var final registry.State
	switch rec.Spec.Kind {
	case registry.KindCommand:
		result, final = o.runCommand(ctx, rec)
	case registry.KindFile:
		result, final = o.runFile(rec)
	case registry.KindNetwork:
		result, final = o.runNetwork(ctx, rec)
	default:
		result = &registry.Result{ExitCode: -1, Stderr: []byte("unknown task kind")}
		final = registry.Failed
	}
	span.SetAttributes(attribute.String("task.state", final.String()))

	if final == registry.Cancelled {
		o.hub.Publish(id, hub.Event, []byte("cancelled"))
	}
	o.hub.Publish(id, hub.ExitCode, []byte(strconv.Itoa(result.ExitCode)))

	o.finish(id, registry.Running, final, result, true)
}

// runCommand executes a command task under the confiner.
func (o *Orchestrator) runCommand(ctx context.Context, rec registry.Record) (*registry.Result, registry.State) {
	cmd := rec.Spec.Command

	prepared, err := o.confiner.Prepare(sandbox.Invocation{
		Program:    cmd.Program,
		Args:       cmd.Args,
		Env:        cmd.Env,
		WorkingDir: cmd.WorkingDir,
	}, cmd.Sandbox)
	if err != nil {
		o.logger.Error("confiner prepare failed", "task_id", rec.ID, "error", err)
		o.metrics.errorSurfaced(mcperr.Internal.String())
		return &registry.Result{ExitCode: -1, Stderr: []byte(err.Error())}, registry.Failed
	}

	execRes, err := o.runner.Run(ctx, prepared, cmd.Timeout, rec.Cancel.Done(), &hubSink{hub: o.hub, taskID: rec.ID})
	if err != nil {
		o.logger.Error("executor fault", "task_id", rec.ID, "error", err)
		o.metrics.errorSurfaced(mcperr.Internal.String())
		return &registry.Result{ExitCode: -1, Stderr: []byte(err.Error())}, registry.Failed
	}
	o.metrics.sandboxRan(cmd.Program, execRes.Duration)

	result := &registry.Result{
		ExitCode: execRes.ExitCode,
		Stdout:   execRes.Stdout,
		Stderr:   execRes.Stderr,
		Usage:    execRes.Usage,
		Duration: execRes.Duration,
	}

	switch {
	case execRes.TimedOut:
		return result, registry.TimedOut
	case execRes.Cancelled:
		return result, registry.Cancelled
	case execRes.ResourceExceeded:
		result.Stderr = append(result.Stderr, []byte("\nresource limit exceeded")...)
		o.metrics.errorSurfaced(mcperr.ResourceExhausted.String())
		return result, registry.Failed
	case execRes.ExitCode == 0:
		return result, registry.Completed
	default:
		return result, registry.Failed
	}
}

// runFile executes a file task. The operation is quick and local;
// it still flows through the task pipeline so callers get the same
// lifecycle and audit trail as commands.
func (o *Orchestrator) runFile(rec registry.Record) (*registry.Result, registry.State) {
	started := o.clock.Now()
	stdout, err := o.applyFileOp(rec.Spec.File)
	duration := o.clock.Now().Sub(started)
	if err != nil {
		return &registry.Result{ExitCode: -1, Stderr: []byte(err.Error()), Duration: duration}, registry.Failed
	}
	o.hub.Publish(rec.ID, hub.Stdout, stdout)
	return &registry.Result{ExitCode: 0, Stdout: stdout, Duration: duration}, registry.Completed
}

// runNetwork executes a network-request task through the configured
// collaborator.
func (o *Orchestrator) runNetwork(ctx context.Context, rec registry.Record) (*registry.Result, registry.State) {
	if o.network == nil {
		o.metrics.errorSurfaced(mcperr.Unavailable.String())
		return &registry.Result{
			ExitCode: -1,
			Stderr:   []byte("no network executor configured"),
		}, registry.Failed
	}

	started := o.clock.Now()
	status, body, err := o.network.Do(ctx, rec.Spec.Network)
	duration := o.clock.Now().Sub(started)
	if err != nil {
		return &registry.Result{ExitCode: -1, Stderr: []byte(err.Error()), Duration: duration}, registry.Failed
	}

	stdout := []byte(fmt.Sprintf("HTTP %d\n", status))
	stdout = append(stdout, body...)
	o.hub.Publish(rec.ID, hub.Stdout, stdout)
	return &registry.Result{ExitCode: 0, Stdout: stdout, Duration: duration}, registry.Completed
}

// finish applies the terminal transition and the bookkeeping that
// follows it. streamed is false when the task never ran (policy
// denial, queue overflow): the stream then carries only the stderr
// text and the terminal marker.
func (o *Orchestrator) finish(id string, from, final registry.State, result *registry.Result, streamed bool) registry.Record {
	snap, err := o.registry.Transition(id, from, final, func(r *registry.Record) {
		r.CompletedAt = o.clock.Now()
		r.Result = result
	})
	if err != nil {
		// The CAS can only lose to Cancel settling a queued task;
		// for a Running task this worker is the sole terminator.
		o.logger.Warn("terminal transition lost", "task_id", id, "to", final.String(), "error", err)
		snap, _ = o.registry.Get(id)
		return snap
	}

	if !streamed {
		// Policy denial: the task never ran, so the stream carries
		// the denial and the terminal marker only.
		if len(result.Stderr) > 0 {
			o.hub.Publish(id, hub.Stderr, result.Stderr)
		}
		o.hub.Publish(id, hub.ExitCode, []byte(strconv.Itoa(result.ExitCode)))
	}
	o.hub.Close(id)
	o.afterTerminal(snap)
	return snap
}

// afterTerminal records metrics and audit for a settled task.
func (o *Orchestrator) afterTerminal(rec registry.Record) {
	o.metrics.taskTerminal(rec.Spec.Kind.String(), rec.State.String(), rec.CompletedAt.Sub(rec.CreatedAt))
	if o.audit != nil {
		o.audit.TaskTerminal(rec)
	}
	o.logger.Info("task terminal",
		"task_id", rec.ID, "kind", rec.Spec.Kind.String(), "state", rec.State.String())
}

// reapLoop periodically evicts expired terminal records and their
// output streams.
func (o *Orchestrator) reapLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := o.clock.NewTicker(o.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := o.clock.Now().Add(-o.retention)
			reaped, retained := o.registry.Reap(cutoff)
			for _, id := range reaped {
				o.hub.Remove(id)
			}
			o.metrics.reaped(len(reaped), retained)
			if len(reaped) > 0 {
				o.logger.Debug("reaped terminal tasks", "count", len(reaped), "retained", retained)
			}
		}
	}
}

// hubSink adapts the hub to the runner's output sink.
type hubSink struct {
	hub    *hub.Hub
	taskID string
}

func (s *hubSink) Stdout(p []byte) { s.hub.Publish(s.taskID, hub.Stdout, p) }
func (s *hubSink) Stderr(p []byte) { s.hub.Publish(s.taskID, hub.Stderr, p) }
