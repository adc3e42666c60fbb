// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fcchi/mcp-security-gateway/lib/clock"
	"github.com/fcchi/mcp-security-gateway/lib/mcperr"
)

// OutputSink receives a child's output as it is produced. Chunks are
// delivered in read order per stream; the sink must not retain the
// slice past the call.
type OutputSink interface {
	Stdout(data []byte)
	Stderr(data []byte)
}

// DiscardSink drops all output. Capture still happens in the result.
type DiscardSink struct{}

func (DiscardSink) Stdout([]byte) {}
func (DiscardSink) Stderr([]byte) {}

// ExecResult is what a reaped child left behind.
type ExecResult struct {
	// ExitCode is the child's exit status, -1 when a signal killed it.
	ExitCode int

	// Signaled is true when the child died to a signal rather than
	// exiting.
	Signaled bool

	// TimedOut and Cancelled record why the runner terminated the
	// child, when it did. Mutually exclusive.
	TimedOut  bool
	Cancelled bool

	// ResourceExceeded is true when the kernel killed the child for
	// blowing through a configured cgroup limit.
	ResourceExceeded bool

	// Stdout and Stderr are the captured streams, bounded by the
	// runner's capture limit with a truncation marker appended when
	// the child produced more.
	Stdout []byte
	Stderr []byte

	// Usage is the child's resource consumption per getrusage.
	Usage ResourceUsage

	// Duration is wall-clock time from spawn to reap.
	Duration time.Duration
}

// Runner spawns prepared invocations and supervises them to
// completion. One Runner serves all tasks; per-run state lives on
// the stack of Run.
type Runner struct {
	// Clock schedules the timeout and grace timers.
	Clock clock.Clock

	// GracePeriod is how long a terminated child has between SIGTERM
	// and SIGKILL.
	GracePeriod time.Duration

	// MaxCaptureBytes bounds each captured stream in the result.
	// Live sinks see everything regardless.
	MaxCaptureBytes int

	// Logger for child lifecycle events. Nil means slog.Default().
	Logger *slog.Logger
}

// readChunkSize is the pipe read granularity, and therefore the
// largest chunk a sink sees in one call.
const readChunkSize = 32 * 1024

// Run spawns the prepared invocation and blocks until the child is
// reaped. The timeout starts at spawn; on expiry (or when cancel
// fires, or ctx is done) the child's process group gets SIGTERM,
// then SIGKILL after the grace period.
//
// A child that runs and exits — with any status, killed or not — is
// a success of Run; the verdict is in the result. Run errors only
// when the child could not be spawned or supervised, which the
// caller surfaces as an Internal executor fault.
func (r *Runner) Run(ctx context.Context, prepared *PreparedInvocation, timeout time.Duration, cancel <-chan struct{}, sink OutputSink) (*ExecResult, error) {
	if len(prepared.Argv) == 0 {
		return nil, mcperr.E(mcperr.Internal, "prepared invocation has empty argv")
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = DiscardSink{}
	}

	cmd := exec.Command(prepared.Argv[0], prepared.Argv[1:]...)
	cmd.Env = prepared.Env
	cmd.Dir = prepared.Dir
	// Own process group, so terminate reaches the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if prepared.SeccompPath != "" {
		filter, err := os.Open(prepared.SeccompPath)
		if err != nil {
			return nil, mcperr.Errorf(mcperr.Internal, "opening seccomp filter: %w", err)
		}
		defer filter.Close()
		// Lands on seccompFD, the fd bwrap's --seccomp argument names.
		cmd.ExtraFiles = []*os.File{filter}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, mcperr.Errorf(mcperr.Internal, "stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, mcperr.Errorf(mcperr.Internal, "stderr pipe: %w", err)
	}

	outCapture := newCapture(r.MaxCaptureBytes)
	errCapture := newCapture(r.MaxCaptureBytes)

	started := r.Clock.Now()
	if err := cmd.Start(); err != nil {
		return nil, mcperr.Errorf(mcperr.Internal, "spawning %s: %w", prepared.Argv[0], err)
	}
	pid := cmd.Process.Pid
	logger.Debug("child spawned", "pid", pid, "argv0", prepared.Argv[0], "confined", prepared.Confined)

	var readers sync.WaitGroup
	readers.Add(2)
	go r.drain(&readers, stdout, outCapture, sink.Stdout)
	go r.drain(&readers, stderr, errCapture, sink.Stderr)

	// Wait must not run before the pipe readers hit EOF, or it would
	// close the pipes under them.
	waitErr := make(chan error, 1)
	go func() {
		readers.Wait()
		waitErr <- cmd.Wait()
	}()

	var timerCh <-chan time.Time
	if timeout > 0 {
		timerCh = r.Clock.After(timeout)
	}

	result := &ExecResult{}
	var exitErr error
	select {
	case exitErr = <-waitErr:
	case <-timerCh:
		result.TimedOut = true
		logger.Info("child timed out, terminating", "pid", pid, "timeout", timeout)
		exitErr = r.terminate(pid, waitErr)
	case <-cancel:
		result.Cancelled = true
		logger.Info("child cancelled, terminating", "pid", pid)
		exitErr = r.terminate(pid, waitErr)
	case <-ctx.Done():
		result.Cancelled = true
		logger.Info("context done, terminating child", "pid", pid)
		exitErr = r.terminate(pid, waitErr)
	}

	result.Duration = r.Clock.Now().Sub(started)
	result.Stdout = outCapture.contents()
	result.Stderr = errCapture.contents()

	if err := r.reap(cmd, exitErr, result, prepared.Limits); err != nil {
		return nil, err
	}
	logger.Debug("child reaped", "pid", pid, "exit", result.ExitCode,
		"signaled", result.Signaled, "duration", result.Duration)
	return result, nil
}

// drain pumps one pipe into the capture buffer and the live sink
// until EOF.
func (r *Runner) drain(wg *sync.WaitGroup, pipe io.Reader, capt *capture, deliver func([]byte)) {
	defer wg.Done()
	buf := make([]byte, readChunkSize)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			capt.add(buf[:n])
			deliver(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// terminate sends SIGTERM to the child's process group, escalating
// to SIGKILL after the grace period. Returns the child's Wait error.
func (r *Runner) terminate(pid int, waitErr <-chan error) error {
	// Negative pid addresses the process group. Errors are ignored:
	// the child may already be gone, which is the outcome we want.
	_ = unix.Kill(-pid, unix.SIGTERM)

	select {
	case err := <-waitErr:
		return err
	case <-r.Clock.After(r.GracePeriod):
		_ = unix.Kill(-pid, unix.SIGKILL)
		return <-waitErr
	}
}

// reap extracts exit status and resource usage from the finished
// command.
func (r *Runner) reap(cmd *exec.Cmd, exitErr error, result *ExecResult, limits ResourceLimits) error {
	switch err := exitErr.(type) {
	case nil:
		result.ExitCode = 0
	case *exec.ExitError:
		result.ExitCode = err.ExitCode() // -1 when signaled
		if status, ok := err.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			result.Signaled = true
			// A SIGKILL the runner did not send is the kernel
			// enforcing a cgroup limit (the OOM killer, TasksMax).
			if status.Signal() == syscall.SIGKILL && !result.TimedOut && !result.Cancelled && limits.HasLimits() {
				result.ResourceExceeded = true
			}
		}
	default:
		return mcperr.Errorf(mcperr.Internal, "waiting for child: %w", exitErr)
	}

	if state := cmd.ProcessState; state != nil {
		if rusage, ok := state.SysUsage().(*syscall.Rusage); ok && rusage != nil {
			result.Usage = ResourceUsage{
				CPUTime:      timevalDuration(rusage.Utime) + timevalDuration(rusage.Stime),
				MaxRSSBytes:  uint64(rusage.Maxrss) * 1024, // ru_maxrss is in KiB on Linux
				IOReadBytes:  uint64(rusage.Inblock) * 512,
				IOWriteBytes: uint64(rusage.Oublock) * 512,
			}
		}
	}
	return nil
}

func timevalDuration(tv syscall.Timeval) time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}

// capture is a bounded accumulation buffer for one stream. Bytes
// past the limit are counted, not stored; contents appends the
// truncation marker when anything was dropped.
type capture struct {
	mu       sync.Mutex
	buf      []byte
	limit    int
	overflow int64
}

func newCapture(limit int) *capture {
	return &capture{limit: limit}
}

func (c *capture) add(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.limit - len(c.buf)
	if room > len(p) {
		room = len(p)
	}
	if room > 0 {
		c.buf = append(c.buf, p[:room]...)
		p = p[room:]
	}
	c.overflow += int64(len(p))
}

func (c *capture) contents() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overflow == 0 {
		return c.buf
	}
	marker := fmt.Sprintf("... [truncated %d bytes]", c.overflow)
	return append(append([]byte(nil), c.buf...), marker...)
}
