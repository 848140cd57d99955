// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/warden-foundation/warden/lib/clock"
)

// Action is one command execution request, already authorized.
type Action struct {
	// RequestID correlates the execution with its audit records and
	// names the systemd scope unit.
	RequestID string

	// AgentID is the requesting agent, for logging.
	AgentID string

	// Command is the argv to run inside the sandbox.
	Command []string

	// Workdir is the host directory the spec's ${WORKDIR} mounts
	// refer to. Empty if the spec mounts no workdir.
	Workdir string

	// Stdin is the process's standard input. Nil means empty.
	Stdin io.Reader
}

// Status classifies how an execution ended.
type Status int

const (
	// StatusCompleted means the process exited on its own; ExitCode
	// carries the result, zero or not.
	StatusCompleted Status = iota

	// StatusTimedOut means the wall-time deadline passed and the
	// process group was killed. Reported, never retried.
	StatusTimedOut

	// StatusCancelled means the caller's context was cancelled and
	// the process group was killed.
	StatusCancelled
)

// String returns "completed", "timed_out", or "cancelled".
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusTimedOut:
		return "timed_out"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome describes a finished execution.
type Outcome struct {
	Status   Status
	ExitCode int

	// Stdout and Stderr are capped at the executor's output limit;
	// Truncated reports whether either hit the cap.
	Stdout    []byte
	Stderr    []byte
	Truncated bool

	Duration time.Duration

	// Resource usage of the direct child tree, from wait4 rusage.
	MaxRSSKiB  int64
	UserTime   time.Duration
	SystemTime time.Duration
}

// ExecutorConfig holds the parameters for creating an Executor.
type ExecutorConfig struct {
	// Parallelism is the number of concurrent executions. Callers
	// beyond it block in Execute until a slot frees. Defaults to 4.
	Parallelism int

	// WallTimeCeiling bounds executions whose spec sets no wall time.
	// Defaults to one hour.
	WallTimeCeiling time.Duration

	// OutputLimit caps captured stdout and stderr, each. Defaults to
	// 1 MiB.
	OutputLimit int

	// Capabilities is the host probe result. Nil means Probe() at
	// construction.
	Capabilities *HostCapabilities

	// Clock provides time for deadlines and durations. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger
}

// Executor runs sandboxed commands through a bounded worker pool.
// Saturation is backpressure: Execute blocks until a slot frees or the
// caller's context is cancelled.
type Executor struct {
	slots       *semaphore.Weighted
	caps        *HostCapabilities
	clock       clock.Clock
	logger      *slog.Logger
	ceiling     time.Duration
	outputLimit int
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 4
	}
	ceiling := cfg.WallTimeCeiling
	if ceiling <= 0 {
		ceiling = time.Hour
	}
	outputLimit := cfg.OutputLimit
	if outputLimit <= 0 {
		outputLimit = 1 << 20
	}
	caps := cfg.Capabilities
	if caps == nil {
		caps = Probe()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		slots:       semaphore.NewWeighted(int64(parallelism)),
		caps:        caps,
		clock:       clk,
		logger:      logger,
		ceiling:     ceiling,
		outputLimit: outputLimit,
	}
}

// Execute runs the action under the spec and reports how it ended. A
// non-zero exit is a completed outcome, not an error; errors mean the
// execution could not be set up (isolation missing, bad spec) or was
// aborted before the process finished. Teardown of the process group
// is guaranteed on every path.
func (e *Executor) Execute(ctx context.Context, action Action, spec *Spec) (Outcome, error) {
	if len(action.Command) == 0 {
		return Outcome{}, fmt.Errorf("sandbox: empty command")
	}
	if err := e.caps.CanExecute(); err != nil {
		return Outcome{}, err
	}

	if err := e.slots.Acquire(ctx, 1); err != nil {
		return Outcome{Status: StatusCancelled}, fmt.Errorf("sandbox: waiting for execution slot: %w", err)
	}
	defer e.slots.Release(1)

	argv, err := e.buildArgv(action, spec)
	if err != nil {
		return Outcome{}, err
	}

	wallTime := e.ceiling
	if spec.WallTimeSeconds > 0 {
		wallTime = time.Duration(spec.WallTimeSeconds) * time.Second
	}

	stdout := &limitedBuffer{limit: e.outputLimit}
	stderr := &limitedBuffer{limit: e.outputLimit}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = action.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Own process group so teardown reaches the wrapper chain; the
	// sandboxed tree itself dies with bwrap (--die-with-parent).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := e.clock.Now()
	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("sandbox: starting command: %w", err)
	}

	e.logger.Info("sandboxed execution started",
		"request", action.RequestID,
		"agent", action.AgentID,
		"spec", spec.Name,
		"wall_time", wallTime,
	)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	status := StatusCompleted
	select {
	case <-done:
	case <-e.clock.After(wallTime):
		status = StatusTimedOut
		e.killGroup(cmd.Process.Pid)
		<-done
	case <-ctx.Done():
		status = StatusCancelled
		e.killGroup(cmd.Process.Pid)
		<-done
	}

	outcome := Outcome{
		Status:    status,
		ExitCode:  cmd.ProcessState.ExitCode(),
		Stdout:    stdout.bytes(),
		Stderr:    stderr.bytes(),
		Truncated: stdout.truncated || stderr.truncated,
		Duration:  e.clock.Now().Sub(start),
	}
	if rusage, ok := cmd.ProcessState.SysUsage().(*syscall.Rusage); ok && rusage != nil {
		outcome.MaxRSSKiB = rusage.Maxrss
		outcome.UserTime = time.Duration(rusage.Utime.Nano())
		outcome.SystemTime = time.Duration(rusage.Stime.Nano())
	}

	e.logger.Info("sandboxed execution finished",
		"request", action.RequestID,
		"status", status.String(),
		"exit_code", outcome.ExitCode,
		"duration", outcome.Duration,
	)
	return outcome, nil
}

// buildArgv assembles the full command line: systemd scope wrapper
// around bwrap around the action's command.
func (e *Executor) buildArgv(action Action, spec *Spec) ([]string, error) {
	bwrapArgs, err := NewBwrapBuilder().Build(&BwrapOptions{
		Spec:    spec,
		Workdir: action.Workdir,
		Command: action.Command,
	})
	if err != nil {
		return nil, err
	}

	argv := append([]string{e.caps.BwrapPath}, bwrapArgs...)

	scope := NewSystemdScope(scopeName(action.RequestID), spec.Resources)
	if e.caps.SystemdUserScopesWork {
		argv = scope.WrapCommand(argv)
	}
	return argv, nil
}

func scopeName(requestID string) string {
	if requestID == "" {
		return "warden-exec"
	}
	return "warden-exec-" + requestID
}

// killGroup kills the wrapper's process group. ESRCH means everything
// already exited.
func (e *Executor) killGroup(pid int) {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		e.logger.Warn("killing sandbox process group", "pid", pid, "error", err)
	}
}

// limitedBuffer captures output up to a limit, discarding the rest so
// a chatty process cannot exhaust memory. Write never errors: the
// process keeps its pipe.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) bytes() []byte { return b.buf.Bytes() }
