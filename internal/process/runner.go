// Package process runs decoder executables as subprocesses with a timeout
// and reports how they terminated.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// ErrLaunch marks environment failures (executable missing, permission
// denied). Callers treat it as fatal to the whole run.
var ErrLaunch = errors.New("decoder launch failed")

// waitDelay bounds how long Wait keeps copying output after the process
// group has been killed.
const waitDelay = 5 * time.Second

// Termination describes how a subprocess ended.
type Termination int

const (
	// Exited means the process returned an exit status.
	Exited Termination = iota

	// Signaled means the process was terminated by a signal (or, on
	// Windows, by an unhandled structured exception).
	Signaled

	// TimedOut means the harness killed the process at the timeout.
	TimedOut
)

// String returns a string representation of the termination.
func (t Termination) String() string {
	switch t {
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Request is one subprocess invocation.
type Request struct {
	// Args is the argv; Args[0] is the executable.
	Args []string

	// Timeout kills the process group when exceeded. Zero means no timeout.
	Timeout time.Duration
}

// Result captures the outcome of a process execution.
type Result struct {
	Termination Termination
	ExitCode    int // valid when Termination == Exited
	Signal      int // valid when Termination == Signaled
	PID         int
	Stdout      []byte
	Stderr      []byte
	Duration    time.Duration
}

// Success reports a clean zero exit.
func (r *Result) Success() bool {
	return r.Termination == Exited && r.ExitCode == 0
}

// SignalClass returns the fatal-signal class for a signaled result, and
// SignalOther for anything else.
func (r *Result) SignalClass() SignalClass {
	if r.Termination != Signaled {
		return SignalOther
	}
	return ClassifySignal(r.Signal)
}

// Runner executes subprocesses.
// This interface lets the classifier and perf runner be tested without
// real decoders.
type Runner interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// ExecRunner runs commands with os/exec. Each child gets its own process
// group so a timeout kills anything the decoder spawned.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates a runner that logs to logger.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger}
}

// Execute runs req to completion, to its timeout, or until ctx is done.
// Decoder failures (nonzero exit, signals, timeouts) are reported in the
// Result; an error is returned only for launch failures, cancellation and
// I/O failures on the output streams.
func (r *ExecRunner) Execute(ctx context.Context, req Request) (*Result, error) {
	if len(req.Args) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrLaunch)
	}

	cmd := exec.Command(req.Args[0], req.Args[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	// Set process group for clean shutdown
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		r.logger.Error("failed_to_start_process",
			"cmd", req.Args[0],
			"error", err,
		)
		return nil, fmt.Errorf("%w: %s: %w", ErrLaunch, req.Args[0], err)
	}
	pid := cmd.Process.Pid

	r.logger.Debug("process_started",
		"pid", pid,
		"args", req.Args,
	)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	res := &Result{PID: pid}
	var waitErr error

	select {
	case waitErr = <-done:
	case <-timeout:
		r.logger.Warn("process_timeout",
			"pid", pid,
			"timeout", req.Timeout.String(),
		)
		r.kill(cmd)
		<-done
		res.Termination = TimedOut
	case <-ctx.Done():
		r.kill(cmd)
		<-done
		return nil, ctx.Err()
	}

	res.Duration = time.Since(start)
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()

	if res.Termination == TimedOut {
		return res, nil
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return nil, fmt.Errorf("wait for %s: %w", req.Args[0], waitErr)
	}

	res.Termination, res.ExitCode, res.Signal = termination(cmd.ProcessState)

	r.logger.Debug("process_exited",
		"pid", pid,
		"termination", res.Termination.String(),
		"exit_code", res.ExitCode,
		"signal", res.Signal,
		"duration", res.Duration.String(),
	)

	return res, nil
}

// kill terminates the whole process group of cmd.
func (r *ExecRunner) kill(cmd *exec.Cmd) {
	if err := killProcessGroup(cmd); err != nil {
		r.logger.Debug("kill_failed",
			"pid", cmd.Process.Pid,
			"error", err,
		)
	}
}
