// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package runner executes the external benchmark programs and build tool.

Every benchmark invocation goes through the Runner interface so the sweep can
be tested without real processes. A non-zero exit status is part of the
Result, not an error: the coursework programs use exit codes to report
domain conditions such as a problem size that does not divide evenly among
MPI processes.

# Interrupts

Children are started in their own process group. When the caller's context
is cancelled the group receives SIGINT, and the direct child is killed if it
has not exited within the grace period.
*/
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Request describes one invocation.
type Request struct {
	// Path is the executable, resolved through PATH when it has no slash.
	Path string

	// Args are passed verbatim, in order.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env holds overrides applied on top of the inherited environment.
	Env map[string]string

	// Timeout bounds the invocation. Zero means no timeout.
	Timeout time.Duration
}

// CommandLine renders the request for logs and errors.
func (r Request) CommandLine() string {
	return strings.TrimSpace(r.Path + " " + strings.Join(r.Args, " "))
}

// Result is the captured outcome of one invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int

	// Duration is the wall-clock time from start to exit.
	Duration time.Duration

	// TimedOut is set when Request.Timeout expired.
	TimedOut bool

	// Env holds the override values as read back from the child environment.
	Env map[string]string
}

// Runner executes one external program.
//
// # Description
//
// Run blocks until the program exits. It returns an error only when the
// program could not be started, an env override could not be applied, or
// the caller's context was cancelled. A non-zero exit code, a signal
// termination or a timeout are reported in Result.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use, although the sweep
// driver only issues one call at a time.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// ExecRunner implements Runner with os/exec.
type ExecRunner struct {
	grace  time.Duration
	logger *slog.Logger
}

// NewExecRunner creates a Runner that executes real processes.
//
// # Inputs
//
//   - cfg: Timeouts; only InterruptGrace is used here, trial timeouts are
//     carried by each Request.
//   - logger: Destination for debug output. Nil uses slog.Default().
//
// # Examples
//
//	r := runner.NewExecRunner(runner.TimeoutConfig{}, nil)
//	res, err := r.Run(ctx, runner.Request{Path: "./build/app", Args: []string{"4", "1000"}})
func NewExecRunner(cfg TimeoutConfig, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{
		grace:  cfg.Validated().InterruptGrace,
		logger: logger,
	}
}

// Run executes the request and captures stdout, stderr and the exit code.
func (r *ExecRunner) Run(ctx context.Context, req Request) (Result, error) {
	if req.Path == "" {
		return Result{}, ErrEmptyPath
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, req.Path, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = mergeEnv(os.Environ(), req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return interruptGroup(cmd.Process) }
	cmd.WaitDelay = r.grace

	readBack, err := readBackEnv(cmd.Environ(), req.Env)
	if err != nil {
		return Result{}, err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running", "command", req.CommandLine(), "dir", req.Dir, "env", readBack)

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		Env:      readBack,
	}

	if cmd.ProcessState != nil {
		res.ExitCode = exitCode(cmd.ProcessState)
	}

	if runErr == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if req.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(runErr, &exitErr), errors.Is(runErr, exec.ErrWaitDelay):
		return res, nil
	default:
		return res, fmt.Errorf("run %s: %w", req.Path, runErr)
	}
}

// exitCode maps a process state to a code where signals are negative.
func exitCode(ps *os.ProcessState) int {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return ps.ExitCode()
}

// interruptGroup sends SIGINT to the child's process group.
func interruptGroup(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	if err := unix.Kill(-p.Pid, unix.SIGINT); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

// mergeEnv returns base with every key in overrides replaced, in sorted
// override order.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

// readBackEnv looks up every override in the final environment and fails if
// one does not hold the requested value.
func readBackEnv(env []string, overrides map[string]string) (map[string]string, error) {
	if len(overrides) == 0 {
		return nil, nil
	}
	seen := make(map[string]string, len(overrides))
	for _, kv := range env {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, want := overrides[key]; want {
			seen[key] = val
		}
	}
	for k, want := range overrides {
		got, ok := seen[k]
		if !ok || got != want {
			return nil, fmt.Errorf("%w: %s=%q, read back %q", ErrEnvMismatch, k, want, got)
		}
	}
	return seen, nil
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockRunner is a test double for Runner.
//
// # Examples
//
//	mock := &runner.MockRunner{
//	    RunFunc: func(ctx context.Context, req runner.Request) (runner.Result, error) {
//	        return runner.Result{Stdout: "Elapsed time: 0.5\n"}, nil
//	    },
//	}
type MockRunner struct {
	// RunFunc is called when Run is invoked. Nil panics.
	RunFunc func(ctx context.Context, req Request) (Result, error)

	// Calls records all invocations in order.
	Calls []Request

	mu sync.Mutex
}

// Run records the call and delegates to RunFunc.
func (m *MockRunner) Run(ctx context.Context, req Request) (Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn := m.RunFunc
	m.mu.Unlock()
	if fn == nil {
		panic("MockRunner.RunFunc not set")
	}
	return fn(ctx, req)
}

// Reset clears all recorded calls.
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *MockRunner) GetCalls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// Compile-time interface compliance check.
var (
	_ Runner = (*ExecRunner)(nil)
	_ Runner = (*MockRunner)(nil)
)
