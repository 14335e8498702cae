// Package runner executes external tools (podman, VBoxManage, powershell,
// certbot, crontab) through typed invocations instead of shell strings.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// Invocation describes one external command: a program name plus its
// argument list. Stdin, when set, is piped to the process.
type Invocation struct {
	Program string
	Args    []string
	Stdin   io.Reader
	Dir     string
}

// String renders the invocation for logs. Arguments are joined verbatim;
// the result is never handed to a shell.
func (inv Invocation) String() string {
	if len(inv.Args) == 0 {
		return inv.Program
	}
	return inv.Program + " " + strings.Join(inv.Args, " ")
}

// Result captures the outcome of one invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the command exited zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes invocations synchronously.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// ExecRunner runs invocations with os/exec.
type ExecRunner struct {
	// Timeout bounds each invocation. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// NewExecRunner returns a runner with the default per-command timeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Timeout: 10 * time.Minute}
}

// Run executes the invocation and captures stdout and stderr. A non-zero
// exit is reported through Result.ExitCode, not through the error return;
// the error is reserved for failures to launch or kill the process.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if inv.Program == "" {
		return Result{ExitCode: -1}, fmt.Errorf("invocation has no program")
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, inv.Program, inv.Args...)
	cmd.Dir = inv.Dir
	if inv.Stdin != nil {
		cmd.Stdin = inv.Stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("failed to run %s: %w", inv.Program, err)
	}

	return result, nil
}

// LookPath reports whether a program can be found on PATH.
func LookPath(program string) bool {
	_, err := exec.LookPath(program)
	return err == nil
}

// Output runs the invocation and returns trimmed stdout, converting a
// non-zero exit into an error carrying the captured stderr.
func Output(ctx context.Context, r Runner, inv Invocation) (string, error) {
	result, err := r.Run(ctx, inv)
	if err != nil {
		return "", err
	}
	if !result.Success() {
		return "", fmt.Errorf("%s exited %d: %s", inv.Program, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout), nil
}
