// Package exec provides abstractions for command execution.
// Callers receive a typed Result instead of parsing combined process output,
// and tests substitute a scripted CommandRunner.
package exec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Result is the outcome of one command invocation.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	// Err is set when the process could not be started or was killed
	// (missing binary, context cancelled). A non-zero exit alone leaves it nil.
	Err error
}

// Success reports whether the command started and exited with status 0.
func (r Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// LastLine returns the last non-empty line of stdout, trimmed.
func (r Result) LastLine() string {
	lines := strings.Split(strings.TrimRight(string(r.Stdout), "\r\n\t "), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// CommandRunner defines an interface for executing external commands.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) Result
}

// RealCommandRunner executes actual commands using os/exec.
type RealCommandRunner struct{}

// Run executes name with args and captures both output streams.
func (r *RealCommandRunner) Run(ctx context.Context, name string, args ...string) Result {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		res.ExitCode = exitErr.ExitCode()
		return res
	}

	res.ExitCode = -1
	if ctx.Err() != nil {
		res.Err = ctx.Err()
	} else {
		res.Err = err
	}
	return res
}

// DefaultRunner returns the standard production runner.
func DefaultRunner() CommandRunner {
	return &RealCommandRunner{}
}
