// Package localexecutor runs the external toolchain programs (device compiler,
// dialect translator, architecture probe) as local processes and captures
// their output.
package localexecutor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Output is what a finished process left behind.
type Output struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Success reports whether the process exited with status zero.
func (o *Output) Success() bool { return o != nil && o.ExitCode == 0 }

// Runner starts a program and waits for it. An error is returned only when
// the program could not be started at all; a program that ran and failed
// reports that through Output.ExitCode.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Output, error)
}

// SpawnError reports a program that could not be started.
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Program, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Executor is the os/exec backed Runner.
type Executor struct {
	// Dir is the working directory of spawned processes. Empty means the
	// current directory.
	Dir string
	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

// New creates an Executor that inherits the working directory and environment
// of the current process.
func New() *Executor {
	return &Executor{}
}

// Run implements Runner.
func (e *Executor) Run(ctx context.Context, name string, args ...string) (*Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.Dir
	if e.Env != nil {
		cmd.Env = e.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Program: name, Err: err}
	}

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &SpawnError{Program: name, Err: err}
		}
		exitCode = exitErr.ExitCode()
	}

	return &Output{
		ExitCode: exitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}

// CommandLine renders a program invocation for diagnostics. Arguments
// containing whitespace are quoted.
func CommandLine(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{name}, args...) {
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
