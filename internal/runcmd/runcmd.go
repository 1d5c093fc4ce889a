// Package runcmd runs foreground commands for test scenarios and keeps
// their output around for assertions. Daemons are not started here; this
// is for clients and one-shot tools run against them.
package runcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner runs commands with a fixed working directory and environment.
// The zero value runs in the current directory with the current
// environment.
type Runner struct {
	// Dir is the working directory for commands. Empty means the
	// caller's.
	Dir string

	// Env is appended to the inherited environment, entries in KEY=VALUE
	// form.
	Env []string

	// PathPrepend is joined in front of the inherited PATH, so scenario
	// binaries win over installed ones.
	PathPrepend []string
}

// Result holds one finished command's outcome. The command has always
// exited by the time a Result exists.
type Result struct {
	Argv     []string
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Run executes argv and waits for it. A nonzero exit is not an error;
// the error return covers failures to run at all (bad executable,
// canceled context).
func (r *Runner) Run(ctx context.Context, argv ...string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("no command given")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = r.environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Argv:   argv,
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("running %q: %w", argv[0], err)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	return res, nil
}

func (r *Runner) environ() []string {
	env := os.Environ()
	if len(r.PathPrepend) > 0 {
		path := strings.Join(r.PathPrepend, string(os.PathListSeparator))
		if cur := os.Getenv("PATH"); cur != "" {
			path += string(os.PathListSeparator) + cur
		}
		env = append(env, "PATH="+path)
	}
	return append(env, r.Env...)
}

// Ok reports whether the command exited zero.
func (res *Result) Ok() bool { return res.ExitCode == 0 }

// StdoutContains reports whether stdout contains the substring.
func (res *Result) StdoutContains(s string) bool {
	return bytes.Contains(res.Stdout, []byte(s))
}

// StderrContains reports whether stderr contains the substring.
func (res *Result) StderrContains(s string) bool {
	return bytes.Contains(res.Stderr, []byte(s))
}

// StdoutMatchesFile reports whether stdout is byte-identical to the named
// file's content.
func (res *Result) StdoutMatchesFile(path string) (bool, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return bytes.Equal(res.Stdout, want), nil
}

// FieldAfter scans stdout for the first occurrence of label and returns
// the whitespace-separated field that follows it. Useful for pulling a
// value out of tabular tool output.
func (res *Result) FieldAfter(label string) (string, bool) {
	fields := strings.Fields(string(res.Stdout))
	for i, f := range fields {
		if f == label && i+1 < len(fields) {
			return fields[i+1], true
		}
	}
	return "", false
}
