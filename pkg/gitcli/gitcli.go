// Package gitcli runs the git executable against a repository directory.
package gitcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Runner invokes git with "-C Dir".
type Runner struct {
	Dir    string
	Binary string // defaults to "git" on PATH
}

// Available reports whether a git executable can be found.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// Error is a failed git invocation. Stderr carries git's own message.
type Error struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Stderr
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode returns git's exit status when err came from a git process that
// ran and failed, or -1.
func ExitCode(err error) int {
	var gitErr *Error
	if errors.As(err, &gitErr) {
		return gitErr.ExitCode
	}
	return -1
}

func (r *Runner) command(ctx context.Context, args []string) *exec.Cmd {
	bin := r.Binary
	if bin == "" {
		bin = "git"
	}
	gitArgs := append([]string{}, args...)
	if strings.TrimSpace(r.Dir) != "" {
		gitArgs = append([]string{"-C", r.Dir}, gitArgs...)
	}
	return exec.CommandContext(ctx, bin, gitArgs...)
}

// Capture runs git and returns its stdout.
func (r *Runner) Capture(ctx context.Context, args ...string) ([]byte, error) {
	cmd := r.command(ctx, args)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		gitErr := &Error{Args: args, ExitCode: -1, Stderr: strings.TrimSpace(stderr.String()), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			gitErr.ExitCode = exitErr.ExitCode()
		}
		return nil, gitErr
	}
	return stdout.Bytes(), nil
}

// Process is a long-running git command fed through stdin, such as
// "cat-file --batch-check".
type Process struct {
	args   []string
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	stderr bytes.Buffer
}

// Start launches git with piped stdin and stdout.
func (r *Runner) Start(ctx context.Context, args ...string) (*Process, error) {
	p := &Process{args: args, cmd: r.command(ctx, args)}
	p.cmd.Stderr = &p.stderr
	var err error
	if p.Stdin, err = p.cmd.StdinPipe(); err != nil {
		return nil, fmt.Errorf("git %s: stdin: %w", strings.Join(args, " "), err)
	}
	if p.Stdout, err = p.cmd.StdoutPipe(); err != nil {
		return nil, fmt.Errorf("git %s: stdout: %w", strings.Join(args, " "), err)
	}
	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("git %s: start: %w", strings.Join(args, " "), err)
	}
	return p, nil
}

// Close closes stdin and waits for the process to exit.
func (p *Process) Close() error {
	_ = p.Stdin.Close()
	if err := p.cmd.Wait(); err != nil {
		return &Error{Args: p.args, ExitCode: p.cmd.ProcessState.ExitCode(), Stderr: strings.TrimSpace(p.stderr.String()), Err: err}
	}
	return nil
}
