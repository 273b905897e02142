package runtimeexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var ErrBinaryNotFound = errors.New("binary not found")

// Command is a single external process invocation.
type Command struct {
	Bin  string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Bin + " " + strings.Join(c.Args, " "))
}

// Result carries captured output. Output is stdout followed by stderr.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (r Result) Output() string {
	return strings.TrimSpace(strings.TrimSpace(r.Stdout) + "\n" + strings.TrimSpace(r.Stderr))
}

// Runner executes commands. A non-zero exit is returned as an *ExitError
// alongside the captured Result.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	LookPath(bin string) error
}

type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Output)
}

type ExecRunner struct{}

func NewExecRunner() ExecRunner {
	return ExecRunner{}
}

func (ExecRunner) LookPath(bin string) error {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		return fmt.Errorf("%w: empty name", ErrBinaryNotFound)
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, bin, err)
	}
	return nil
}

func (ExecRunner) Run(ctx context.Context, command Command) (Result, error) {
	bin := strings.TrimSpace(command.Bin)
	if bin == "" {
		return Result{}, errors.New("command binary is required")
	}

	cmd := exec.CommandContext(ctx, bin, command.Args...)
	cmd.Dir = command.Dir
	if len(command.Env) > 0 {
		cmd.Env = append(cmd.Environ(), command.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", command.String(), ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Command: command.String(), ExitCode: res.ExitCode, Output: res.Output()}
	}
	if errors.Is(err, exec.ErrNotFound) {
		return res, fmt.Errorf("%w: %s", ErrBinaryNotFound, bin)
	}
	return res, fmt.Errorf("%s failed: %w", command.String(), err)
}

// FirstLine returns the first non-empty line of the command output.
func FirstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
