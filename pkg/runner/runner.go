// Package runner executes external command-line tools as child processes.
// It is the foundation for every adb and fastboot invocation: callers get
// captured output plus the exit code, or a line-by-line stream for
// long-running commands whose output feeds the terminal log view.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
)

// ErrToolNotFound indicates the external binary is not on PATH and no
// override path was configured.
var ErrToolNotFound = errors.New("tool not found")

// ErrToolTimeout indicates the invocation hit its context deadline.
var ErrToolTimeout = errors.New("tool timed out")

// ExitError reports a child process that ran to completion with a
// non-zero exit code.
type ExitError struct {
	Tool string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.Code)
}

// Result holds the captured output of a completed invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout and stderr concatenated, for log forwarding.
func (r *Result) Combined() string {
	return r.Stdout + r.Stderr
}

// Runner invokes a single external tool binary.
type Runner struct {
	bin string
}

// New creates a runner for the given binary path.
func New(bin string) *Runner {
	return &Runner{bin: bin}
}

// Bin returns the configured binary path.
func (r *Runner) Bin() string {
	return r.bin
}

// Run executes the tool with the given arguments and waits for it to exit.
// Non-zero exits are returned as *ExitError alongside the captured output,
// so callers can still inspect what the tool printed.
func (r *Runner) Run(ctx context.Context, args ...string) (*Result, error) {
	slog.Debug("tool_run", "bin", r.bin, "args", args)

	cmd := exec.CommandContext(ctx, r.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		return res, r.mapError(ctx, err, res)
	}
	return res, nil
}

// LineFunc receives one line of child output as it is produced.
type LineFunc func(line string)

// Stream executes the tool and forwards each stdout/stderr line to onLine
// while the process runs. It returns once the process exits.
func (r *Runner) Stream(ctx context.Context, args []string, onLine LineFunc) (*Result, error) {
	slog.Debug("tool_stream", "bin", r.bin, "args", args)

	cmd := exec.CommandContext(ctx, r.bin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	// fastboot writes its progress to stderr, so both pipes feed the sink
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, r.mapError(ctx, err, nil)
	}

	var outBuf, errBuf bytes.Buffer
	done := make(chan struct{}, 2)

	scan := func(s *bufio.Scanner, buf *bytes.Buffer) {
		for s.Scan() {
			line := s.Text()
			buf.WriteString(line)
			buf.WriteByte('\n')
			if onLine != nil {
				onLine(line)
			}
		}
		done <- struct{}{}
	}

	go scan(bufio.NewScanner(stdout), &outBuf)
	go scan(bufio.NewScanner(stderr), &errBuf)

	<-done
	<-done

	err = cmd.Wait()
	res := &Result{
		Stdout: outBuf.String(),
		Stderr: errBuf.String(),
	}

	if err != nil {
		return res, r.mapError(ctx, err, res)
	}
	return res, nil
}

// mapError translates exec failures into the runner's error taxonomy.
func (r *Runner) mapError(ctx context.Context, err error, res *Result) error {
	if ctx.Err() == context.DeadlineExceeded {
		slog.Warn("tool_timeout", "bin", r.bin)
		return fmt.Errorf("%s: %w", r.bin, ErrToolTimeout)
	}
	if errors.Is(err, exec.ErrNotFound) {
		slog.Warn("tool_not_found", "bin", r.bin)
		return fmt.Errorf("%s: %w", r.bin, ErrToolNotFound)
	}

	var xerr *exec.ExitError
	if errors.As(err, &xerr) {
		code := xerr.ExitCode()
		if res != nil {
			res.ExitCode = code
		}
		return &ExitError{Tool: r.bin, Code: code}
	}
	return err
}
