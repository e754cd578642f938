// Package dispatch hands control to a compiled script.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// ErrStaleCacheEntry is returned when an executable found in the cache can no
// longer be started, typically because it was evicted after the lookup
var ErrStaleCacheEntry = errors.New("cached executable could not be started")

// Dispatcher runs the executable at path as argv0 with args
type Dispatcher interface {
	Dispatch(ctx context.Context, path, argv0 string, args []string) error
}

// ExitError reports a program that ran and exited non-zero
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("program exited with code %d", e.Code)
}

// ExitStatus is the exit code the launcher should exit with
func (e *ExitError) ExitStatus() int {
	return e.Code
}

// Child runs the program as a subprocess and waits for it. Nil streams
// inherit the launcher's own; a nil Env inherits its environment.
type Child struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Env    []string
}

// Dispatch runs the program to completion. A non-zero exit is an *ExitError.
func (c *Child) Dispatch(ctx context.Context, path, argv0 string, args []string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Args[0] = argv0
	cmd.Env = c.Env
	cmd.Stdin = orReader(c.Stdin, os.Stdin)
	cmd.Stdout = orWriter(c.Stdout, os.Stdout)
	cmd.Stderr = orWriter(c.Stderr, os.Stderr)

	if err := cmd.Start(); err != nil {
		if isStale(err) {
			return fmt.Errorf("%w: %s: %w", ErrStaleCacheEntry, path, err)
		}

		return fmt.Errorf("failed to start program: %w", err)
	}

	err := cmd.Wait()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitCode(exitErr.ProcessState)}
	}

	return fmt.Errorf("failed to run program: %w", err)
}

func orReader(r, def io.Reader) io.Reader {
	if r == nil {
		return def
	}

	return r
}

func orWriter(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}

	return w
}
