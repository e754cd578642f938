//go:build unix

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Exec replaces the launcher process with the program, so the program owns
// the pid, the streams and the exit status. A nil Env inherits the
// launcher's environment.
type Exec struct {
	Env []string
}

// Dispatch only returns on failure
func (e *Exec) Dispatch(ctx context.Context, path, argv0 string, args []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := e.Env
	if env == nil {
		env = os.Environ()
	}

	argv := append([]string{argv0}, args...)

	err := unix.Exec(path, argv, env)
	if isStale(err) {
		return fmt.Errorf("%w: %s: %w", ErrStaleCacheEntry, path, err)
	}

	return fmt.Errorf("failed to exec program: %w", err)
}

// NewDefault returns the dispatcher used for real runs
func NewDefault() Dispatcher {
	return &Exec{}
}

// isStale reports whether a start failure means the executable itself is
// missing or unusable
func isStale(err error) bool {
	return errors.Is(err, unix.ENOENT) ||
		errors.Is(err, unix.EACCES) ||
		errors.Is(err, unix.ENOEXEC)
}

// exitCode follows the shell convention of 128+n for a program killed by
// signal n
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}

	return state.ExitCode()
}
