//go:build !unix

package dispatch

import (
	"errors"
	"io/fs"
	"os"
)

// NewDefault returns the dispatcher used for real runs. Without exec(2) the
// program runs as a child and its exit code is passed on.
func NewDefault() Dispatcher {
	return &Child{}
}

func isStale(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
}

func exitCode(state *os.ProcessState) int {
	if code := state.ExitCode(); code > 0 {
		return code
	}

	return 1
}
