package codes

import (
	"context"
	"errors"

	"github.com/Norgate-AV/ccsh/internal/cache"
	"github.com/Norgate-AV/ccsh/internal/compiler"
	"github.com/Norgate-AV/ccsh/internal/config"
	"github.com/Norgate-AV/ccsh/internal/source"
)

// Exit codes for launcher faults, following sysexits(3). Compiler failures
// and programs that ran exit with their own codes.
const (
	OK          = 0
	Usage       = 64
	NoInput     = 66
	Unavailable = 69
	Software    = 70
	CantCreate  = 73
	Config      = 78
	Interrupted = 130
)

// Descriptions maps launcher exit codes to their descriptions
var Descriptions = map[int]string{
	OK:          "Success",
	Usage:       "Command line usage error",
	NoInput:     "Script not found or unreadable",
	Unavailable: "Compiler not available",
	Software:    "Internal error",
	CantCreate:  "Cannot acquire build lock",
	Config:      "Configuration error",
	Interrupted: "Interrupted",
}

// ErrUsage marks command line usage errors
var ErrUsage = errors.New("usage error")

// ExitStatuser is implemented by errors that carry the exit code to exit with
type ExitStatuser interface {
	ExitStatus() int
}

// ExitCode returns the exit code for err
func ExitCode(err error) int {
	if err == nil {
		return OK
	}

	var status ExitStatuser
	if errors.As(err, &status) {
		return status.ExitStatus()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Interrupted
	case errors.Is(err, ErrUsage):
		return Usage
	case errors.Is(err, source.ErrNoScript):
		return NoInput
	case errors.Is(err, compiler.ErrToolchainNotFound):
		return Unavailable
	case errors.Is(err, cache.ErrLockAcquisition):
		return CantCreate
	case errors.Is(err, config.ErrInvalid):
		return Config
	}

	return Software
}

// Describe returns the description for a launcher exit code, or a generic
// message if unknown
func Describe(code int) string {
	if msg, ok := Descriptions[code]; ok {
		return msg
	}

	return "Unknown error"
}
