package compiler

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Norgate-AV/ccsh/internal/source"
)

// outputName is the executable name inside a job's work directory
const outputName = "a.out"

// CompileFailure is returned when the compiler exits non-zero.
// Diagnostics hold the compiler's output verbatim.
type CompileFailure struct {
	ExitCode    int
	Diagnostics string
}

func (e *CompileFailure) Error() string {
	return fmt.Sprintf("compilation failed (exit code %d)", e.ExitCode)
}

// ExitStatus is the exit code the launcher should exit with
func (e *CompileFailure) ExitStatus() int {
	return e.ExitCode
}

// Job is one compilation: a script, optionally wrapped in an entry driver,
// built inside a scratch directory
type Job struct {
	// Unit is the script to build
	Unit *source.Unit

	// Driver is the text of the entry driver unit; empty compiles the
	// script on its own
	Driver string

	// WorkDir receives the driver unit and the executable
	WorkDir string
}

// SourcePath is the file handed to the compiler
func (j Job) SourcePath() string {
	if j.Driver != "" {
		return filepath.Join(j.WorkDir, source.DriverName(j.Unit))
	}

	return j.Unit.Path
}

// OutputPath is where the compiler writes the executable
func (j Job) OutputPath() string {
	return filepath.Join(j.WorkDir, outputName)
}

type ShellCommand struct {
	Path string
	Args []string
}

func (c *ShellCommand) String() string {
	return c.Path + " " + strings.Join(c.Args, " ")
}
