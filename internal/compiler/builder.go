package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/Norgate-AV/ccsh/internal/logging"
)

// Commander interface for testing
type Commander interface {
	Run() error
}

// exitCoder is satisfied by *exec.ExitError
type exitCoder interface {
	ExitCode() int
}

// CommandBuilder handles building compiler commands
type CommandBuilder struct {
	execCommand func(ctx context.Context, name string, args ...string) Commander

	// Stderr receives compiler warnings from successful builds
	Stderr io.Writer

	log *zap.Logger
}

// NewCommandBuilder creates a new command builder
func NewCommandBuilder(log *zap.Logger) *CommandBuilder {
	return &CommandBuilder{
		execCommand: func(ctx context.Context, name string, args ...string) Commander {
			return exec.CommandContext(ctx, name, args...)
		},
		Stderr: os.Stderr,
		log:    logging.OrNop(log).Named("compiler"),
	}
}

// BuildCommand builds the compiler invocation for job. The source is always
// compiled with an explicit language since scripts rarely carry a C suffix.
func (cb *CommandBuilder) BuildCommand(tc *Toolchain, job Job) (*ShellCommand, error) {
	if tc == nil || tc.Path == "" {
		return nil, fmt.Errorf("no compiler configured")
	}

	if job.Unit == nil {
		return nil, fmt.Errorf("no source to compile")
	}

	if job.WorkDir == "" {
		return nil, fmt.Errorf("no work directory for build")
	}

	var args []string
	args = append(args, tc.Flags...)
	args = append(args, "-o", job.OutputPath())
	args = append(args, "-x", tc.Lang.CompilerLang(), job.SourcePath())

	// Reset the language so libraries in the link flags are not parsed as source
	args = append(args, "-x", "none")
	args = append(args, tc.LDFlags...)

	return &ShellCommand{Path: tc.Path, Args: args}, nil
}

// ExecuteCommand runs the compiler. A non-zero exit becomes a *CompileFailure
// carrying everything the compiler printed.
func (cb *CommandBuilder) ExecuteCommand(ctx context.Context, compilerPath string, cmdArgs []string) error {
	var output bytes.Buffer

	c := cb.execCommand(ctx, compilerPath, cmdArgs...)
	if cmd, ok := c.(*exec.Cmd); ok {
		cmd.Stdout = &output
		cmd.Stderr = &output
	}

	err := c.Run()
	if err == nil {
		// Warnings still reach the user
		if output.Len() > 0 && cb.Stderr != nil {
			_, _ = cb.Stderr.Write(output.Bytes())
		}

		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var coder exitCoder
	if errors.As(err, &coder) {
		code := coder.ExitCode()
		if code <= 0 {
			// Killed by a signal
			code = 1
		}

		return &CompileFailure{ExitCode: code, Diagnostics: output.String()}
	}

	return fmt.Errorf("failed to run compiler: %w", err)
}

// Build compiles job and returns the path of the executable in the job's work
// directory
func (cb *CommandBuilder) Build(ctx context.Context, tc *Toolchain, job Job) (string, error) {
	if job.Driver != "" {
		if err := os.WriteFile(job.SourcePath(), []byte(job.Driver), 0o644); err != nil {
			return "", fmt.Errorf("failed to write entry driver: %w", err)
		}
	}

	cmd, err := cb.BuildCommand(tc, job)
	if err != nil {
		return "", err
	}

	cb.PrintBuildInfo(tc, job, cmd)

	if err := cb.ExecuteCommand(ctx, cmd.Path, cmd.Args); err != nil {
		return "", err
	}

	out := job.OutputPath()
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("compiler produced no executable: %w", err)
	}

	return out, nil
}

// PrintBuildInfo logs verbose build information
func (cb *CommandBuilder) PrintBuildInfo(tc *Toolchain, job Job, cmd *ShellCommand) {
	cb.log.Debug("Compiling",
		zap.String("script", job.Unit.Path),
		zap.String("lang", string(tc.Lang)),
		zap.String("compiler", tc.Version),
		zap.Bool("driver", job.Driver != ""),
		zap.Stringer("command", cmd),
	)
}
