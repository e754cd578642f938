package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Norgate-AV/ccsh/internal/codes"
	"github.com/Norgate-AV/ccsh/internal/compiler"
	"github.com/Norgate-AV/ccsh/internal/dispatch"
	"github.com/Norgate-AV/ccsh/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "ccsh [flags] SCRIPT [ARGS...]",
	Short: "Run C and C++ source files as scripts",
	Long: `Run C and C++ source files as scripts.

A script is compiled on first use and the executable is cached, so later runs
start immediately. Start a script with

  #if 0
  exec c99sh "$0" "$@"
  #endif

to make it directly executable. Flags after SCRIPT are passed to the script.

A script named build or cache is taken for the subcommand of that name; run it
with a path such as ./build instead.`,
	RunE:          runScript,
	Args:          requireScript,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line and exits with the resulting code
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	os.Exit(report(err, os.Stderr))
}

func init() {
	rootCmd.Version = version.String()
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Everything after the script belongs to the script
	rootCmd.Flags().SetInterspersed(false)

	addGlobalFlags(rootCmd.PersistentFlags())
	addBuildFlags(rootCmd.Flags())
	rootCmd.Flags().Bool("no-cache", false, "Build into a scratch directory and do not cache the executable")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", codes.ErrUsage, err)
	})

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cacheCmd)
}

// addGlobalFlags adds the flags every command understands
func addGlobalFlags(fs *pflag.FlagSet) {
	fs.String("cache-dir", "", "Cache `DIR` (default is the user cache directory)")
	fs.BoolP("verbose", "v", false, "Verbose output")
}

// addBuildFlags adds the flags that take part in a build key
func addBuildFlags(fs *pflag.FlagSet) {
	fs.StringP("test", "t", "", "Call `EXPR` from a generated main instead of the script's main")
	fs.StringP("lang", "x", "", "Source language, c or c++ (default from program name, then extension)")
	fs.StringArrayP("cflag", "c", nil, "Extra compiler `FLAG` (repeatable)")
	fs.StringArrayP("ldflag", "l", nil, "Extra linker `FLAG` (repeatable)")
	fs.String("cc", "", "C compiler `PATH`")
	fs.String("cxx", "", "C++ compiler `PATH`")
}

func requireScript(_ *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no script given", codes.ErrUsage)
	}

	return nil
}

// report prints err the way the launcher's caller expects and returns the
// exit code. Compiler diagnostics are printed verbatim and a program's own
// exit status is passed on silently.
func report(err error, w io.Writer) int {
	if err == nil {
		return codes.OK
	}

	var failure *compiler.CompileFailure
	if errors.As(err, &failure) {
		_, _ = io.WriteString(w, failure.Diagnostics)
		return failure.ExitCode
	}

	var exitErr *dispatch.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	code := codes.ExitCode(err)

	switch code {
	case codes.Interrupted:
		fmt.Fprintln(w, "ccsh: interrupted")
	case codes.Usage:
		fmt.Fprintf(w, "ccsh: %v\nRun 'ccsh --help' for usage.\n", err)
	default:
		fmt.Fprintf(w, "ccsh: %v\n", err)
	}

	return code
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}
