package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Norgate-AV/ccsh/internal/codes"
	"github.com/Norgate-AV/ccsh/internal/compiler"
	"github.com/Norgate-AV/ccsh/internal/config"
	"github.com/Norgate-AV/ccsh/internal/launcher"
	"github.com/Norgate-AV/ccsh/internal/logging"
)

var buildCmd = &cobra.Command{
	Use:   "build SCRIPT...",
	Short: "Compile scripts into the cache without running them",
	Long: `Compile scripts into the cache without running them.

Scripts are built in parallel. Each line of output is a script and the
cached executable it resolves to.`,
	RunE:         runBuild,
	Args:         requireScript,
	SilenceUsage: true,
}

func init() {
	addBuildFlags(buildCmd.Flags())
}

// buildFailure summarises a build run in which some scripts failed
type buildFailure struct {
	failed int
	total  int
	code   int
}

func (e *buildFailure) Error() string {
	return fmt.Sprintf("%d of %d scripts failed to build", e.failed, e.total)
}

// ExitStatus is the exit code of the first failure
func (e *buildFailure) ExitStatus() int {
	return e.code
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	cfg, err := config.NewLoader().LoadForCache(cmd)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Verbose)
	if err != nil {
		return err
	}

	defer func() { _ = log.Sync() }()

	paths := make([]string, len(args))
	errs := make([]error, len(args))

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))

	// Every script is attempted; one failure does not cancel the others
	for i, script := range args {
		g.Go(func() error {
			paths[i], errs[i] = buildScript(ctx, cmd, script, log)
			return nil
		})
	}

	_ = g.Wait()

	failure := &buildFailure{total: len(args)}
	for i, script := range args {
		if errs[i] == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", script, paths[i])
			continue
		}

		if failure.failed == 0 {
			failure.code = codes.ExitCode(errs[i])
		}

		failure.failed++
		reportBuildError(cmd.ErrOrStderr(), script, errs[i])
	}

	if failure.failed > 0 {
		return failure
	}

	return nil
}

func buildScript(ctx context.Context, cmd *cobra.Command, script string, log *zap.Logger) (string, error) {
	cfg, err := loadRunConfig(cmd, script)
	if err != nil {
		return "", err
	}

	l, err := newLauncher(ctx, cfg, log)
	if err != nil {
		return "", err
	}

	entry, _ := cmd.Flags().GetString("test")

	path, built, err := l.Resolve(ctx, launcher.Invocation{Script: script, Entry: entry})
	if err != nil {
		return "", err
	}

	log.Debug("Resolved script", zap.String("script", script), zap.String("path", path), zap.Bool("built", built))

	return path, nil
}

func reportBuildError(w io.Writer, script string, err error) {
	var failure *compiler.CompileFailure
	if errors.As(err, &failure) {
		_, _ = io.WriteString(w, failure.Diagnostics)
	}

	fmt.Fprintf(w, "ccsh: %s: %v\n", script, err)
}
