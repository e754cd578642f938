package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Norgate-AV/ccsh/internal/cache"
	"github.com/Norgate-AV/ccsh/internal/compiler"
	"github.com/Norgate-AV/ccsh/internal/config"
	"github.com/Norgate-AV/ccsh/internal/dispatch"
	"github.com/Norgate-AV/ccsh/internal/launcher"
	"github.com/Norgate-AV/ccsh/internal/logging"
)

// newDispatcher is swapped out in tests, which cannot have the test binary
// replaced by the program
var newDispatcher = dispatch.NewDefault

func runScript(cmd *cobra.Command, args []string) error {
	script, scriptArgs := args[0], args[1:]
	ctx := commandContext(cmd)

	cfg, err := loadRunConfig(cmd, script)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Verbose)
	if err != nil {
		return err
	}

	defer func() { _ = log.Sync() }()

	log.Debug("Loaded configuration",
		zap.String("script", script),
		zap.String("lang", string(cfg.Lang)),
		zap.String("compiler", cfg.Compiler()),
		zap.Strings("flags", cfg.CompilerFlags()),
		zap.Strings("ldflags", cfg.LDFlags),
		zap.String("cache", cfg.CacheDir),
	)

	l, err := newLauncher(ctx, cfg, log)
	if err != nil {
		return err
	}

	entry, _ := cmd.Flags().GetString("test")

	return l.Run(ctx, launcher.Invocation{
		Script: script,
		Args:   scriptArgs,
		Entry:  entry,
	})
}

// loadRunConfig loads and validates the configuration for building script
func loadRunConfig(cmd *cobra.Command, script string) (*config.Config, error) {
	cfg, err := config.NewLoader().LoadForRun(cmd, script, os.Args[0])
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newLauncher(ctx context.Context, cfg *config.Config, log *zap.Logger) (*launcher.Launcher, error) {
	tc, err := compiler.Resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c, err := cache.New(cfg.CacheDir, log)
	if err != nil {
		return nil, err
	}

	l := launcher.New(tc, c, log)
	l.Dispatcher = newDispatcher()
	l.NoCache = cfg.NoCache

	return l, nil
}
