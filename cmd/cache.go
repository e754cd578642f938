package cmd

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Norgate-AV/ccsh/internal/cache"
	"github.com/Norgate-AV/ccsh/internal/config"
	"github.com/Norgate-AV/ccsh/internal/launcher"
	"github.com/Norgate-AV/ccsh/internal/logging"
)

// defaultPruneAge is how old an entry must be before cache prune evicts it
const defaultPruneAge = 30 * 24 * time.Hour

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the executable cache",
}

var cacheListCmd = &cobra.Command{
	Use:          "list",
	Short:        "List cached executables",
	Args:         cobra.NoArgs,
	RunE:         runCacheList,
	SilenceUsage: true,
}

var cacheStatsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Show cache statistics",
	Args:         cobra.NoArgs,
	RunE:         runCacheStats,
	SilenceUsage: true,
}

var cachePruneCmd = &cobra.Command{
	Use:          "prune",
	Short:        "Remove executables published before --older-than",
	Args:         cobra.NoArgs,
	RunE:         runCachePrune,
	SilenceUsage: true,
}

var cacheClearCmd = &cobra.Command{
	Use:          "clear",
	Short:        "Remove all cached executables",
	Args:         cobra.NoArgs,
	RunE:         runCacheClear,
	SilenceUsage: true,
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict KEY|SCRIPT...",
	Short: "Remove the cached executables for build keys or scripts",
	Long: `Remove the cached executables for build keys or scripts.

A script's key is computed with the same flags and configuration a run would
use, so pass the same --test, --lang and compiler flags. Keys that are being
built right now are skipped, like cache prune does.`,
	Args:         requireScript,
	RunE:         runCacheEvict,
	SilenceUsage: true,
}

var cacheDirCmd = &cobra.Command{
	Use:          "dir",
	Short:        "Print the cache directory",
	Args:         cobra.NoArgs,
	RunE:         runCacheDir,
	SilenceUsage: true,
}

func init() {
	cachePruneCmd.Flags().Duration("older-than", defaultPruneAge, "Minimum age of entries to remove")
	addBuildFlags(cacheEvictCmd.Flags())

	cacheCmd.AddCommand(cacheListCmd, cacheStatsCmd, cachePruneCmd, cacheClearCmd, cacheEvictCmd, cacheDirCmd)
}

// openCache loads the cache configuration and opens the cache
func openCache(cmd *cobra.Command) (*cache.Cache, *zap.Logger, error) {
	cfg, err := config.NewLoader().LoadForCache(cmd)
	if err != nil {
		return nil, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	log, err := logging.New(cfg.Verbose)
	if err != nil {
		return nil, nil, err
	}

	c, err := cache.New(cfg.CacheDir, log)
	if err != nil {
		return nil, nil, err
	}

	return c, log, nil
}

func runCacheList(cmd *cobra.Command, _ []string) error {
	c, _, err := openCache(cmd)
	if err != nil {
		return err
	}

	entries, err := c.List()
	if err != nil {
		return err
	}

	slices.SortFunc(entries, func(a, b cache.Entry) int {
		return cmp.Or(cmp.Compare(a.Script, b.Script), a.Created.Compare(b.Created))
	})

	if len(entries) == 0 {
		return nil
	}

	return writeYAML(cmd, entries)
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	c, _, err := openCache(cmd)
	if err != nil {
		return err
	}

	stats, err := c.Stats()
	if err != nil {
		return err
	}

	return writeYAML(cmd, struct {
		Root        string `yaml:"root"`
		cache.Stats `yaml:",inline"`
	}{
		Root:  c.Root(),
		Stats: stats,
	})
}

func runCachePrune(cmd *cobra.Command, _ []string) error {
	c, log, err := openCache(cmd)
	if err != nil {
		return err
	}

	age, err := cmd.Flags().GetDuration("older-than")
	if err != nil {
		return err
	}

	evicted, err := c.Prune(age)
	for _, key := range evicted {
		fmt.Fprintln(cmd.OutOrStdout(), key)
	}

	log.Debug("Pruned cache", zap.Int("evicted", len(evicted)), zap.Duration("older_than", age))

	return err
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	c, _, err := openCache(cmd)
	if err != nil {
		return err
	}

	return c.Clear()
}

func runCacheEvict(cmd *cobra.Command, args []string) error {
	c, log, err := openCache(cmd)
	if err != nil {
		return err
	}

	for _, arg := range args {
		key := arg
		if !cache.ValidKey(arg) {
			key, err = scriptKey(cmd, arg, log)
			if err != nil {
				return err
			}
		}

		evicted, err := c.EvictIdle(key)
		if err != nil {
			return err
		}

		if !evicted {
			fmt.Fprintf(cmd.ErrOrStderr(), "ccsh: %s is being built, not evicted\n", key)
			continue
		}

		fmt.Fprintln(cmd.OutOrStdout(), key)
	}

	return nil
}

// scriptKey computes the key a run of script would use
func scriptKey(cmd *cobra.Command, script string, log *zap.Logger) (string, error) {
	ctx := commandContext(cmd)

	cfg, err := loadRunConfig(cmd, script)
	if err != nil {
		return "", err
	}

	l, err := newLauncher(ctx, cfg, log)
	if err != nil {
		return "", err
	}

	entry, _ := cmd.Flags().GetString("test")

	key, err := l.Key(launcher.Invocation{Script: script, Entry: entry})
	if err != nil {
		return "", err
	}

	return key.String(), nil
}

func runCacheDir(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewLoader().LoadForCache(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cfg.CacheDir)

	return nil
}

func writeYAML(cmd *cobra.Command, v any) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	return enc.Close()
}
