package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Norgate-AV/ccsh/internal/utils"
)

// EnvPrefix is the prefix of environment variables read as configuration
const EnvPrefix = "CCSH"

// flagKeys maps config keys to the command-line flags bound to them
var flagKeys = map[string]string{
	"lang":      "lang",
	"cc":        "cc",
	"cxx":       "cxx",
	"cache_dir": "cache-dir",
	"no_cache":  "no-cache",
	"verbose":   "verbose",
}

// Loader handles configuration loading from various sources.
// Later sources override earlier ones: defaults, global config, local config,
// environment, flags.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// Viper exposes the underlying viper instance
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// LoadForRun loads configuration for running or building one script.
// argv0 is the name the launcher was invoked as and takes part in language
// detection.
func (l *Loader) LoadForRun(cmd *cobra.Command, script, argv0 string) (*Config, error) {
	l.setupViperDefaults()
	l.bindEnv()
	l.loadGlobalConfig()
	l.loadLocalConfig(script)
	l.bindCommandFlags(cmd)

	cfg, err := Load(l.v)
	if err != nil {
		return nil, err
	}

	l.applyCommandFlags(cmd, cfg)

	// An explicit --lang wins, then the program name, then config, then the
	// file extension
	if f := cmd.Flags().Lookup("lang"); f == nil || !f.Changed {
		if lang := utils.LangFromProgram(argv0); lang != "" {
			cfg.Lang = lang
		}
	}

	if cfg.Lang == "" {
		cfg.Lang = utils.DetectLang(argv0, script)
	}

	return cfg, nil
}

// LoadForCache loads configuration for cache maintenance commands, which only
// need the cache location. Local config is looked up from the working directory.
func (l *Loader) LoadForCache(cmd *cobra.Command) (*Config, error) {
	l.setupViperDefaults()
	l.bindEnv()
	l.loadGlobalConfig()

	if cwd, err := os.Getwd(); err == nil {
		l.mergeLocalConfig(cwd)
	}

	l.bindCommandFlags(cmd)

	return Load(l.v)
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	l.v.SetDefault("cc", DefaultCC)
	l.v.SetDefault("cxx", DefaultCXX)
	l.v.SetDefault("verbose", DefaultVerbose)
	l.v.SetDefault("no_cache", DefaultNoCache)
}

// bindEnv maps CCSH_* variables onto config keys. CC and CXX are honoured as
// the conventional fallbacks.
func (l *Loader) bindEnv() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	l.v.AutomaticEnv()

	_ = l.v.BindEnv("cc", EnvPrefix+"_CC", "CC")
	_ = l.v.BindEnv("cxx", EnvPrefix+"_CXX", "CXX")
}

// loadGlobalConfig loads global configuration from the user config directory
func (l *Loader) loadGlobalConfig() {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return
	}

	if path := FindGlobalConfig(filepath.Join(dir, "ccsh")); path != "" {
		l.v.SetConfigFile(path)
		_ = l.v.ReadInConfig()
	}
}

// loadLocalConfig loads local configuration from the script's directory or
// any parent
func (l *Loader) loadLocalConfig(script string) {
	if script == "" {
		return
	}

	absScript, err := filepath.Abs(script)
	if err != nil {
		return // silently ignore, the launcher reports unreadable scripts
	}

	l.mergeLocalConfig(filepath.Dir(absScript))
}

func (l *Loader) mergeLocalConfig(dir string) {
	localPath := FindLocalConfig(dir)
	if localPath == "" {
		return
	}

	// Merge so keys missing from the local file keep their global values
	l.v.SetConfigFile(localPath)
	_ = l.v.MergeInConfig()
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	for key, name := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = l.v.BindPFlag(key, f)
		}
	}
}

// applyCommandFlags copies repeatable flags that must not go through viper,
// whose slice handling splits values on commas (-Wl,-rpath,... would break)
func (l *Loader) applyCommandFlags(cmd *cobra.Command, cfg *Config) {
	if extra, err := cmd.Flags().GetStringArray("cflag"); err == nil {
		cfg.ExtraFlags = append(cfg.ExtraFlags, extra...)
	}

	if extra, err := cmd.Flags().GetStringArray("ldflag"); err == nil {
		cfg.LDFlags = append(cfg.LDFlags, extra...)
	}
}
