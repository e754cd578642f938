package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/Norgate-AV/ccsh/internal/utils"
)

// Default configuration values
const (
	DefaultCC      = "cc"
	DefaultCXX     = "c++"
	DefaultVerbose = false
	DefaultNoCache = false

	// DefaultCacheDirName is the directory created under the user cache dir
	DefaultCacheDirName = "ccsh"
)

// DefaultCFlags are used for C scripts when no cflags are configured
var DefaultCFlags = []string{"-std=c99", "-O2"}

// DefaultCXXFlags are used for C++ scripts when no cxxflags are configured
var DefaultCXXFlags = []string{"-O2"}

// ErrInvalid is returned for configuration that cannot be used
var ErrInvalid = errors.New("invalid configuration")

// Holds the configuration options for ccsh
type Config struct {
	// Language of the script (c or c++); empty until detected
	Lang utils.Lang

	// C compiler executable
	CC string

	// C++ compiler executable
	CXX string

	// Base flags for C and C++ builds
	CFlags   []string
	CXXFlags []string

	// Extra compiler flags from the command line, appended after the base flags
	ExtraFlags []string

	// Linker flags, placed after the source on the command line
	LDFlags []string

	// Root of the build cache
	CacheDir string

	// Build into a scratch directory instead of the cache
	NoCache bool

	// Enable verbose output
	Verbose bool
}

// Load reads the configuration out of v and validates it
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		CC:       v.GetString("cc"),
		CXX:      v.GetString("cxx"),
		CFlags:   v.GetStringSlice("cflags"),
		CXXFlags: v.GetStringSlice("cxxflags"),
		LDFlags:  v.GetStringSlice("ldflags"),
		CacheDir: v.GetString("cache_dir"),
		NoCache:  v.GetBool("no_cache"),
		Verbose:  v.GetBool("verbose"),
	}

	if lang := v.GetString("lang"); lang != "" {
		l, ok := utils.ParseLang(lang)
		if !ok {
			return nil, fmt.Errorf("%w: unknown language: %s", ErrInvalid, lang)
		}

		cfg.Lang = l
	}

	// Apply defaults if not set
	if cfg.CC == "" {
		cfg.CC = DefaultCC
	}

	if cfg.CXX == "" {
		cfg.CXX = DefaultCXX
	}

	if !v.IsSet("cflags") {
		cfg.CFlags = append([]string(nil), DefaultCFlags...)
	}

	if !v.IsSet("cxxflags") {
		cfg.CXXFlags = append([]string(nil), DefaultCXXFlags...)
	}

	if cfg.CacheDir == "" {
		dir, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}

		cfg.CacheDir = dir
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration and resolves paths
func (c *Config) Validate() error {
	if c.Lang != "" && c.Lang != utils.C && c.Lang != utils.CXX {
		return fmt.Errorf("%w: unknown language: %s", ErrInvalid, c.Lang)
	}

	if c.CacheDir == "" {
		return fmt.Errorf("%w: cache directory not set", ErrInvalid)
	}

	abs, err := filepath.Abs(c.CacheDir)
	if err != nil {
		return fmt.Errorf("%w: invalid cache directory: %v", ErrInvalid, err)
	}

	c.CacheDir = abs

	// A relative compiler path is resolved like a shell would, against the
	// working directory; a bare name is left for PATH lookup
	for _, p := range []*string{&c.CC, &c.CXX} {
		if *p != "" && *p != filepath.Base(*p) {
			abs, err := filepath.Abs(*p)
			if err != nil {
				return fmt.Errorf("%w: invalid compiler path: %v", ErrInvalid, err)
			}

			*p = abs
		}
	}

	return nil
}

// Compiler returns the compiler executable for the configured language
func (c *Config) Compiler() string {
	if c.Lang == utils.CXX {
		return c.CXX
	}

	return c.CC
}

// CompilerFlags returns the base flags for the configured language followed by
// the extra command-line flags
func (c *Config) CompilerFlags() []string {
	base := c.CFlags
	if c.Lang == utils.CXX {
		base = c.CXXFlags
	}

	flags := make([]string, 0, len(base)+len(c.ExtraFlags))
	for _, set := range [][]string{base, c.ExtraFlags} {
		for _, f := range set {
			if f != "" {
				flags = append(flags, f)
			}
		}
	}

	return flags
}

// DefaultCacheDir returns the cache root used when none is configured
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user cache directory: %w", err)
	}

	return filepath.Join(dir, DefaultCacheDirName), nil
}
