// Package launcher runs scripts from the cache, compiling them on a miss.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Norgate-AV/ccsh/internal/cache"
	"github.com/Norgate-AV/ccsh/internal/compiler"
	"github.com/Norgate-AV/ccsh/internal/dispatch"
	"github.com/Norgate-AV/ccsh/internal/logging"
	"github.com/Norgate-AV/ccsh/internal/source"
)

// Builder compiles a job into an executable
type Builder interface {
	Build(ctx context.Context, tc *compiler.Toolchain, job compiler.Job) (string, error)
}

// Invocation is one request to run a script
type Invocation struct {
	// Script is the script path as given on the command line. It becomes
	// the program's argv[0].
	Script string

	// Args are passed to the program unchanged
	Args []string

	// Entry replaces main with an expression; empty runs main
	Entry string
}

// Launcher resolves scripts to cached executables and dispatches them
type Launcher struct {
	Toolchain  *compiler.Toolchain
	Cache      *cache.Cache
	Builder    Builder
	Dispatcher dispatch.Dispatcher
	Logger     *zap.Logger

	// NoCache builds into a scratch directory and never publishes
	NoCache bool

	// OnBuild is called after every successful compilation
	OnBuild func(key source.Key)
}

// plan is an invocation with its script loaded and its key computed
type plan struct {
	unit   *source.Unit
	entry  string
	driver string
	key    source.Key
}

// New creates a launcher with the default builder and dispatcher
func New(tc *compiler.Toolchain, c *cache.Cache, log *zap.Logger) *Launcher {
	return &Launcher{
		Toolchain:  tc,
		Cache:      c,
		Builder:    compiler.NewCommandBuilder(log),
		Dispatcher: dispatch.NewDefault(),
		Logger:     log,
	}
}

// Run resolves the script's executable and dispatches it. With the default
// dispatcher a successful Run does not return.
func (l *Launcher) Run(ctx context.Context, inv Invocation) error {
	p, err := l.plan(inv)
	if err != nil {
		return err
	}

	if l.NoCache {
		return l.runUncached(ctx, p, inv)
	}

	path, _, err := l.resolve(ctx, p)
	if err != nil {
		return err
	}

	// Taken before dispatch: by the time a stale error comes back the path may
	// already hold another process's rebuild
	dispatched, _ := os.Stat(path)

	err = l.dispatch(ctx, path, inv)
	if !errors.Is(err, dispatch.ErrStaleCacheEntry) {
		return err
	}

	// Evicted or damaged between lookup and exec; rebuild once
	l.log().Warn("Cached executable is gone, rebuilding", zap.String("key", p.key.Short()), zap.Error(err))

	path, err = l.rebuild(ctx, p, dispatched)
	if err != nil {
		return err
	}

	return l.dispatch(ctx, path, inv)
}

// Resolve returns the cached executable for the invocation, compiling and
// publishing it first on a miss. built reports whether this call compiled.
func (l *Launcher) Resolve(ctx context.Context, inv Invocation) (string, bool, error) {
	p, err := l.plan(inv)
	if err != nil {
		return "", false, err
	}

	return l.resolve(ctx, p)
}

// Key returns the build key of the invocation without building anything
func (l *Launcher) Key(inv Invocation) (source.Key, error) {
	p, err := l.plan(inv)
	if err != nil {
		return "", err
	}

	return p.key, nil
}

func (l *Launcher) plan(inv Invocation) (*plan, error) {
	if l.Toolchain == nil || l.Cache == nil {
		return nil, fmt.Errorf("launcher not configured")
	}

	unit, err := source.Load(inv.Script)
	if err != nil {
		return nil, err
	}

	p := &plan{
		unit:  unit,
		entry: source.NormalizeEntry(inv.Entry),
	}

	if p.entry != "" {
		p.driver, err = source.Driver(unit, p.entry)
		if err != nil {
			return nil, err
		}
	}

	p.key = source.Fingerprint(unit, l.Toolchain.KeyInput(p.entry))

	return p, nil
}

func (l *Launcher) resolve(ctx context.Context, p *plan) (string, bool, error) {
	log := l.log().With(zap.String("key", p.key.Short()))

	path, ok, err := l.Cache.Lookup(p.key.String())
	if err != nil {
		return "", false, err
	}

	if ok {
		log.Debug("Cache hit", zap.String("path", path))
		return path, false, nil
	}

	log.Debug("Cache miss", zap.String("script", p.unit.Path))

	lock, err := l.Cache.Lock(ctx, p.key.String())
	if err != nil {
		return "", false, err
	}

	defer l.unlock(lock)

	// Another process may have published while we waited
	path, ok, err = l.Cache.Lookup(p.key.String())
	if err != nil {
		return "", false, err
	}

	if ok {
		log.Debug("Built by another process", zap.String("path", path))
		return path, false, nil
	}

	path, err = l.buildAndPublish(ctx, p)
	if err != nil {
		return "", false, err
	}

	return path, true, nil
}

// rebuild replaces the executable that failed to dispatch. failed describes
// that file, or is nil when it could not be stat'ed. An entry published by
// another process since then is used as is.
func (l *Launcher) rebuild(ctx context.Context, p *plan, failed os.FileInfo) (string, error) {
	lock, err := l.Cache.Lock(ctx, p.key.String())
	if err != nil {
		return "", err
	}

	defer l.unlock(lock)

	path, ok, err := l.Cache.Lookup(p.key.String())
	if err != nil {
		return "", err
	}

	if ok {
		info, err := os.Stat(path)
		if err == nil && !sameFile(failed, info) {
			l.log().Debug("Rebuilt by another process", zap.String("key", p.key.Short()), zap.String("path", path))
			return path, nil
		}
	}

	if err := l.Cache.Evict(p.key.String()); err != nil {
		return "", err
	}

	return l.buildAndPublish(ctx, p)
}

// buildAndPublish compiles into a scratch directory and publishes the result.
// The caller holds the key's lock.
func (l *Launcher) buildAndPublish(ctx context.Context, p *plan) (string, error) {
	dir, cleanup, err := l.Cache.TempDir()
	if err != nil {
		return "", err
	}

	defer cleanup()

	built, err := l.build(ctx, p, dir)
	if err != nil {
		return "", err
	}

	return l.Cache.Publish(p.key.String(), built, cache.Entry{
		Script:          p.unit.Path,
		Lang:            string(l.Toolchain.Lang),
		Compiler:        l.Toolchain.Path,
		CompilerVersion: l.Toolchain.Version,
		Flags:           append(append([]string(nil), l.Toolchain.Flags...), l.Toolchain.LDFlags...),
		Entry:           p.entry,
	})
}

func (l *Launcher) build(ctx context.Context, p *plan, dir string) (string, error) {
	start := time.Now()

	built, err := l.Builder.Build(ctx, l.Toolchain, compiler.Job{
		Unit:    p.unit,
		Driver:  p.driver,
		WorkDir: dir,
	})
	if err != nil {
		return "", err
	}

	l.log().Debug("Compiled script",
		zap.String("key", p.key.Short()),
		zap.String("script", p.unit.Path),
		zap.Duration("elapsed", time.Since(start)),
	)

	if l.OnBuild != nil {
		l.OnBuild(p.key)
	}

	return built, nil
}

// runUncached builds into a scratch directory and runs from there. When the
// program replaces this process the directory is left for cache prune.
func (l *Launcher) runUncached(ctx context.Context, p *plan, inv Invocation) error {
	dir, cleanup, err := l.Cache.TempDir()
	if err != nil {
		return err
	}

	defer cleanup()

	built, err := l.build(ctx, p, dir)
	if err != nil {
		return err
	}

	return l.dispatch(ctx, built, inv)
}

func (l *Launcher) dispatch(ctx context.Context, path string, inv Invocation) error {
	d := l.Dispatcher
	if d == nil {
		d = dispatch.NewDefault()
	}

	l.log().Debug("Dispatching", zap.String("path", path), zap.Strings("args", inv.Args))

	// Nothing buffered may be lost when exec replaces the process
	_ = l.log().Sync()

	return d.Dispatch(ctx, path, inv.Script, inv.Args)
}

// sameFile reports whether b is the file a described. An unlinked file's
// inode number can be handed straight to its replacement, so the build time
// must match as well.
func sameFile(a, b os.FileInfo) bool {
	return a != nil && os.SameFile(a, b) && a.ModTime().Equal(b.ModTime())
}

func (l *Launcher) unlock(lock *cache.Lock) {
	if err := lock.Unlock(); err != nil {
		l.log().Warn("Failed to release build lock", zap.String("key", lock.Key()), zap.Error(err))
	}
}

func (l *Launcher) log() *zap.Logger {
	return logging.OrNop(l.Logger)
}
