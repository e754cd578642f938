// Package cache stores compiled scripts keyed by build key.
//
// The cache is shared by every ccsh process on the machine, so all
// coordination goes through the filesystem:
//
//  1. Executables are published by renaming a finished file into
//     bin/<kk>/<key>. A lookup is a stat of that path and never sees a
//     partially written file.
//  2. A per-key flock(2) lock serialises builds of the same key. Builds of
//     different keys never contend.
//  3. Metadata lives in a BoltDB index used for listing and pruning. The index
//     is opened per operation and never held across a build, and it never
//     decides whether an executable may be served.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Norgate-AV/ccsh/internal/logging"
)

const (
	// bucketName is the BoltDB bucket name for cache entries
	bucketName = "entries"

	indexFile = "index.db"
	binDir    = "bin"
	tmpDir    = "tmp"
	lockDir   = "locks"

	// indexTimeout bounds the wait for another process's index transaction
	indexTimeout = 5 * time.Second
)

// Cache manages published executables and their metadata
type Cache struct {
	root   string // Root directory for cache
	log    *zap.Logger
	rename func(oldpath, newpath string) error
}

// New opens the cache rooted at root, creating its layout if needed
func New(root string, log *zap.Logger) (*Cache, error) {
	if root == "" {
		return nil, fmt.Errorf("cache directory not set")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
	}

	// Ensure cache directories exist
	for _, dir := range []string{binDir, tmpDir, lockDir} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return &Cache{
		root:   abs,
		log:    logging.OrNop(log).Named("cache"),
		rename: os.Rename,
	}, nil
}

// Root returns the cache's root directory
func (c *Cache) Root() string {
	return c.root
}

// Path returns where the executable for key is published
func (c *Cache) Path(key string) string {
	return filepath.Join(c.root, binDir, shard(key), key)
}

// Lookup returns the published executable for key.
// It only stats the final path: no locks, no index.
func (c *Cache) Lookup(key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}

	path := c.Path(key)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil // Cache miss
		}

		return "", false, fmt.Errorf("failed to stat cache entry: %w", err)
	}

	if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return "", false, nil
	}

	return path, true, nil
}

// Publish moves the executable at built into place for key and records entry
// in the index. Publishing over an existing entry replaces it; both files come
// from the same key, so either is fine to serve.
func (c *Cache) Publish(key, built string, entry Entry) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}

	src := built
	if !c.inTempDir(built) {
		staged, cleanup, err := c.stage(built)
		if err != nil {
			return "", err
		}

		defer cleanup()
		src = staged
	}

	if err := os.Chmod(src, executableMode); err != nil {
		return "", fmt.Errorf("failed to mark executable: %w", err)
	}

	dst := c.Path(key)
	if err := c.place(src, dst); err != nil {
		return "", err
	}

	entry.Key = key
	entry.Path = dst
	entry.Created = time.Now().UTC()
	if info, err := os.Stat(dst); err == nil {
		entry.Size = info.Size()
	}

	// The executable is already live; a failed index write only loses metadata
	if err := c.putEntry(entry); err != nil {
		c.log.Warn("Failed to index cache entry", zap.String("key", key), zap.Error(err))
	}

	c.log.Debug("Published executable", zap.String("key", key), zap.String("path", dst))

	return dst, nil
}

// EvictIdle evicts key unless its build lock is held, in which case the
// entry is about to be replaced anyway. It reports whether key was evicted.
func (c *Cache) EvictIdle(key string) (bool, error) {
	lock, err := c.TryLock(key)
	if err != nil {
		return false, err
	}

	if lock == nil {
		return false, nil
	}

	if err := c.Evict(key); err != nil {
		return false, multierr.Append(err, lock.Unlock())
	}

	return true, lock.Unlock()
}

// place renames src to dst. A cache clear removing bin/ between creating the
// shard directory and the rename is retried once.
func (c *Cache) place(src, dst string) error {
	var err error
	for range 2 {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("failed to create artifact directory: %w", err)
		}

		err = c.rename(src, dst)
		if !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}

	if err != nil {
		return fmt.Errorf("failed to publish executable: %w", err)
	}

	return nil
}

// Evict removes the executable and index record for key.
// Evicting a missing entry is not an error.
func (c *Cache) Evict(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}

	var errs error
	if err := os.Remove(c.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = multierr.Append(errs, fmt.Errorf("failed to remove executable: %w", err))
	}

	if err := c.deleteEntry(key); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("failed to remove index entry: %w", err))
	}

	if errs == nil {
		c.log.Debug("Evicted cache entry", zap.String("key", key))
	}

	return errs
}

// TempDir creates a scratch directory on the cache's filesystem, so files
// built there can be published with a rename. The cleanup func removes it.
func (c *Cache) TempDir() (string, func(), error) {
	dir := filepath.Join(c.root, tmpDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			c.log.Warn("Failed to remove scratch directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	return dir, cleanup, nil
}

// Get returns the index record for key, or nil if there is none
func (c *Cache) Get(key string) (*Entry, error) {
	var entry *Entry
	err := c.withIndex(true, func(b *bbolt.Bucket) error {
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}

		entry = &Entry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// List returns all indexed entries
func (c *Cache) List() ([]Entry, error) {
	var entries []Entry
	err := c.withIndex(true, func(b *bbolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("corrupt index entry %s: %w", k, err)
			}

			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Stats returns cache statistics
func (c *Cache) Stats() (Stats, error) {
	var stats Stats
	err := c.withIndex(true, func(b *bbolt.Bucket) error {
		stats.Entries = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	// Calculate total executable size
	stats.Executables, stats.Size = dirSize(filepath.Join(c.root, binDir))

	return stats, nil
}

// Prune evicts entries published more than maxAge ago, along with unindexed
// executables and abandoned scratch directories of the same age. Entries
// whose build lock is held are skipped. It returns the evicted keys.
func (c *Cache) Prune(maxAge time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-maxAge)

	entries, err := c.List()
	if err != nil {
		return nil, err
	}

	indexed := make(map[string]bool, len(entries))
	var candidates []string
	for _, entry := range entries {
		indexed[entry.Key] = true
		if entry.Created.Before(cutoff) {
			candidates = append(candidates, entry.Key)
		}
	}

	// Executables that never made it into the index
	shards, _ := os.ReadDir(filepath.Join(c.root, binDir))
	for _, s := range shards {
		files, _ := os.ReadDir(filepath.Join(c.root, binDir, s.Name()))
		for _, f := range files {
			if indexed[f.Name()] || !ValidKey(f.Name()) {
				continue
			}

			if info, err := f.Info(); err == nil && info.ModTime().Before(cutoff) {
				candidates = append(candidates, f.Name())
			}
		}
	}

	var evicted []string
	var errs error
	for _, key := range candidates {
		ok, err := c.EvictIdle(key)
		errs = multierr.Append(errs, err)
		if ok {
			evicted = append(evicted, key)
		}
	}

	errs = multierr.Append(errs, c.pruneTemp(cutoff))

	return evicted, errs
}

// pruneTemp removes scratch directories left behind by crashed builds and by
// --no-cache runs that replaced themselves with the program
func (c *Cache) pruneTemp(cutoff time.Time) error {
	dirs, err := os.ReadDir(filepath.Join(c.root, tmpDir))
	if err != nil {
		return nil
	}

	var errs error
	for _, d := range dirs {
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		errs = multierr.Append(errs, os.RemoveAll(filepath.Join(c.root, tmpDir, d.Name())))
	}

	return errs
}

// Clear removes all cache entries and executables
func (c *Cache) Clear() error {
	// Clear BoltDB
	err := c.withIndex(false, func(b *bbolt.Bucket) error {
		return b.Tx().DeleteBucket([]byte(bucketName))
	})
	if err != nil {
		return err
	}

	// Remove executables; a process that already looked one up falls back to
	// a rebuild when it is gone
	bin := filepath.Join(c.root, binDir)
	if err := os.RemoveAll(bin); err != nil {
		return fmt.Errorf("failed to remove executables: %w", err)
	}

	return os.MkdirAll(bin, 0o755)
}

func (c *Cache) putEntry(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return c.withIndex(false, func(b *bbolt.Bucket) error {
		return b.Put([]byte(entry.Key), data)
	})
}

func (c *Cache) deleteEntry(key string) error {
	return c.withIndex(false, func(b *bbolt.Bucket) error {
		return b.Delete([]byte(key))
	})
}

// withIndex opens the index, runs fn in a transaction on the entries bucket
// and closes the index again. A read on a cache that has no index yet is a
// no-op.
func (c *Cache) withIndex(readOnly bool, fn func(b *bbolt.Bucket) error) (err error) {
	path := filepath.Join(c.root, indexFile)

	if readOnly {
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			return nil
		}
	}

	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: indexTimeout, ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("failed to open cache index: %w", err)
	}

	defer func() {
		err = multierr.Append(err, db.Close())
	}()

	if readOnly {
		return db.View(func(tx *bbolt.Tx) error {
			b := tx.Bucket([]byte(bucketName))
			if b == nil {
				return nil
			}

			return fn(b)
		})
	}

	return db.Update(func(tx *bbolt.Tx) error {
		// Create bucket if it doesn't exist
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}

		return fn(b)
	})
}
