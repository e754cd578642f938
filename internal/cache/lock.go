package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a waiting process polls a held lock
const lockRetryDelay = 25 * time.Millisecond

// ErrLockAcquisition is returned when the lock file cannot be created or locked.
// It is never bypassed: building without the lock could run two compilations
// of the same key.
var ErrLockAcquisition = errors.New("failed to acquire build lock")

// Lock is an exclusive per-key build lock. It is an flock(2) lock, so the
// kernel releases it when the holding process exits for any reason.
// Lock files are never removed: deleting one while another process waits on
// it would let a third process lock a fresh inode and build concurrently.
type Lock struct {
	fl  *flock.Flock
	key string
}

// Lock blocks until the build lock for key is held or ctx is done.
// There is no timeout: builds take as long as they take.
func (c *Cache) Lock(ctx context.Context, key string) (*Lock, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	fl := c.newFlock(key)
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, fmt.Errorf("%w: %s: %w", ErrLockAcquisition, fl.Path(), err)
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockAcquisition, fl.Path())
	}

	return &Lock{fl: fl, key: key}, nil
}

// TryLock takes the build lock for key without waiting.
// It returns nil and no error when another process holds it.
func (c *Cache) TryLock(key string) (*Lock, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	fl := c.newFlock(key)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLockAcquisition, fl.Path(), err)
	}

	if !ok {
		return nil, nil
	}

	return &Lock{fl: fl, key: key}, nil
}

// Key returns the build key the lock protects
func (l *Lock) Key() string {
	return l.key
}

// Unlock releases the lock and closes the lock file
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}

func (c *Cache) newFlock(key string) *flock.Flock {
	return flock.New(filepath.Join(c.root, lockDir, key+".lock"), flock.SetPermissions(0o644))
}
