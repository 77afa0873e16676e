// Package cachelock provides a cross-process advisory lock guarding one
// cache key's host directory while a job is populating or restoring it.
package cachelock

import (
	"context"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

const retryDelay = 500 * time.Millisecond

// Unlocker is returned by Acquire; call Unlock when the caller is done
// with the cache directory.
type Unlocker interface {
	Unlock() error
}

// Acquire blocks (honoring ctx) until it holds an exclusive lock over
// the given cache key, or returns an error wrapping ctx.Err() if the
// context is done first. root is the lock directory, typically
// /tmp/gitlab-ci-local/cache.
func Acquire(ctx context.Context, root, key string) (Unlocker, error) {
	path, err := filepath.Abs(filepath.Join(root, key+".lock"))
	if err != nil {
		return nil, errors.Wrapf(err, "cachelock: resolving lock path for %q", key)
	}

	lock := flock.New(path)

	gotLock, err := lock.TryLockContext(ctx, retryDelay)
	if err != nil {
		return nil, errors.Wrapf(err, "cachelock: acquiring lock for %q", key)
	}
	if !gotLock {
		return nil, errors.Errorf("cachelock: could not acquire lock for %q", key)
	}
	return lock, nil
}
