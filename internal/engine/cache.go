package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/firecow/gitlab-local-pipeline/internal/pipeline"
)

// withCacheLock serializes every access to one cache key's host
// directory across concurrently running jobs, then runs fn while
// holding it. A cache keyed by `files:` rather than a literal string
// has no stable host directory yet and runs unlocked.
func (e *Engine) withCacheLock(ctx context.Context, cache *pipeline.Cache, fn func() error) error {
	if cache == nil || cache.Key == "" {
		return fn()
	}
	lock, err := e.acquireCacheLock(ctx, cache.Key)
	if err != nil {
		return fmt.Errorf("engine: acquiring cache lock for %q: %w", cache.Key, err)
	}
	defer lock.Unlock()
	return fn()
}

// restoreCache copies each cache.paths entry from the shared host cache
// directory into the shell-mode workspace before scripts run. Missing
// cache content is not an error: a job's first run always starts cold.
func (e *Engine) restoreCache(job *pipeline.Job, ws *workspace) error {
	if job.Cache == nil || job.Cache.Key == "" {
		return nil
	}
	for _, path := range job.Cache.Paths {
		src := filepath.Join(e.opts.CacheRoot, job.Cache.Key, path)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyTree(src, filepath.Join(ws.buildDir, path)); err != nil {
			return fmt.Errorf("engine: restoring cache path %q: %w", path, err)
		}
	}
	return nil
}

// saveCache copies each cache.paths entry from the shell-mode workspace
// back to the shared host cache directory after scripts run.
func (e *Engine) saveCache(job *pipeline.Job, ws *workspace) error {
	if job.Cache == nil || job.Cache.Key == "" {
		return nil
	}
	for _, path := range job.Cache.Paths {
		src := filepath.Join(ws.buildDir, path)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		dst := filepath.Join(e.opts.CacheRoot, job.Cache.Key, path)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := copyTree(src, dst); err != nil {
			return fmt.Errorf("engine: saving cache path %q: %w", path, err)
		}
	}
	return nil
}
