// Package engine implements the Job Engine: the per-Job state machine
// that provisions a shell workspace or container, stages predecessor
// artifacts, runs before/script/after phases, harvests artifacts and
// coverage, and guarantees cleanup on every exit path. Container
// operations shell out to the docker CLI rather than linking a Docker
// SDK.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/firecow/gitlab-local-pipeline/internal/cachelock"
	"github.com/firecow/gitlab-local-pipeline/internal/pipeline"
	"github.com/firecow/gitlab-local-pipeline/internal/process"
	"github.com/firecow/gitlab-local-pipeline/internal/safename"
	"github.com/firecow/gitlab-local-pipeline/internal/scheduler"
	"github.com/firecow/gitlab-local-pipeline/internal/sink"
)

// Options configures every Engine-managed Job in one invocation.
type Options struct {
	ProjectDir  string // the working tree being validated
	StateDir    string // .gitlab-ci-local, relative to ProjectDir
	CacheRoot   string // /tmp/gitlab-ci-local/cache
	Sink        *sink.Sink
	Privileged  bool
	ExtraHosts  []string
	HomeDir     string
	SilenceWait time.Duration
}

// Engine runs one Job to completion per call to Run. It implements
// scheduler.Runner.
type Engine struct {
	opts Options
}

// New builds an Engine sharing Options across every Job it is asked to
// run.
func New(opts Options) *Engine {
	if opts.SilenceWait <= 0 {
		opts.SilenceWait = 10 * time.Second
	}
	return &Engine{opts: opts}
}

// Run executes run.Job's full six-phase lifecycle and returns its
// terminal scheduler.Status.
func (e *Engine) Run(ctx context.Context, run *scheduler.JobRun) (scheduler.Status, error) {
	job := run.Job
	run.StartTime = time.Now()

	safe := safename.Safe(job.Name)
	ws, err := e.prepareWorkspace(ctx, job, safe)
	if err != nil {
		return scheduler.Failed, err
	}

	if err := e.stagePredecessorArtifacts(scheduler.PredecessorsFrom(ctx), ws); err != nil {
		return scheduler.Failed, err
	}

	if job.Image == nil {
		if err := e.withCacheLock(ctx, job.Cache, func() error { return e.restoreCache(job, ws) }); err != nil {
			return scheduler.Failed, err
		}
	}

	var container *containerHandle
	if job.Image != nil {
		container, err = e.createContainer(ctx, job, safe, run, ws)
		if err != nil {
			return scheduler.Failed, err
		}
	}

	defer func() {
		e.cleanup(context.Background(), run, container)
	}()

	var prescriptExit, afterExit int
	var runErr error
	cacheErr := e.withCacheLock(ctx, job.Cache, func() error {
		prescriptExit, afterExit, runErr = e.runScripts(ctx, job, safe, ws, container)
		if job.Image == nil {
			return e.saveCache(job, ws)
		}
		return nil
	})
	if cacheErr != nil {
		return scheduler.Failed, cacheErr
	}
	run.PrescriptExitCode = intPtr(prescriptExit)
	if job.AfterScripts != nil || afterExit != 0 {
		run.AfterScriptExitCode = intPtr(afterExit)
	}

	if err := e.extractArtifacts(ctx, job, safe, ws, container); err != nil {
		// Artifact extraction failures are surfaced but do not
		// override the job's own exit status.
		fmt.Fprintf(os.Stderr, "engine: %s: artifact extraction: %v\n", job.Name, err)
	}

	if job.Coverage != "" {
		pct, err := extractCoverage(ws.logPath, job.Coverage)
		if err == nil {
			run.CoveragePercent = pct
		}
	}

	switch {
	case runErr != nil && !job.AllowFailure:
		return scheduler.Failed, runErr
	case runErr != nil && job.AllowFailure:
		return scheduler.WarnedFailure, nil
	case prescriptExit != 0 && job.AllowFailure:
		return scheduler.WarnedFailure, nil
	case prescriptExit != 0:
		return scheduler.Failed, fmt.Errorf("engine: %s: prescript exited %d", job.Name, prescriptExit)
	default:
		return scheduler.Succeeded, nil
	}
}

type workspace struct {
	buildDir string // either the rsynced tree (shell mode) or the host-side staging dir mirrored to /builds
	logPath  string
}

// prepareWorkspace truncates the job's log file and, when no image is
// declared, rsyncs the working tree into
// .gitlab-ci-local/builds/<safe-name>/ honoring .gitignore.
func (e *Engine) prepareWorkspace(ctx context.Context, job *pipeline.Job, safe string) (*workspace, error) {
	outputDir := filepath.Join(e.opts.ProjectDir, e.opts.StateDir, "output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating output dir: %w", err)
	}
	logPath := filepath.Join(outputDir, safe+".log")
	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		return nil, fmt.Errorf("engine: truncating log %s: %w", logPath, err)
	}

	buildDir := filepath.Join(e.opts.ProjectDir, e.opts.StateDir, "builds", safe)

	if job.Image == nil {
		if err := os.MkdirAll(buildDir, 0o755); err != nil {
			return nil, fmt.Errorf("engine: creating build dir: %w", err)
		}
		cmd := fmt.Sprintf(
			"rsync -a --delete --exclude=.git --exclude=%s --filter=':- .gitignore' %s/ %s/",
			shQuote(e.opts.StateDir), shQuote(e.opts.ProjectDir), shQuote(buildDir),
		)
		if _, err := process.Spawn(ctx, process.Config{Cmd: cmd}); err != nil {
			return nil, fmt.Errorf("engine: rsyncing workspace for %s: %w", job.Name, err)
		}
	}

	return &workspace{buildDir: buildDir, logPath: logPath}, nil
}

// stagePredecessorArtifacts copies each named predecessor's extracted
// artifact directory into this job's workspace.
func (e *Engine) stagePredecessorArtifacts(predecessors []string, ws *workspace) error {
	artifactsRoot := filepath.Join(e.opts.ProjectDir, e.opts.StateDir, "artifacts")
	for _, name := range predecessors {
		src := filepath.Join(artifactsRoot, safename.Safe(name))
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyTree(src, ws.buildDir); err != nil {
			return fmt.Errorf("engine: staging artifacts from %q: %w", name, err)
		}
	}
	return nil
}

func (e *Engine) cleanup(ctx context.Context, run *scheduler.JobRun, c *containerHandle) {
	if c == nil {
		return
	}
	if c.containerID != "" {
		if _, err := process.Spawn(ctx, process.Config{Cmd: "docker rm -f " + shQuote(c.containerID)}); err != nil {
			fmt.Fprintf(os.Stderr, "engine: %s: removing container: %v\n", run.Job.Name, err)
		}
	}
	if c.artifactsContainerID != "" {
		if _, err := process.Spawn(ctx, process.Config{Cmd: "docker rm -f " + shQuote(c.artifactsContainerID)}); err != nil {
			fmt.Fprintf(os.Stderr, "engine: %s: removing artifacts container: %v\n", run.Job.Name, err)
		}
	}
	if c.volumeID != "" {
		if _, err := process.Spawn(ctx, process.Config{Cmd: "docker volume rm -f " + shQuote(c.volumeID)}); err != nil {
			fmt.Fprintf(os.Stderr, "engine: %s: removing volume: %v\n", run.Job.Name, err)
		}
	}
}

func intPtr(v int) *int { return &v }

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// acquireCacheLock serializes concurrent jobs sharing one cache key.
func (e *Engine) acquireCacheLock(ctx context.Context, key string) (cachelock.Unlocker, error) {
	return cachelock.Acquire(ctx, e.opts.CacheRoot, key)
}
