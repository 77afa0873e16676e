// Package scheduler implements the DAG Scheduler: it computes
// predecessors from stage order and explicit needs:, dispatches
// eligible jobs concurrently in lexicographically ordered waves, and
// propagates allow_failure-predecessor semantics. JobRuns are kept in
// an xsync.MapOf so the goroutine running each Job can flip its own
// state without a global mutex.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/firecow/gitlab-local-pipeline/internal/pipeline"
)

// Status is a JobRun's terminal or in-flight state.
type Status int

const (
	Pending Status = iota
	Eligible
	Running
	Succeeded
	Failed
	Skipped
	Manual
	WarnedFailure
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Eligible:
		return "Eligible"
	case Running:
		return "Running"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	case Skipped:
		return "Skipped"
	case Manual:
		return "Manual"
	case WarnedFailure:
		return "WarnedFailure"
	}
	return "Unknown"
}

func (s Status) terminal() bool {
	switch s {
	case Succeeded, Failed, Skipped, WarnedFailure, Manual:
		return true
	}
	return false
}

func (s Status) blocking() bool {
	return s == Failed
}

// JobRun is the mutable runtime state tracked for one compiled Job
// across a single invocation.
type JobRun struct {
	mu sync.Mutex

	Job *pipeline.Job

	status Status

	PrescriptExitCode   *int
	AfterScriptExitCode *int
	CoveragePercent     *float64

	ContainerID          string
	ArtifactsContainerID string
	VolumeID             string

	StartTime time.Time
}

// Status returns the JobRun's current state.
func (r *JobRun) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *JobRun) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// Runner executes one Job to completion and reports its terminal
// status. Implemented by internal/engine.Engine; kept as an interface
// here so the scheduler has no import-time dependency on container or
// shell execution details.
type Runner interface {
	Run(ctx context.Context, run *JobRun) (Status, error)
}

type predecessorsCtxKey struct{}

// withPredecessors attaches name's resolved predecessor job names to
// ctx so a Runner can stage their artifacts without importing the
// Scheduler's own predecessor-computation logic.
func withPredecessors(ctx context.Context, names []string) context.Context {
	return context.WithValue(ctx, predecessorsCtxKey{}, names)
}

// PredecessorsFrom returns the predecessor job names the Scheduler
// resolved for the Job currently running under ctx, as passed to
// Runner.Run.
func PredecessorsFrom(ctx context.Context) []string {
	names, _ := ctx.Value(predecessorsCtxKey{}).([]string)
	return names
}

// Options configures one scheduling run.
type Options struct {
	// Selected restricts execution to these job names. Empty means all
	// jobs in cfg.
	Selected []string
	// Needs, when true, closes Selected transitively over predecessors.
	Needs bool
	// Parallelism bounds concurrent Running jobs; 0 means unbounded
	// (sized to the selection count).
	Parallelism int
}

// Scheduler owns every JobRun for the lifetime of one invocation.
type Scheduler struct {
	cfg    *pipeline.Config
	runner Runner
	runs   *xsync.MapOf[string, *JobRun]
}

// New builds a Scheduler with one JobRun per Job in cfg.
func New(cfg *pipeline.Config, runner Runner) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		runner: runner,
		runs:   xsync.NewMapOf[*JobRun](),
	}
	for name, job := range cfg.Jobs {
		s.runs.Store(name, &JobRun{Job: job, status: Pending})
	}
	return s
}

// Run resolves the selection, computes predecessors, and dispatches
// eligible jobs wave by wave until no job is Running or Eligible. It
// returns the exit status the CLI should use: nil iff every selected
// job finished in {Succeeded, WarnedFailure, Skipped, Manual}, or in
// Failed with allow_failure set.
func (s *Scheduler) Run(ctx context.Context, opts Options) error {
	selected, err := s.resolveSelection(opts)
	if err != nil {
		return err
	}

	predecessors := s.computePredecessors(selected)

	for _, name := range selected {
		run, _ := s.runs.Load(name)
		switch {
		case run.Job.When == "never":
			run.setStatus(Skipped)
		case run.Job.When == "manual" && !contains(opts.Selected, name):
			// Not explicitly requested: a manual job waits for a human
			// and never auto-dispatches, so it resolves immediately to
			// a terminal, non-blocking Manual status.
			run.setStatus(Manual)
		}
	}

	limit := opts.Parallelism
	if limit <= 0 {
		limit = len(selected)
	}
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	for {
		wave := s.nextWave(selected, predecessors)
		if len(wave) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, name := range wave {
			run, _ := s.runs.Load(name)
			run.setStatus(Running)
			wg.Add(1)
			sem <- struct{}{}
			jobCtx := withPredecessors(ctx, predecessors[name])
			go func(name string, run *JobRun, jobCtx context.Context) {
				defer wg.Done()
				defer func() { <-sem }()
				status, _ := s.runner.Run(jobCtx, run)
				run.setStatus(status)
			}(name, run, jobCtx)
		}
		wg.Wait()

		if !s.anyRunningOrEligible(selected, predecessors) && !s.waveMadeProgress(selected) {
			break
		}
	}

	for _, name := range selected {
		run, _ := s.runs.Load(name)
		if run.Status() == Failed && run.Job.AllowFailure {
			continue
		}
		switch run.Status() {
		case Succeeded, WarnedFailure, Skipped, Manual:
		default:
			return fmt.Errorf("scheduler: job %q finished in non-passing state %s", name, run.Status())
		}
	}
	return nil
}

// JobRun returns the tracked runtime state for name, if any.
func (s *Scheduler) JobRun(name string) (*JobRun, bool) {
	return s.runs.Load(name)
}

func (s *Scheduler) resolveSelection(opts Options) ([]string, error) {
	if len(opts.Selected) == 0 {
		names := make([]string, 0, len(s.cfg.Jobs))
		for name := range s.cfg.Jobs {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	}

	for _, name := range opts.Selected {
		if _, ok := s.cfg.Jobs[name]; !ok {
			return nil, fmt.Errorf("scheduler: selected job %q not found", name)
		}
	}

	if !opts.Needs {
		// Predecessors outside the selection are not run and are not
		// passed to the Runner, so their artifacts are not staged;
		// nothing checks whether those artifacts exist on disk.
		out := append([]string{}, opts.Selected...)
		sort.Strings(out)
		return out, nil
	}

	closure := map[string]bool{}
	var visit func(name string)
	visit = func(name string) {
		if closure[name] {
			return
		}
		closure[name] = true
		for _, pred := range s.directPredecessors(name) {
			visit(pred)
		}
	}
	for _, name := range opts.Selected {
		visit(name)
	}

	out := make([]string, 0, len(closure))
	for name := range closure {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Scheduler) directPredecessors(name string) []string {
	job := s.cfg.Jobs[name]
	if job.HasNeeds {
		return job.Needs
	}
	myStage := s.cfg.StageIndex(job.Stage)
	var preds []string
	for other, j := range s.cfg.Jobs {
		if other == name {
			continue
		}
		if s.cfg.StageIndex(j.Stage) < myStage {
			preds = append(preds, other)
		}
	}
	return preds
}

func (s *Scheduler) computePredecessors(selected []string) map[string][]string {
	set := map[string]bool{}
	for _, name := range selected {
		set[name] = true
	}
	preds := map[string][]string{}
	for _, name := range selected {
		var in []string
		for _, p := range s.directPredecessors(name) {
			if set[p] {
				in = append(in, p)
			}
		}
		preds[name] = in
	}
	return preds
}

// nextWave returns the lexicographically sorted set of currently
// Pending jobs whose predecessors are all terminal and non-blocking.
func (s *Scheduler) nextWave(selected []string, preds map[string][]string) []string {
	var wave []string
	for _, name := range selected {
		run, _ := s.runs.Load(name)
		if run.Status() != Pending {
			continue
		}
		if s.eligible(name, preds) {
			wave = append(wave, name)
		}
	}
	sort.Strings(wave)
	return wave
}

func (s *Scheduler) eligible(name string, preds map[string][]string) bool {
	for _, p := range preds[name] {
		predRun, _ := s.runs.Load(p)
		st := predRun.Status()
		if !st.terminal() {
			return false
		}
		if st.blocking() && !predRun.Job.AllowFailure {
			run, _ := s.runs.Load(name)
			run.setStatus(Skipped)
			return false
		}
	}
	return true
}

func (s *Scheduler) anyRunningOrEligible(selected []string, preds map[string][]string) bool {
	for _, name := range selected {
		run, _ := s.runs.Load(name)
		if run.Status() == Running {
			return true
		}
	}
	return len(s.nextWave(selected, preds)) > 0
}

func (s *Scheduler) waveMadeProgress(selected []string) bool {
	for _, name := range selected {
		run, _ := s.runs.Load(name)
		if run.Status() == Pending {
			return true
		}
	}
	return false
}

func contains(items []string, target string) bool {
	for _, i := range items {
		if i == target {
			return true
		}
	}
	return false
}
