package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firecow/gitlab-local-pipeline/internal/pipeline"
)

// scriptedRunner resolves each job to a fixed status without touching
// the filesystem or spawning processes, so the scheduler's gating logic
// can be tested in isolation from the Job Engine.
type scriptedRunner struct {
	mu      sync.Mutex
	outcome map[string]Status
	ran     []string
}

func (r *scriptedRunner) Run(_ context.Context, run *JobRun) (Status, error) {
	r.mu.Lock()
	r.ran = append(r.ran, run.Job.Name)
	r.mu.Unlock()
	if st, ok := r.outcome[run.Job.Name]; ok {
		return st, nil
	}
	return Succeeded, nil
}

func cfgWithJobs(jobs map[string]*pipeline.Job) *pipeline.Config {
	return &pipeline.Config{
		Stages: pipeline.DefaultStages,
		Jobs:   jobs,
	}
}

func TestSchedulerRunsStageOrderedWaves(t *testing.T) {
	cfg := cfgWithJobs(map[string]*pipeline.Job{
		"build-job": {Name: "build-job", Stage: "build", When: "on_success"},
		"test-job":  {Name: "test-job", Stage: "test", When: "on_success"},
	})
	runner := &scriptedRunner{outcome: map[string]Status{}}
	s := New(cfg, runner)

	err := s.Run(context.Background(), Options{})
	require.NoError(t, err)

	buildRun, _ := s.JobRun("build-job")
	testRun, _ := s.JobRun("test-job")
	assert.Equal(t, Succeeded, buildRun.Status())
	assert.Equal(t, Succeeded, testRun.Status())
}

func TestSchedulerSkipsDependentsOfFailedPredecessor(t *testing.T) {
	cfg := cfgWithJobs(map[string]*pipeline.Job{
		"build-job": {Name: "build-job", Stage: "build", When: "on_success"},
		"test-job":  {Name: "test-job", Stage: "test", When: "on_success"},
	})
	runner := &scriptedRunner{outcome: map[string]Status{"build-job": Failed}}
	s := New(cfg, runner)

	err := s.Run(context.Background(), Options{})
	require.Error(t, err)

	testRun, _ := s.JobRun("test-job")
	assert.Equal(t, Skipped, testRun.Status())
}

func TestSchedulerTreatsAllowFailurePredecessorAsWarned(t *testing.T) {
	cfg := cfgWithJobs(map[string]*pipeline.Job{
		"build-job": {Name: "build-job", Stage: "build", When: "on_success", AllowFailure: true},
		"test-job":  {Name: "test-job", Stage: "test", When: "on_success"},
	})
	runner := &scriptedRunner{outcome: map[string]Status{"build-job": Failed}}
	s := New(cfg, runner)

	err := s.Run(context.Background(), Options{})
	require.NoError(t, err)

	buildRun, _ := s.JobRun("build-job")
	testRun, _ := s.JobRun("test-job")
	assert.Equal(t, Failed, buildRun.Status())
	assert.Equal(t, Succeeded, testRun.Status())
}

func TestSchedulerUnselectedManualJobResolvesImmediately(t *testing.T) {
	cfg := cfgWithJobs(map[string]*pipeline.Job{
		"deploy-job": {Name: "deploy-job", Stage: "deploy", When: "manual"},
	})
	runner := &scriptedRunner{outcome: map[string]Status{}}
	s := New(cfg, runner)

	err := s.Run(context.Background(), Options{})
	require.NoError(t, err)

	run, _ := s.JobRun("deploy-job")
	assert.Equal(t, Manual, run.Status())
	assert.Empty(t, runner.ran)
}

func TestSchedulerNeedsOverridesStageOrder(t *testing.T) {
	cfg := cfgWithJobs(map[string]*pipeline.Job{
		"build-job":  {Name: "build-job", Stage: "build", When: "on_success"},
		"other-job":  {Name: "other-job", Stage: "build", When: "on_success"},
		"deploy-job": {Name: "deploy-job", Stage: "deploy", When: "on_success", HasNeeds: true, Needs: []string{"build-job"}},
	})
	runner := &scriptedRunner{outcome: map[string]Status{}}
	s := New(cfg, runner)

	err := s.Run(context.Background(), Options{Selected: []string{"deploy-job"}, Needs: true})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"build-job", "deploy-job"}, runner.ran)
}
