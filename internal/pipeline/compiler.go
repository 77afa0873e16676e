package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/firecow/gitlab-local-pipeline/internal/gitinfo"
	"github.com/firecow/gitlab-local-pipeline/internal/rule"
	"github.com/firecow/gitlab-local-pipeline/internal/variable"
)

// CompileOptions are the inputs the CLI collects and hands to Compile.
type CompileOptions struct {
	Cwd         string
	RootFile    string
	PipelineIID int
}

// Compile loads the root pipeline file, resolves includes and extends,
// and produces a fully validated, immutable Config.
func Compile(ctx context.Context, opts CompileOptions) (*Config, error) {
	rootFile := opts.RootFile
	if rootFile == "" {
		rootFile = ".gitlab-ci.yml"
	}
	if !filepath.IsAbs(rootFile) {
		rootFile = filepath.Join(opts.Cwd, rootFile)
	}

	data, err := os.ReadFile(rootFile)
	if err != nil {
		return nil, errors.Wrapf(err, "pipeline: reading %s", rootFile)
	}

	root, err := parseRawDoc(data)
	if err != nil {
		return nil, err
	}

	merged, err := resolveIncludes(ctx, opts.Cwd, root)
	if err != nil {
		return nil, err
	}

	resolvedJobs, err := resolveExtends(merged.Jobs)
	if err != nil {
		return nil, err
	}

	git, err := gitinfo.Probe(ctx, opts.Cwd)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: git probe")
	}

	stages := merged.Stages
	if len(stages) == 0 {
		stages = append([]string{}, DefaultStages...)
	}
	if dup := firstDuplicate(stages); dup != "" {
		return nil, fmt.Errorf("pipeline: duplicate stage name %q", dup)
	}

	envScope := variable.FromMap(envAsMap())
	globalVars := toVariableScope(merged.Variables)

	cfg := &Config{
		Stages:          stages,
		GlobalVariables: globalVars,
		Jobs:            make(map[string]*Job),
	}

	if merged.Default != nil {
		cfg.DefaultImage = parseImage(merged.Default.Image)
		cfg.DefaultBeforeScripts = toStringSlice(merged.Default.BeforeScript)
		cfg.DefaultAfterScripts = toStringSlice(merged.Default.AfterScript)
		if merged.Default.Cache != nil {
			cfg.DefaultCache = buildCache(merged.Default.Cache)
		}
	}

	var jobNames []string
	for name := range resolvedJobs {
		if isTemplateName(name) || isReservedName(name) {
			continue
		}
		jobNames = append(jobNames, name)
	}
	sort.Strings(jobNames)

	for idx, name := range jobNames {
		predefined := Predefined(PredefinedInput{
			Git:         git,
			ProjectDir:  opts.Cwd,
			PipelineIID: opts.PipelineIID,
			JobName:     name,
			JobStage:    firstNonEmpty(resolvedJobs[name].Stage, "test"),
			JobID:       fmt.Sprintf("%d", opts.PipelineIID*1000+idx),
		})
		job, err := compileJob(name, resolvedJobs[name], cfg, envScope, predefined)
		if err != nil {
			return nil, err
		}
		cfg.Jobs[name] = job
	}

	if err := validateNeeds(cfg); err != nil {
		return nil, err
	}
	if err := validateStages(cfg); err != nil {
		return nil, err
	}

	cfg.JobOrder = sortedJobNames(cfg)

	return cfg, nil
}

func compileJob(name string, rj *rawJob, cfg *Config, envScope, predefined variable.Scope) (*Job, error) {
	stage := rj.Stage
	if stage == "" {
		stage = "test"
	}

	image := parseImage(rj.Image)
	if image == nil {
		image = cfg.DefaultImage
	}

	scripts := toStringSlice(rj.Script)
	before := toStringSlice(rj.BeforeScript)
	if before == nil {
		before = cfg.DefaultBeforeScripts
	}
	after := toStringSlice(rj.AfterScript)
	if after == nil {
		after = cfg.DefaultAfterScripts
	}

	var needs []string
	hasNeeds := rj.Needs != nil
	if hasNeeds {
		needs = toStringSlice(rj.Needs)
	}

	var artifacts Artifacts
	if rj.Artifacts != nil {
		artifacts.Paths = rj.Artifacts.Paths
	}

	cache := cfg.DefaultCache
	if rj.Cache != nil {
		cache = buildCache(rj.Cache)
	}

	localVars := toVariableScope(rj.Variables)
	// Scope composition order, later wins: process environment,
	// predefined, project-level (folded into predefined), global
	// variables:, job-local variables:.
	jobScope := variable.Merge(envScope, predefined, cfg.GlobalVariables, localVars)

	job := &Job{
		Name:           name,
		Stage:          stage,
		Image:          image,
		Scripts:        scripts,
		BeforeScripts:  before,
		AfterScripts:   after,
		Needs:          needs,
		HasNeeds:       hasNeeds,
		Artifacts:      artifacts,
		Cache:          cache,
		Variables:      jobScope,
		Interactive:    rj.Interactive,
		InjectSSHAgent: rj.InjectSSHAgent,
		Coverage:       rj.Coverage,
	}

	for _, rr := range rj.Rules {
		job.Rules = append(job.Rules, RuleSpec{
			If: rr.If, When: rr.When, HasWhen: rr.HasWhen,
			AllowFailure: rr.AllowFailure, HasAllow: rr.HasAllow,
		})
	}

	ruleInput := make([]rule.Rule, 0, len(job.Rules))
	for _, rs := range job.Rules {
		ruleInput = append(ruleInput, rule.Rule{
			If: rs.If, When: rs.When, HasWhen: rs.HasWhen,
			AllowFailure: rs.AllowFailure, HasAllow: rs.HasAllow,
		})
	}
	if len(ruleInput) > 0 {
		outcome, err := rule.Evaluate(ruleInput, jobScope)
		if err != nil {
			return nil, fmt.Errorf("pipeline: job %q: %w", name, err)
		}
		job.When = outcome.When
		job.AllowFailure = outcome.AllowFailure
	} else {
		job.When = "on_success"
		if rj.HasWhen {
			job.When = rj.When
		}
		job.AllowFailure = rj.AllowFailure
	}

	if err := validateJobInvariants(job); err != nil {
		return nil, err
	}

	return job, nil
}

func buildCache(rc *rawCache) *Cache {
	c := &Cache{Paths: rc.Paths}
	switch k := rc.Key.(type) {
	case string:
		c.Key = k
	case map[string]interface{}:
		c.Files = toStringSlice(k["files"])
	}
	return c
}

func toVariableScope(m map[string]interface{}) variable.Scope {
	if m == nil {
		return variable.Scope{}
	}
	return variable.Scope(toStringMap(m))
}

func envAsMap() map[string]string {
	m := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstDuplicate(items []string) string {
	seen := map[string]bool{}
	for _, s := range items {
		if seen[s] {
			return s
		}
		seen[s] = true
	}
	return ""
}

func sortedJobNames(cfg *Config) []string {
	names := make([]string, 0, len(cfg.Jobs))
	for name := range cfg.Jobs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		si := cfg.StageIndex(cfg.Jobs[names[i]].Stage)
		sj := cfg.StageIndex(cfg.Jobs[names[j]].Stage)
		if si != sj {
			return si < sj
		}
		return names[i] < names[j]
	})
	return names
}
