package pipeline

import "fmt"

// resolveExtends merges each job's extends: chain, base jobs resolved
// before derived ones. A list means merge in order, later wins; the
// job's own fields always win over anything it extends.
func resolveExtends(jobs map[string]*rawJob) (map[string]*rawJob, error) {
	resolved := make(map[string]*rawJob, len(jobs))
	visiting := map[string]bool{}

	var resolve func(name string) (*rawJob, error)
	resolve = func(name string) (*rawJob, error) {
		if r, ok := resolved[name]; ok {
			return r, nil
		}
		if visiting[name] {
			return nil, fmt.Errorf("pipeline: extends cycle detected at %q", name)
		}
		job, ok := jobs[name]
		if !ok {
			return nil, fmt.Errorf("pipeline: %q extends unknown job %q", name, name)
		}
		visiting[name] = true
		defer delete(visiting, name)

		bases := toStringSlice(job.Extends)
		merged := &rawJob{}
		for _, base := range bases {
			baseJob, err := resolve(base)
			if err != nil {
				return nil, err
			}
			merged = mergeRawJob(merged, baseJob)
		}
		merged = mergeRawJob(merged, job)
		resolved[name] = merged
		return merged, nil
	}

	for name := range jobs {
		if _, err := resolve(name); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// mergeRawJob shallow key-unions override over base: any field override
// sets takes precedence, the same merge rule applied to includes.
func mergeRawJob(base, override *rawJob) *rawJob {
	out := *base

	if override.Stage != "" {
		out.Stage = override.Stage
	}
	if override.Image != nil {
		out.Image = override.Image
	}
	if override.Script != nil {
		out.Script = override.Script
	}
	if override.BeforeScript != nil {
		out.BeforeScript = override.BeforeScript
	}
	if override.AfterScript != nil {
		out.AfterScript = override.AfterScript
	}
	if override.Needs != nil {
		out.Needs = override.Needs
	}
	if override.Rules != nil {
		out.Rules = override.Rules
	}
	if override.Artifacts != nil {
		out.Artifacts = override.Artifacts
	}
	if override.Cache != nil {
		out.Cache = override.Cache
	}
	if override.Variables != nil {
		merged := make(map[string]interface{}, len(base.Variables)+len(override.Variables))
		for k, v := range base.Variables {
			merged[k] = v
		}
		for k, v := range override.Variables {
			merged[k] = v
		}
		out.Variables = merged
	}
	if override.Coverage != "" {
		out.Coverage = override.Coverage
	}
	if override.HasWhen {
		out.When = override.When
		out.HasWhen = true
	}
	if override.HasAllow {
		out.AllowFailure = override.AllowFailure
		out.HasAllow = true
	}
	out.Interactive = base.Interactive || override.Interactive
	out.InjectSSHAgent = base.InjectSSHAgent || override.InjectSSHAgent

	return &out
}
