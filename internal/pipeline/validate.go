package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// validateJobInvariants enforces cross-field constraints: interactive
// implies when=="manual" and no image; injectSSHAgent implies an image
// is set.
func validateJobInvariants(j *Job) error {
	if j.Interactive {
		if j.When != "manual" {
			return fmt.Errorf("pipeline: job %q is interactive but when is %q, must be \"manual\"", j.Name, j.When)
		}
		if j.Image != nil {
			return fmt.Errorf("pipeline: job %q is interactive and cannot also declare an image", j.Name)
		}
	}
	if j.InjectSSHAgent && j.Image == nil {
		return fmt.Errorf("pipeline: job %q sets injectSSHAgent but declares no image", j.Name)
	}
	return nil
}

// validateNeeds ensures every explicit needs: target names a real,
// compiled job.
func validateNeeds(cfg *Config) error {
	for name, job := range cfg.Jobs {
		if !job.HasNeeds {
			continue
		}
		var missing []string
		for _, need := range job.Needs {
			if _, ok := cfg.Jobs[need]; !ok {
				missing = append(missing, need)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("[ %s ] jobs are needed by %s, but they cannot be found", strings.Join(missing, ", "), name)
		}
	}
	return nil
}

// validateStages ensures every job's stage exists in cfg.Stages.
func validateStages(cfg *Config) error {
	for name, job := range cfg.Jobs {
		if cfg.StageIndex(job.Stage) == -1 {
			return fmt.Errorf("pipeline: job %q declares unknown stage %q", name, job.Stage)
		}
	}
	return nil
}
