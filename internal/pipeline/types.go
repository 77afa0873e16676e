// Package pipeline implements the Pipeline Compiler: it loads the root
// pipeline file, resolves includes, merges defaults and extends:,
// resolves variables and rules, and produces an immutable Config of
// compiled Jobs.
//
// It is intended for internal use by gitlab-local-pipeline only.
package pipeline

import "github.com/firecow/gitlab-local-pipeline/internal/variable"

// DefaultStages is used when a pipeline file declares no stages:.
var DefaultStages = []string{".pre", "build", "test", "deploy", ".post"}

// reservedNames may never be used as a job name.
var reservedNames = map[string]bool{
	"include": true, "image": true, "services": true, "stages": true,
	"types": true, "before_script": true, "default": true,
	"after_script": true, "variables": true, "cache": true,
	"workflow": true, "pages": true,
}

// Image is a job's optional container image.
type Image struct {
	Name       string
	Entrypoint []string
}

// Cache describes a keyed host-side directory bound into the container.
type Cache struct {
	Key   string // empty when keyed by Files
	Files []string
	Paths []string
}

// Artifacts describes files produced by a job for downstream
// consumption.
type Artifacts struct {
	Paths []string
}

// RuleSpec is the as-parsed form of one `rules:` entry, before
// evaluation (see internal/rule.Rule for the evaluated shape it maps
// onto).
type RuleSpec struct {
	If           string
	When         string
	HasWhen      bool
	AllowFailure bool
	HasAllow     bool
}

// Job is an immutable, compiled job descriptor.
type Job struct {
	Name  string
	Stage string

	Image *Image

	Scripts       []string
	BeforeScripts []string
	AfterScripts  []string

	Needs    []string
	HasNeeds bool

	Rules []RuleSpec

	Artifacts Artifacts
	Cache     *Cache

	Variables variable.Scope

	Interactive    bool
	InjectSSHAgent bool

	Coverage string

	When         string
	AllowFailure bool
}

// Config is the fully compiled pipeline.
type Config struct {
	Stages []string

	GlobalVariables variable.Scope

	DefaultImage         *Image
	DefaultCache         *Cache
	DefaultBeforeScripts []string
	DefaultAfterScripts  []string

	Jobs map[string]*Job

	// JobOrder lists job names sorted by (stage index, name) for stable,
	// deterministic iteration.
	JobOrder []string
}

// StageIndex returns the position of stage in c.Stages, or -1.
func (c *Config) StageIndex(stage string) int {
	for i, s := range c.Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

func isTemplateName(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

func isReservedName(name string) bool {
	return reservedNames[name]
}
