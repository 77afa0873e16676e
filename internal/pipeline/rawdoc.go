package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// rawDoc is the as-parsed shape of one pipeline YAML file (root or
// include). GitLab's schema lets several fields be either a bare scalar
// or a list (script:, needs:, cache.key, image:, include:), so those
// fields are decoded as interface{} and normalized by the helpers
// below, which remarshal each top-level value into a typed struct
// rather than hand-rolling a custom yaml.Unmarshaler per field.
type rawDoc struct {
	Stages    []string               `yaml:"stages"`
	Variables map[string]interface{} `yaml:"variables"`
	Include   interface{}            `yaml:"include"`
	Default   *rawJob                `yaml:"default"`

	Jobs map[string]*rawJob `yaml:"-"`
}

type rawJob struct {
	Stage string      `yaml:"stage"`
	Image interface{} `yaml:"image"`

	Script       interface{} `yaml:"script"`
	BeforeScript interface{} `yaml:"before_script"`
	AfterScript  interface{} `yaml:"after_script"`

	Needs interface{} `yaml:"needs"`

	Rules []rawRule `yaml:"rules"`

	Artifacts *rawArtifacts `yaml:"artifacts"`
	Cache     *rawCache     `yaml:"cache"`

	Variables map[string]interface{} `yaml:"variables"`

	Extends interface{} `yaml:"extends"`

	Interactive    bool   `yaml:"interactive"`
	InjectSSHAgent bool   `yaml:"injectSSHAgent"`
	Coverage       string `yaml:"coverage"`

	When         string `yaml:"when"`
	HasWhen      bool   `yaml:"-"`
	AllowFailure bool   `yaml:"allow_failure"`
	HasAllow     bool   `yaml:"-"`
}

type rawRule struct {
	If           string `yaml:"if"`
	When         string `yaml:"when"`
	AllowFailure bool   `yaml:"allow_failure"`
	HasWhen      bool   `yaml:"-"`
	HasAllow     bool   `yaml:"-"`
}

type rawArtifacts struct {
	Paths []string `yaml:"paths"`
}

type rawCache struct {
	Key   interface{} `yaml:"key"`
	Paths []string    `yaml:"paths"`
}

type rawImage struct {
	Name       string   `yaml:"name"`
	Entrypoint []string `yaml:"entrypoint"`
}

// parseRawDoc decodes one YAML document into a rawDoc, splitting
// top-level keys into known pipeline-level fields versus job/template
// definitions.
func parseRawDoc(data []byte) (*rawDoc, error) {
	var generic map[string]interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("pipeline: invalid yaml: %w", err)
	}

	doc := &rawDoc{Jobs: make(map[string]*rawJob)}

	for key, value := range generic {
		switch key {
		case "stages":
			doc.Stages = toStringSlice(value)
		case "variables":
			doc.Variables, _ = value.(map[string]interface{})
		case "include":
			doc.Include = value
		case "default":
			job, err := remarshalJob(value)
			if err != nil {
				return nil, fmt.Errorf("pipeline: default: %w", err)
			}
			doc.Default = job
		case "image", "services", "workflow", "pages":
			// Recognized but not modeled beyond default image, which
			// is read from generic["image"] after this loop.
			continue
		default:
			if isReservedName(key) {
				continue
			}
			job, err := remarshalJob(value)
			if err != nil {
				return nil, fmt.Errorf("pipeline: job %q: %w", key, err)
			}
			doc.Jobs[key] = job
		}
	}

	if raw, ok := generic["image"]; ok {
		doc.Default = ensureDefault(doc.Default)
		doc.Default.Image = raw
	}
	if raw, ok := generic["before_script"]; ok {
		doc.Default = ensureDefault(doc.Default)
		doc.Default.BeforeScript = raw
	}
	if raw, ok := generic["after_script"]; ok {
		doc.Default = ensureDefault(doc.Default)
		doc.Default.AfterScript = raw
	}
	if raw, ok := generic["cache"]; ok {
		cache, err := remarshalCache(raw)
		if err != nil {
			return nil, err
		}
		doc.Default = ensureDefault(doc.Default)
		doc.Default.Cache = cache
	}

	return doc, nil
}

func ensureDefault(d *rawJob) *rawJob {
	if d == nil {
		return &rawJob{}
	}
	return d
}

func remarshalJob(value interface{}) (*rawJob, error) {
	b, err := yaml.Marshal(value)
	if err != nil {
		return nil, err
	}
	var job rawJob
	if err := yaml.Unmarshal(b, &job); err != nil {
		return nil, err
	}
	m, _ := value.(map[string]interface{})
	if _, ok := m["when"]; ok {
		job.HasWhen = true
	}
	if _, ok := m["allow_failure"]; ok {
		job.HasAllow = true
	}
	if rawRules, ok := m["rules"].([]interface{}); ok {
		for i, rr := range rawRules {
			rm, ok := rr.(map[string]interface{})
			if !ok || i >= len(job.Rules) {
				continue
			}
			if _, ok := rm["when"]; ok {
				job.Rules[i].HasWhen = true
			}
			if _, ok := rm["allow_failure"]; ok {
				job.Rules[i].HasAllow = true
			}
		}
	}
	return &job, nil
}

func remarshalCache(value interface{}) (*rawCache, error) {
	b, err := yaml.Marshal(value)
	if err != nil {
		return nil, err
	}
	var c rawCache
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// toStringSlice normalizes a scalar-or-list YAML value into a []string.
func toStringSlice(v interface{}) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []string{val}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	default:
		return nil
	}
}

// toStringMap normalizes a variables: map whose values may have been
// decoded as non-string scalars (e.g. YAML booleans/numbers).
func toStringMap(v map[string]interface{}) map[string]string {
	out := make(map[string]string, len(v))
	for k, val := range v {
		out[k] = fmt.Sprintf("%v", val)
	}
	return out
}

func parseImage(v interface{}) *Image {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return &Image{Name: normalizeImageTag(val)}
	case map[string]interface{}:
		b, err := yaml.Marshal(val)
		if err != nil {
			return nil
		}
		var ri rawImage
		if err := yaml.Unmarshal(b, &ri); err != nil {
			return nil
		}
		return &Image{Name: normalizeImageTag(ri.Name), Entrypoint: ri.Entrypoint}
	default:
		return nil
	}
}

func normalizeImageTag(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		switch name[i] {
		case ':':
			return name
		case '/':
			return name + ":latest"
		}
	}
	return name + ":latest"
}
