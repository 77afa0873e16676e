package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/buildkite/roko"
	"github.com/firecow/gitlab-local-pipeline/internal/process"
)

// includeKind is one of the four flavors the Compiler resolves.
type includeKind int

const (
	includeLocal includeKind = iota
	includeRemote
	includeProject
	includeTemplate
)

type includeSpec struct {
	kind     includeKind
	local    string
	remote   string
	project  string
	ref      string
	file     string
	template string
}

func (s includeSpec) identity() string {
	switch s.kind {
	case includeLocal:
		return "local:" + s.local
	case includeRemote:
		return "remote:" + s.remote
	case includeProject:
		return fmt.Sprintf("project:%s@%s:%s", s.project, s.ref, s.file)
	case includeTemplate:
		return "template:" + s.template
	}
	return ""
}

// parseIncludeValue normalizes include:'s scalar/list/map forms into a
// flat list of includeSpecs.
func parseIncludeValue(v interface{}) ([]includeSpec, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []includeSpec{{kind: includeLocal, local: val}}, nil
	case []interface{}:
		var out []includeSpec
		for _, item := range val {
			specs, err := parseIncludeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, specs...)
		}
		return out, nil
	case map[string]interface{}:
		if local, ok := val["local"].(string); ok {
			return []includeSpec{{kind: includeLocal, local: local}}, nil
		}
		if remote, ok := val["remote"].(string); ok {
			return []includeSpec{{kind: includeRemote, remote: remote}}, nil
		}
		if tmpl, ok := val["template"].(string); ok {
			return []includeSpec{{kind: includeTemplate, template: tmpl}}, nil
		}
		if project, ok := val["project"].(string); ok {
			ref, _ := val["ref"].(string)
			if ref == "" {
				ref = "HEAD"
			}
			files := toStringSlice(val["file"])
			if len(files) == 0 {
				return nil, fmt.Errorf("pipeline: include project %q is missing file:", project)
			}
			out := make([]includeSpec, 0, len(files))
			for _, f := range files {
				out = append(out, includeSpec{kind: includeProject, project: project, ref: ref, file: f})
			}
			return out, nil
		}
		return nil, fmt.Errorf("pipeline: unrecognized include entry %v", val)
	default:
		return nil, fmt.Errorf("pipeline: unrecognized include entry %v", val)
	}
}

// includeResolver fetches and caches the bytes of an include under
// .gitlab-ci-local/includes/<host>/<path>.
type includeResolver struct {
	cwd         string
	cacheRoot   string
	templateDir string
	httpClient  *http.Client
}

func newIncludeResolver(cwd string) *includeResolver {
	return &includeResolver{
		cwd:         cwd,
		cacheRoot:   filepath.Join(cwd, ".gitlab-ci-local", "includes"),
		templateDir: filepath.Join(cwd, ".gitlab-ci-local", "templates"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *includeResolver) load(ctx context.Context, spec includeSpec) ([]byte, error) {
	switch spec.kind {
	case includeLocal:
		return os.ReadFile(filepath.Join(r.cwd, spec.local))
	case includeTemplate:
		return os.ReadFile(filepath.Join(r.templateDir, spec.template))
	case includeRemote:
		return r.loadRemote(ctx, spec)
	case includeProject:
		return r.loadProject(ctx, spec)
	}
	return nil, fmt.Errorf("pipeline: unknown include kind")
}

func (r *includeResolver) loadRemote(ctx context.Context, spec includeSpec) ([]byte, error) {
	host, path := splitURL(spec.remote)
	cachePath := filepath.Join(r.cacheRoot, host, path)

	if b, err := os.ReadFile(cachePath); err == nil {
		return b, nil
	}

	var body []byte
	err := roko.NewRetrier(
		roko.WithMaxAttempts(3),
		roko.WithStrategy(roko.Constant(2*time.Second)),
	).DoWithContext(ctx, func(rt *roko.Retrier) error {
		resp, err := r.httpClient.Get(spec.remote)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("pipeline: fetching %s: http %d", spec.remote, resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err == nil {
		_ = os.WriteFile(cachePath, body, 0o644)
	}
	return body, nil
}

func (r *includeResolver) loadProject(ctx context.Context, spec includeSpec) ([]byte, error) {
	cachePath := filepath.Join(r.cacheRoot, "project", spec.project, spec.ref, spec.file)
	if b, err := os.ReadFile(cachePath); err == nil {
		return b, nil
	}

	var body []byte
	err := roko.NewRetrier(
		roko.WithMaxAttempts(3),
		roko.WithStrategy(roko.Constant(2*time.Second)),
	).DoWithContext(ctx, func(rt *roko.Retrier) error {
		res, runErr := process.Spawn(ctx, process.Config{
			Cmd: fmt.Sprintf("git archive --remote=%s %s %s | tar -xO %s",
				shellQuote(spec.project), shellQuote(spec.ref), shellQuote(spec.file), shellQuote(spec.file)),
		})
		if runErr != nil {
			return runErr
		}
		body = []byte(res.Stdout)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: include project %s@%s:%s: %w", spec.project, spec.ref, spec.file, err)
	}

	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err == nil {
		_ = os.WriteFile(cachePath, body, 0o644)
	}
	return body, nil
}

func splitURL(u string) (host, path string) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// resolveIncludes fixed-point expands root's include: tree, merging
// shallowly so that later includes override earlier ones and the root
// file overrides all includes. Cycles are detected via a visited-set
// and reported as a fatal compile error.
func resolveIncludes(ctx context.Context, cwd string, root *rawDoc) (*rawDoc, error) {
	resolver := newIncludeResolver(cwd)
	visited := map[string]bool{}

	merged := &rawDoc{Jobs: map[string]*rawJob{}}

	var walk func(doc *rawDoc, trace []string) error
	walk = func(doc *rawDoc, trace []string) error {
		specs, err := parseIncludeValue(doc.Include)
		if err != nil {
			return err
		}
		for _, spec := range specs {
			id := spec.identity()
			if visited[id] {
				return fmt.Errorf("pipeline: include cycle detected: %s -> %s", strings.Join(trace, " -> "), id)
			}
			visited[id] = true

			data, err := resolver.load(ctx, spec)
			if err != nil {
				return fmt.Errorf("pipeline: resolving include %s: %w", id, err)
			}
			included, err := parseRawDoc(data)
			if err != nil {
				return fmt.Errorf("pipeline: parsing include %s: %w", id, err)
			}
			if err := walk(included, append(trace, id)); err != nil {
				return err
			}
			mergeDocInto(merged, included)
		}
		return nil
	}

	if err := walk(root, []string{"root"}); err != nil {
		return nil, err
	}
	mergeDocInto(merged, root)

	return merged, nil
}

// mergeDocInto shallow key-unions src over dst: src's stages/variables
// override dst's when present, and src's jobs override dst's jobs by
// name.
func mergeDocInto(dst *rawDoc, src *rawDoc) {
	if len(src.Stages) > 0 {
		dst.Stages = src.Stages
	}
	if src.Variables != nil {
		if dst.Variables == nil {
			dst.Variables = map[string]interface{}{}
		}
		for k, v := range src.Variables {
			dst.Variables[k] = v
		}
	}
	if src.Default != nil {
		dst.Default = src.Default
	}
	for name, job := range src.Jobs {
		dst.Jobs[name] = job
	}
}
