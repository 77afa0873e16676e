package engine

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"drjosh.dev/zzglob"

	"github.com/firecow/gitlab-local-pipeline/internal/pipeline"
	"github.com/firecow/gitlab-local-pipeline/internal/process"
	"github.com/firecow/gitlab-local-pipeline/internal/variable"
)

// extractArtifacts copies, for each artifacts.paths glob (with $VAR
// expansion), every match into .gitlab-ci-local/artifacts/<safe-name>/,
// preserving its relative path (cp -r --parents semantics). Container
// jobs copy out of the bound volume via `docker cp` first.
func (e *Engine) extractArtifacts(ctx context.Context, job *pipeline.Job, safe string, ws *workspace, c *containerHandle) error {
	if len(job.Artifacts.Paths) == 0 {
		return nil
	}

	destRoot := filepath.Join(e.opts.ProjectDir, e.opts.StateDir, "artifacts", safe)
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return fmt.Errorf("engine: creating artifact dir: %w", err)
	}

	searchRoot := ws.buildDir
	if c != nil {
		// Container mode: a transient debian:stable-slim sidecar bound
		// to the same volume lets docker cp extract to the host.
		tmp, err := os.MkdirTemp("", "gcl-artifacts-*")
		if err != nil {
			return fmt.Errorf("engine: creating artifact staging dir: %w", err)
		}
		defer os.RemoveAll(tmp)

		sidecarName := "gcl-artifacts-" + safe
		createCmd := fmt.Sprintf(
			"docker create -v %s:/builds --name %s debian:stable-slim sleep infinity",
			shQuote(c.volumeID), shQuote(sidecarName),
		)
		if _, err := process.Spawn(ctx, process.Config{Cmd: createCmd}); err != nil {
			return fmt.Errorf("engine: creating artifact sidecar: %w", err)
		}
		// Ownership passes to the caller's cleanup phase, which removes
		// every container/volume this Engine run created.
		c.artifactsContainerID = sidecarName

		copyCmd := fmt.Sprintf("docker cp %s:/builds/. %s", shQuote(sidecarName), shQuote(tmp))
		if _, err := process.Spawn(ctx, process.Config{Cmd: copyCmd}); err != nil {
			return fmt.Errorf("engine: copying artifacts out of volume: %w", err)
		}
		searchRoot = tmp
	}

	for _, rawPattern := range job.Artifacts.Paths {
		pattern := variable.ExpandText(rawPattern, job.Variables)
		if err := copyGlobMatches(searchRoot, destRoot, pattern); err != nil {
			return fmt.Errorf("engine: extracting artifact pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// copyGlobMatches resolves pattern (relative to root) with zzglob and
// copies every matched file or directory into dest, preserving its
// relative path.
func copyGlobMatches(root, dest, pattern string) error {
	full := filepath.Join(root, pattern)
	parsed, err := zzglob.Parse(filepath.ToSlash(full))
	if err != nil {
		return fmt.Errorf("invalid glob pattern: %w", err)
	}

	return parsed.Glob(func(path string, d fs.DirEntry, err error) error {
		if err != nil || d == nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			return copyTree(path, filepath.Join(dest, rel))
		}
		return copyFile(path, filepath.Join(dest, rel))
	})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// copyTree recursively copies src's contents into dst, used to stage a
// predecessor's extracted artifacts into a job's workspace.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

var coverageNumber = regexp.MustCompile(`\d+(\.\d+)?`)

// extractCoverage scans the job's log with the coverage regex
// (multiline, optional /…/ delimiters stripped) and returns the first
// numeric substring of the first match. A pattern that matches nothing
// is not an error: it reports 0, same as a job that never printed a
// coverage line.
func extractCoverage(logPath, pattern string) (*float64, error) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimPrefix(strings.TrimSuffix(pattern, "/"), "/")
	re, err := regexp.Compile("(?m)" + trimmed)
	if err != nil {
		return nil, fmt.Errorf("engine: invalid coverage pattern %q: %w", pattern, err)
	}

	match := re.FindString(string(data))
	if match == "" {
		zero := 0.0
		return &zero, nil
	}
	numStr := coverageNumber.FindString(match)
	if numStr == "" {
		zero := 0.0
		return &zero, nil
	}
	pct, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return nil, err
	}
	return &pct, nil
}
