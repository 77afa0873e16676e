package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/firecow/gitlab-local-pipeline/internal/pipeline"
	"github.com/firecow/gitlab-local-pipeline/internal/process"
)

// composeScript builds the single shell script run for one phase:
// fail-fast, stdin closed, each source line echoed (first line only,
// multi-line commands flagged as collapsed) and then executed.
// Interactive jobs inherit host stdio with no echo prefixing, so echo
// is skipped when echo is false.
func composeScript(lines []string, env variableLines, echo bool) string {
	var b strings.Builder
	b.WriteString("set -eo pipefail\n")
	b.WriteString("exec 0</dev/null\n")
	for _, kv := range env {
		fmt.Fprintf(&b, "export %s\n", kv)
	}
	for _, line := range lines {
		if echo {
			first, multiline := splitFirstLine(line)
			if multiline {
				fmt.Fprintf(&b, "echo %s\n", shQuote("$ "+first+" # collapsed multi-line command"))
			} else {
				fmt.Fprintf(&b, "echo %s\n", shQuote("$ "+first))
			}
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("exit 0\n")
	return b.String()
}

type variableLines []string

func splitFirstLine(s string) (first string, multiline bool) {
	idx := strings.IndexByte(s, '\n')
	if idx == -1 {
		return s, false
	}
	return s[:idx], true
}

// runScripts writes the composed before+script, then after_script,
// executing them (in the container, or directly on the host in shell
// mode), streaming output line-by-line through the Sink with a silence
// watchdog, and returning each phase's exit code.
func (e *Engine) runScripts(ctx context.Context, job *pipeline.Job, safe string, ws *workspace, c *containerHandle) (prescriptExit, afterExit int, err error) {
	env := job.Variables.ToEnv()

	if job.Interactive {
		// Inherit host stdio; no echo prefixing, no container, no log
		// mirroring.
		mainScript := composeScript(append(append([]string{}, job.BeforeScripts...), job.Scripts...), env, false)
		return e.runInteractivePhase(ctx, job, ws, mainScript), 0, nil
	}

	writer, werr := e.opts.Sink.JobWriter(job.Name)
	if werr != nil {
		return 0, 0, werr
	}
	defer writer.Close()

	watchdog := newSilenceWatchdog(e.opts.SilenceWait, func() {
		writer.WriteLine(process.Stdout, "still running...")
	})
	defer watchdog.stop()

	onLine := func(stream process.Stream, line string) {
		watchdog.poke()
		writer.WriteLine(stream, line)
	}

	mainLines := append(append([]string{}, job.BeforeScripts...), job.Scripts...)
	mainScript := composeScript(mainLines, env, true)
	prescriptExit, err = e.runPhase(ctx, job, safe, ws, c, mainScript, onLine)

	if (err != nil || prescriptExit != 0) && job.AllowFailure {
		writer.WriteLine(process.Stdout, fmt.Sprintf("WARN %d allowed to fail", prescriptExit))
	}

	afterExit = 0
	if len(job.AfterScripts) > 0 {
		afterScript := composeScript(job.AfterScripts, env, true)
		afterExit, _ = e.runPhase(ctx, job, safe, ws, c, afterScript, onLine)
		if afterExit != 0 {
			writer.WriteLine(process.Stdout, fmt.Sprintf("WARN %d after_script failed", afterExit))
		}
	}

	return prescriptExit, afterExit, err
}

// runInteractivePhase execs the composed script with the host's own
// stdio attached directly, bypassing the Sink entirely.
func (e *Engine) runInteractivePhase(ctx context.Context, job *pipeline.Job, ws *workspace, script string) int {
	initPath := filepath.Join(ws.buildDir, "gcl-init")
	if err := os.WriteFile(initPath, []byte(script), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "engine: %s: writing gcl-init: %v\n", job.Name, err)
		return 1
	}
	res, err := process.Spawn(ctx, process.Config{
		Cmd: "sh " + shQuote(initPath),
		Dir: ws.buildDir,
		PTY: true,
		Env: job.Variables.ToEnv(),
	})
	if err != nil {
		return exitCodeOf(err)
	}
	return res.ExitCode
}

// runPhase writes script to gcl-init and executes it either inside the
// job's container or directly on the host workspace.
func (e *Engine) runPhase(ctx context.Context, job *pipeline.Job, safe string, ws *workspace, c *containerHandle, script string, onLine func(process.Stream, string)) (int, error) {
	initPath := filepath.Join(ws.buildDir, "gcl-init")
	if err := os.WriteFile(initPath, []byte(script), 0o755); err != nil {
		return 1, fmt.Errorf("engine: writing gcl-init for %s: %w", job.Name, err)
	}

	if c != nil {
		if _, err := process.Spawn(ctx, process.Config{
			Cmd: fmt.Sprintf("docker cp %s %s:/builds/gcl-init", shQuote(initPath), shQuote(c.containerID)),
		}); err != nil {
			return 1, fmt.Errorf("engine: copying gcl-init into container for %s: %w", job.Name, err)
		}
		res, err := process.Spawn(ctx, process.Config{
			Cmd:    fmt.Sprintf("docker start --attach -i %s", shQuote(c.containerID)),
			Stdin:  strings.NewReader("sh /builds/gcl-init\n"),
			OnLine: onLine,
		})
		if err != nil {
			return exitCodeOf(err), err
		}
		return res.ExitCode, nil
	}

	res, err := process.Spawn(ctx, process.Config{
		Cmd:    "sh " + shQuote(initPath),
		Dir:    ws.buildDir,
		Env:    job.Variables.ToEnv(),
		OnLine: onLine,
	})
	if err != nil {
		return exitCodeOf(err), err
	}
	return res.ExitCode, nil
}

func exitCodeOf(err error) int {
	var exitErr *process.ExitError
	if asProcessExitError(err, &exitErr) {
		return exitErr.ExitCode
	}
	return 1
}

func asProcessExitError(err error, target **process.ExitError) bool {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if pe, ok := e.(*process.ExitError); ok {
			*target = pe
			return true
		}
		u, ok := e.(unwrapper)
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

// silenceWatchdog re-arms a timer on every poke; when it fires it calls
// onFire, so a job that has printed nothing for a while still shows
// signs of life.
type silenceWatchdog struct {
	mu     sync.Mutex
	timer  *time.Timer
	onFire func()
	wait   time.Duration
}

func newSilenceWatchdog(wait time.Duration, onFire func()) *silenceWatchdog {
	w := &silenceWatchdog{wait: wait, onFire: onFire}
	w.timer = time.AfterFunc(wait, w.fire)
	return w
}

func (w *silenceWatchdog) fire() {
	w.onFire()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer.Reset(w.wait)
}

func (w *silenceWatchdog) poke() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer.Reset(w.wait)
}

func (w *silenceWatchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer.Stop()
}
