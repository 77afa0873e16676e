// Package sink implements the Output Sink: it serializes concurrent
// jobs' stdout/stderr into a single colorized, per-job prefixed
// terminal stream, and mirrors each job's raw output to a log file on
// disk.
package sink

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/firecow/gitlab-local-pipeline/internal/process"
)

// namePadWidth keeps job-name prefixes column-aligned when several
// jobs interleave their output.
const namePadWidth = 20

var (
	nameColor   = color.New(color.FgBlue)
	stdoutColor = color.New(color.FgGreen)
	stderrColor = color.New(color.FgRed)
)

// Sink serializes writes from many concurrent jobs onto one terminal
// stream and mirrors every line to a per-job log file under logDir.
type Sink struct {
	mu       sync.Mutex
	out      io.Writer
	colorize bool
	logDir   string

	files map[string]*os.File
}

// New creates a Sink writing to out (typically os.Stdout) and mirroring
// logs under logDir. Color is enabled automatically when out is a TTY.
func New(out *os.File, logDir string) *Sink {
	return &Sink{
		out:      out,
		colorize: isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()),
		logDir:   logDir,
		files:    map[string]*os.File{},
	}
}

// Writer is a per-job handle returned by JobWriter: a plain
// io.WriteCloser for generic messages (stream-tagged as stdout), plus
// WriteLine for a caller that knows which stream a line came from.
type Writer interface {
	io.WriteCloser
	WriteLine(stream process.Stream, line string) error
}

// JobWriter returns a Writer for one job's combined stdout+stderr. Each
// line is prefixed with the padded, blue job name and a `>` mark
// (green for stdout, red for stderr); a line that is itself an echoed
// "$ ..." command is rendered green instead, with the mark suppressed.
// A raw (unprefixed, uncolored) copy of every line is also appended to
// the job's log file.
func (s *Sink) JobWriter(jobName string) (Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[jobName]
	if !ok {
		if err := os.MkdirAll(s.logDir, 0o755); err != nil {
			return nil, fmt.Errorf("sink: creating log dir: %w", err)
		}
		path := filepath.Join(s.logDir, jobName+".log")
		var err error
		f, err = os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("sink: creating log file for %q: %w", jobName, err)
		}
		s.files[jobName] = f
	}

	return &jobWriter{sink: s, name: jobName, file: f}, nil
}

// Close closes every job's log file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Sink) writeLine(name string, file *os.File, stream process.Stream, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintln(file, line); err != nil {
		return err
	}

	prefix := fmt.Sprintf("%-*s", namePadWidth, name)
	markColor := stdoutColor
	if stream == process.Stderr {
		markColor = stderrColor
	}

	var rendered string
	if strings.HasPrefix(strings.TrimSpace(line), "$ ") {
		rendered = line
		if s.colorize {
			rendered = stdoutColor.Sprint(line)
		}
	} else if s.colorize {
		rendered = markColor.Sprint(">") + " " + line
	} else {
		rendered = "> " + line
	}

	if s.colorize {
		prefix = nameColor.Sprint(prefix)
	}

	_, err := fmt.Fprintln(s.out, prefix+" "+rendered)
	return err
}

type jobWriter struct {
	sink *Sink
	name string
	file *os.File
}

// WriteLine writes one already-formed line (no trailing newline
// needed), colored according to stream.
func (w *jobWriter) WriteLine(stream process.Stream, line string) error {
	return w.sink.writeLine(w.name, w.file, stream, line)
}

// Write splits p into lines and renders each as a stdout-tagged line,
// for callers with no stream of their own.
func (w *jobWriter) Write(p []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(p))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := w.sink.writeLine(w.name, w.file, process.Stdout, scanner.Text()); err != nil {
			return 0, err
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *jobWriter) Close() error {
	return nil
}
