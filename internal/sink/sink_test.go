package sink

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firecow/gitlab-local-pipeline/internal/process"
)

func TestJobWriterMirrorsToLogFile(t *testing.T) {
	dir := t.TempDir()
	s := New(os.Stdout, dir)

	w, err := s.JobWriter("build-job")
	require.NoError(t, err)

	_, err = w.Write([]byte("line one\nline two\n"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(dir, "build-job.log"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(data))
}

// capturedLines pipes a Sink's terminal output through an os.Pipe (not a
// TTY, so colorize stays off and the asserted text is plain) and returns
// each line written before w is closed.
func capturedLines(t *testing.T, logDir string, do func(s *Sink)) []string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	s := New(w, logDir)
	do(s)
	require.NoError(t, w.Close())

	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	_ = r.Close()
	return lines
}

func TestWriteLineMarksStdoutGreenAndStderrRed(t *testing.T) {
	dir := t.TempDir()
	lines := capturedLines(t, dir, func(s *Sink) {
		jw, err := s.JobWriter("build-job")
		require.NoError(t, err)
		require.NoError(t, jw.WriteLine(process.Stdout, "building"))
		require.NoError(t, jw.WriteLine(process.Stderr, "warning: deprecated"))
	})

	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "> building")
	assert.Contains(t, lines[1], "> warning: deprecated")
	for _, l := range lines {
		assert.Contains(t, l, "build-job")
	}
}

func TestWriteLineSuppressesMarkForEchoedCommands(t *testing.T) {
	dir := t.TempDir()
	lines := capturedLines(t, dir, func(s *Sink) {
		jw, err := s.JobWriter("build-job")
		require.NoError(t, err)
		require.NoError(t, jw.WriteLine(process.Stdout, "$ go test ./..."))
	})

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "$ go test ./...")
	assert.NotContains(t, lines[0], ">")
}

func TestWriteLinePadsJobName(t *testing.T) {
	dir := t.TempDir()
	lines := capturedLines(t, dir, func(s *Sink) {
		jw, err := s.JobWriter("a")
		require.NoError(t, err)
		require.NoError(t, jw.WriteLine(process.Stdout, "x"))
	})

	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "a"+strings.Repeat(" ", namePadWidth-1)))
}
