package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeScriptEchoesFirstLineOnly(t *testing.T) {
	script := composeScript([]string{"echo hello"}, []string{"FOO=bar"}, true)
	assert.Contains(t, script, "set -eo pipefail")
	assert.Contains(t, script, "export FOO=bar")
	assert.Contains(t, script, "echo '$ echo hello'")
	assert.Contains(t, script, "echo hello\n")
}

func TestComposeScriptMarksCollapsedMultilineCommand(t *testing.T) {
	script := composeScript([]string{"echo one\necho two"}, nil, true)
	assert.Contains(t, script, "collapsed multi-line command")
}

func TestComposeScriptSkipsEchoWhenDisabled(t *testing.T) {
	script := composeScript([]string{"echo hello"}, nil, false)
	assert.NotContains(t, script, "echo '$")
	assert.Contains(t, script, "echo hello")
}

func TestSplitFirstLine(t *testing.T) {
	first, multiline := splitFirstLine("one\ntwo")
	assert.Equal(t, "one", first)
	assert.True(t, multiline)

	first, multiline = splitFirstLine("single")
	assert.Equal(t, "single", first)
	assert.False(t, multiline)
}

func TestExtractCoverageFindsFirstNumericMatch(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "job.log")
	require.NoError(t, os.WriteFile(logPath, []byte("tests ran\ncoverage: 87.3% of statements\n"), 0o644))

	pct, err := extractCoverage(logPath, `coverage: \d+\.\d+%`)
	require.NoError(t, err)
	require.NotNil(t, pct)
	assert.InDelta(t, 87.3, *pct, 0.001)
}

func TestExtractCoverageStripsSlashDelimiters(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "job.log")
	require.NoError(t, os.WriteFile(logPath, []byte("Total coverage: 42%\n"), 0o644))

	pct, err := extractCoverage(logPath, `/Total coverage: \d+%/`)
	require.NoError(t, err)
	require.NotNil(t, pct)
	assert.InDelta(t, 42, *pct, 0.001)
}

func TestExtractCoverageNoMatchReportsZero(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "job.log")
	require.NoError(t, os.WriteFile(logPath, []byte("nothing here\n"), 0o644))

	pct, err := extractCoverage(logPath, `coverage: \d+%`)
	require.NoError(t, err)
	require.NotNil(t, pct)
	assert.Equal(t, 0.0, *pct)
}

func TestCopyTreePreservesRelativeStructure(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "file.txt"), []byte("hi"), 0o644))

	dst := t.TempDir()
	require.NoError(t, copyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "nested", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestShQuoteEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shQuote("it's"))
}
