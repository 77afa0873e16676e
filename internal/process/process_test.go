package process

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnCapturesStdout(t *testing.T) {
	res, err := Spawn(context.Background(), Config{Cmd: "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
}

func TestSpawnNonZeroExitIsExitError(t *testing.T) {
	_, err := Spawn(context.Background(), Config{Cmd: "exit 3"})
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode)
}

func TestSpawnStreamsLines(t *testing.T) {
	var lines []string
	_, err := Spawn(context.Background(), Config{
		Cmd: "echo one; echo two >&2",
		OnLine: func(stream Stream, line string) {
			lines = append(lines, line)
		},
	})
	require.NoError(t, err)
	assert.Contains(t, lines, "one")
	assert.Contains(t, lines, "two")
}

func TestSpawnEnvIsInherited(t *testing.T) {
	res, err := Spawn(context.Background(), Config{
		Cmd: "echo $FOO",
		Env: []string{"FOO=bar"},
	})
	require.NoError(t, err)
	assert.Equal(t, "bar\n", res.Stdout)
}
