package gitinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRemoteSSH(t *testing.T) {
	r, err := parseRemote("git@gitlab.com:my-group/my-project.git")
	require.NoError(t, err)
	assert.Equal(t, Remote{Domain: "gitlab.com", Group: "my-group", Project: "my-project"}, r)
}

func TestParseRemoteHTTPS(t *testing.T) {
	r, err := parseRemote("https://gitlab.com/my-group/sub/my-project.git")
	require.NoError(t, err)
	assert.Equal(t, Remote{Domain: "gitlab.com", Group: "my-group/sub", Project: "my-project"}, r)
}

func TestParseRemoteInvalid(t *testing.T) {
	_, err := parseRemote("not a url")
	require.Error(t, err)
}
