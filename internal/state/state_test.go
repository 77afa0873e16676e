package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPipelineIIDIncrementsAndPersists(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	iid, err := store.NextPipelineIID()
	require.NoError(t, err)
	assert.Equal(t, 1, iid)

	iid, err = store.NextPipelineIID()
	require.NoError(t, err)
	assert.Equal(t, 2, iid)

	reopened := NewStore(dir)
	doc, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, doc.PipelineIID)
}

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, doc.PipelineIID)
}
