package cachelock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireAndUnlock(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lock, err := Acquire(ctx, dir, "build-cache")
	require.NoError(t, err)
	require.NoError(t, lock.Unlock())
}

func TestAcquireIsExclusive(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	lock, err := Acquire(ctx, dir, "shared-key")
	require.NoError(t, err)
	defer lock.Unlock()

	shortCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = Acquire(shortCtx, dir, "shared-key")
	require.Error(t, err)
}
