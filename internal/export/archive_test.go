package export

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/souqnear/ranking-service/internal/storage"
)

func TestArchiveListFetchPrune(t *testing.T) {
	ctx := context.Background()
	e, archive := newExporter(t)

	old, err := e.Export(ctx, "rp1", "market", FormatJSON)
	require.NoError(t, err)

	e.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	recent, err := e.Export(ctx, "rp2", "market", FormatXLSX)
	require.NoError(t, err)

	t.Run("list", func(t *testing.T) {
		all, err := e.List(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, old.Key, all[0].Key)
		assert.Equal(t, recent.Key, all[1].Key)
		assert.Equal(t, int64(recent.Size), all[1].Size)

		only, err := e.List(ctx, "rp2")
		require.NoError(t, err)
		require.Len(t, only, 1)
		assert.Equal(t, recent.Key, only[0].Key)
	})

	t.Run("fetch", func(t *testing.T) {
		content, info, err := e.Fetch(ctx, old.Key)
		require.NoError(t, err)
		assert.Len(t, content, old.Size)
		assert.Equal(t, storage.ComputeChecksum(content), info.Checksum)

		_, _, err = e.Fetch(ctx, "exports/2026-01-01/rp1/missing.json")
		assert.ErrorIs(t, err, storage.ErrNotExist)
	})

	t.Run("prune dry run keeps files", func(t *testing.T) {
		pruned, err := e.Prune(ctx, 7*24*time.Hour, true)
		require.NoError(t, err)
		assert.Equal(t, []string{old.Key}, pruned)

		ok, err := archive.Exists(ctx, old.Key)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("prune", func(t *testing.T) {
		pruned, err := e.Prune(ctx, 7*24*time.Hour, false)
		require.NoError(t, err)
		assert.Equal(t, []string{old.Key}, pruned)

		keys, err := archive.List(ctx, "exports/")
		require.NoError(t, err)
		assert.Equal(t, []string{recent.Key}, keys)
	})

	t.Run("prune rejects non-positive age", func(t *testing.T) {
		_, err := e.Prune(ctx, 0, false)
		assert.Error(t, err)
	})
}
