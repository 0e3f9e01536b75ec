// Package blobtest holds a behaviour suite every blob driver must pass.
package blobtest

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantlab/internal/blob/core"
)

// Run exercises the create-only Put, Get, Head, List and Delete contract.
func Run(t *testing.T, store core.Store) {
	t.Helper()
	ctx := context.Background()

	info, err := store.Put(ctx, "reports/plan/2025-W42.csv", strings.NewReader("barcode;jars\n"), core.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"kind": "planning"},
	})
	require.NoError(t, err)
	assert.Equal(t, "reports/plan/2025-W42.csv", info.Key)
	assert.EqualValues(t, 13, info.Size)
	assert.Equal(t, "text/csv", info.ContentType)
	assert.NotEmpty(t, info.ETag)

	_, err = store.Put(ctx, "reports/plan/2025-W42.csv", strings.NewReader("again"), core.PutOptions{})
	require.ErrorIs(t, err, core.ErrExists)

	got, rc, err := store.Get(ctx, "reports/plan/2025-W42.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "barcode;jars\n", string(body))
	assert.Equal(t, "planning", got.Metadata["kind"])

	head, err := store.Head(ctx, "reports/plan/2025-W42.csv")
	require.NoError(t, err)
	assert.EqualValues(t, 13, head.Size)

	_, err = store.Head(ctx, "reports/missing.csv")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, _, err = store.Get(ctx, "reports/missing.csv")
	require.ErrorIs(t, err, core.ErrNotFound)

	for _, key := range []string{"reports/plan/2025-W42.json", "reports/chamber/heatmap.png", "other/x.txt"} {
		_, err := store.Put(ctx, key, strings.NewReader(key), core.PutOptions{})
		require.NoError(t, err)
	}
	list, err := store.List(ctx, "reports/")
	require.NoError(t, err)
	keys := make([]string, 0, len(list))
	for _, inf := range list {
		keys = append(keys, inf.Key)
	}
	assert.Equal(t, []string{
		"reports/chamber/heatmap.png",
		"reports/plan/2025-W42.csv",
		"reports/plan/2025-W42.json",
	}, keys)

	deleted, err := store.Delete(ctx, "reports/plan/2025-W42.csv")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.Delete(ctx, "reports/plan/2025-W42.csv")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = store.Put(ctx, "", strings.NewReader("x"), core.PutOptions{})
	require.ErrorIs(t, err, core.ErrInvalidKey)
}
