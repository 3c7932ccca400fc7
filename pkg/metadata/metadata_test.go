package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatmaps/refresher/internal/testutil"
	"github.com/threatmaps/refresher/pkg/artifact"
)

func newTestStore(t *testing.T) (*Store, artifact.Store) {
	t.Helper()

	artifacts := testutil.NewFSStore(t)

	return NewStore(testutil.NewLogger(t), artifacts), artifacts
}

func TestGetAbsentReturnsNil(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	md, err := store.Get(ctx, "never-refreshed")
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestStageCommitGet(t *testing.T) {
	ctx := context.Background()
	store, artifacts := newTestStore(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	md := &Metadata{
		DatasetID:          "signin-failures",
		LastRefreshAt:      now,
		LastQueryWatermark: now,
		LastRowCount:       1234,
		LastStatus:         "initial_load",
		QueryHash:          "deadbeef",
	}

	handle, err := store.Stage(ctx, md)
	require.NoError(t, err)

	// Staged but uncommitted: readers still see nothing
	got, err := store.Get(ctx, "signin-failures")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, artifacts.Commit(ctx, handle))

	got, err = store.Get(ctx, "signin-failures")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, SchemaVersion, got.SchemaVersion)
	assert.True(t, got.LastRefreshAt.Equal(now))
	assert.True(t, got.LastQueryWatermark.Equal(now))
	assert.Equal(t, 1234, got.LastRowCount)
	assert.Equal(t, "initial_load", got.LastStatus)
	assert.Equal(t, "deadbeef", got.QueryHash)
}

func TestWatermarkMonotonic(t *testing.T) {
	ctx := context.Background()
	store, artifacts := newTestStore(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := &Metadata{
		DatasetID:          "ds",
		LastRefreshAt:      now,
		LastQueryWatermark: now,
		LastStatus:         "refreshed",
	}

	handle, err := store.Stage(ctx, first)
	require.NoError(t, err)
	require.NoError(t, artifacts.Commit(ctx, handle))

	// Advancing is fine
	later := &Metadata{
		DatasetID:          "ds",
		LastRefreshAt:      now.Add(time.Hour),
		LastQueryWatermark: now.Add(time.Hour),
		LastStatus:         "refreshed",
	}

	handle, err = store.Stage(ctx, later)
	require.NoError(t, err)
	require.NoError(t, artifacts.Commit(ctx, handle))

	// Equal watermark is fine (non-decreasing, not strictly increasing)
	same := &Metadata{
		DatasetID:          "ds",
		LastRefreshAt:      now.Add(2 * time.Hour),
		LastQueryWatermark: now.Add(time.Hour),
		LastStatus:         "refreshed",
	}

	handle, err = store.Stage(ctx, same)
	require.NoError(t, err)
	require.NoError(t, artifacts.Commit(ctx, handle))

	// Regression is rejected before anything is staged
	regress := &Metadata{
		DatasetID:          "ds",
		LastRefreshAt:      now.Add(3 * time.Hour),
		LastQueryWatermark: now.Add(-time.Hour),
		LastStatus:         "refreshed",
	}

	_, err = store.Stage(ctx, regress)
	require.ErrorIs(t, err, ErrWatermarkRegression)
}
