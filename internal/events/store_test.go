package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndGetByRunID(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "run-1", TypeRunStarted, []byte(`{"pipeline":"registry"}`), nil))
	require.NoError(t, store.Append(ctx, "run-1", TypeJobFinished, []byte(`{"name":"stable"}`), map[string]string{"job": "stable"}))
	require.NoError(t, store.Append(ctx, "run-2", TypeRunStarted, nil, nil))

	got, err := store.GetByRunID(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, TypeRunStarted, got[0].Type)
	assert.Equal(t, TypeJobFinished, got[1].Type)
	assert.Equal(t, "stable", got[1].Metadata["job"])
	assert.JSONEq(t, `{"name":"stable"}`, string(got[1].Payload))
}

func TestGetByRunIDEmptyResult(t *testing.T) {
	store := newMemoryStore(t)
	got, err := store.GetByRunID(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetRange(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "run-1", TypeRunStarted, nil, nil))
	require.NoError(t, store.Append(ctx, "run-1", TypeRunFinished, nil, nil))

	now := time.Now()
	got, err := store.GetRange(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.GetRange(ctx, now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEventsPreserveAppendOrder(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	types := []Type{TypeRunStarted, TypeJobFinished, TypeJobFinished, TypeRunFinished}
	for _, typ := range types {
		require.NoError(t, store.Append(ctx, "run-1", typ, nil, nil))
	}

	got, err := store.GetByRunID(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, len(types))
	for i, typ := range types {
		assert.Equal(t, typ, got[i].Type)
	}
}
