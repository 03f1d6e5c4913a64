package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/tide"
	"github.com/tidefs/tidegate/pkg/tide/content"
	"github.com/tidefs/tidegate/pkg/tide/content/contenttest"
)

// TestMemoryContentStore runs the shared contract suite.
func TestMemoryContentStore(t *testing.T) {
	suite := &contenttest.Suite{
		NewStore: func(t *testing.T) content.Store {
			store := New(Options{})
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
	suite.Run(t)
}

func TestCapacityEnforced(t *testing.T) {
	ctx := context.Background()
	store := New(Options{Capacity: 64})

	// Growth past the capacity fails and charges nothing.
	_, err := store.WriteAt(ctx, "big", make([]byte, 65), 0)
	require.True(t, tide.IsErrno(err, tide.ENOSPC), "want ENOSPC, got %v", err)
	require.Zero(t, store.Used())

	n, err := store.WriteAt(ctx, "fits", make([]byte, 64), 0)
	require.NoError(t, err)
	require.Equal(t, 64, n)
	require.Equal(t, uint64(64), store.Used())

	// Overwrites in place are free even at the limit.
	_, err = store.WriteAt(ctx, "fits", []byte("xx"), 0)
	require.NoError(t, err)

	// One more byte of growth is not.
	_, err = store.WriteAt(ctx, "fits", []byte("y"), 64)
	require.True(t, tide.IsErrno(err, tide.ENOSPC), "want ENOSPC, got %v", err)

	err = store.Truncate(ctx, "fits", 65)
	require.True(t, tide.IsErrno(err, tide.ENOSPC), "want ENOSPC, got %v", err)
}

func TestUsedTracksLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New(Options{})
	require.Zero(t, store.Used())

	_, err := store.WriteAt(ctx, "a", make([]byte, 100), 0)
	require.NoError(t, err)
	_, err = store.WriteAt(ctx, "b", make([]byte, 50), 0)
	require.NoError(t, err)
	require.Equal(t, uint64(150), store.Used())

	require.NoError(t, store.Truncate(ctx, "a", 30))
	require.Equal(t, uint64(80), store.Used())

	require.NoError(t, store.Remove(ctx, "b"))
	require.Equal(t, uint64(30), store.Used())

	require.NoError(t, store.Remove(ctx, "a"))
	require.Zero(t, store.Used())
}

func TestClosedStoreRejectsIO(t *testing.T) {
	ctx := context.Background()
	store := New(Options{})
	_, err := store.WriteAt(ctx, "obj", []byte("data"), 0)
	require.NoError(t, err)

	require.NoError(t, store.Close())

	wantEIO := func(err error) {
		t.Helper()
		require.True(t, tide.IsErrno(err, tide.EIO), "want EIO, got %v", err)
	}

	_, err = store.ReadAt(ctx, "obj", make([]byte, 4), 0)
	wantEIO(err)
	_, err = store.WriteAt(ctx, "obj", []byte("late"), 0)
	wantEIO(err)
	wantEIO(store.Truncate(ctx, "obj", 0))
	_, err = store.Size(ctx, "obj")
	wantEIO(err)
	wantEIO(store.Remove(ctx, "obj"))
	require.Zero(t, store.Used())
}
