package tidetest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/tide"
)

const (
	testUID uint32 = 1000
	testGID uint32 = 1000
)

// requireErrno asserts that err carries exactly the wanted errno.
func requireErrno(t *testing.T, want tide.Errno, err error) {
	t.Helper()
	require.Error(t, err)
	got, ok := tide.ErrnoOf(err)
	require.True(t, ok, "error %v carries no errno", err)
	require.Equal(t, want, got, "unexpected errno in %v", err)
}

// mustRoot pins the volume root. The pin is released when the test ends.
func mustRoot(t *testing.T, fs tide.FileSystem) tide.NodeHandle {
	t.Helper()
	root, err := fs.LookupPath(testContext(), "/")
	require.NoError(t, err)
	t.Cleanup(root.Release)
	return root
}

// mustCreate makes a regular file with mode 0644 and test ownership.
func mustCreate(t *testing.T, dir tide.NodeHandle, name string) tide.NodeHandle {
	t.Helper()
	st := tide.Stat{Mode: 0o644, UID: testUID, GID: testGID}
	h, err := dir.Create(testContext(), name, &st, 0)
	require.NoError(t, err)
	t.Cleanup(h.Release)
	return h
}

// mustMkdir makes a directory with mode 0755 and test ownership.
func mustMkdir(t *testing.T, dir tide.NodeHandle, name string) tide.NodeHandle {
	t.Helper()
	st := tide.Stat{Mode: 0o755, UID: testUID, GID: testGID}
	h, err := dir.Mkdir(testContext(), name, &st)
	require.NoError(t, err)
	t.Cleanup(h.Release)
	return h
}

// mustLookup resolves name under dir, failing the test on any error.
func mustLookup(t *testing.T, dir tide.NodeHandle, name string) tide.NodeHandle {
	t.Helper()
	h, err := dir.Lookup(testContext(), name)
	require.NoError(t, err)
	t.Cleanup(h.Release)
	return h
}

// mustStat snapshots the node's attributes.
func mustStat(t *testing.T, h tide.NodeHandle) tide.Stat {
	t.Helper()
	st, err := h.GetAttr(testContext())
	require.NoError(t, err)
	return st
}

// mustWrite opens the node for writing, stores p at offset and closes it
// again.
func mustWrite(t *testing.T, h tide.NodeHandle, offset uint64, p []byte) {
	t.Helper()
	ctx := testContext()
	require.NoError(t, h.Open(ctx, tide.OpenWrite))
	n, err := h.Write(ctx, offset, p)
	require.NoError(t, err)
	require.Equal(t, len(p), n)
	require.NoError(t, h.Close(ctx))
}

// mustRead opens the node read-only and reads up to size bytes at offset.
func mustRead(t *testing.T, h tide.NodeHandle, offset uint64, size int) []byte {
	t.Helper()
	ctx := testContext()
	require.NoError(t, h.Open(ctx, tide.OpenRead))
	buf := make([]byte, size)
	n, err := h.Read(ctx, offset, buf)
	require.NoError(t, err)
	require.NoError(t, h.Close(ctx))
	return buf[:n]
}

// mustStatFS snapshots the filesystem usage numbers.
func mustStatFS(t *testing.T, fs tide.FileSystem) tide.FSStat {
	t.Helper()
	st, err := fs.StatFS(testContext())
	require.NoError(t, err)
	return st
}
