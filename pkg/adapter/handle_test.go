package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/tide"
	"github.com/tidefs/tidegate/pkg/vfs"
)

// TestDigestResolveRoundTrip verifies a wire digest resolves back to a
// handle for the same backend object.
func TestDigestResolveRoundTrip(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	file := mkfile(t, env.export.Root(), "wire")

	buf := make([]byte, tide.KeySize)
	n, err := file.Digest(vfs.DigestV3, buf)
	require.NoError(t, err)
	require.Equal(t, tide.KeySize, n)

	key, err := env.export.ExtractKey(buf[:n])
	require.NoError(t, err)
	require.Equal(t, file.Key(), key)

	resolved, err := env.export.ResolveHandle(ctx, key)
	require.NoError(t, err)
	t.Cleanup(resolved.Release)

	require.Equal(t, file.FileID(), resolved.FileID())
	require.Equal(t, file.FSID(), resolved.FSID())
	require.Equal(t, file.Type(), resolved.Type())

	// Both handles address the same object: bytes written through one
	// are visible through the other.
	state := vfs.NewOpenState(vfs.StateShare)
	_, err = file.Open2(ctx, OpenRequest{State: state, Flags: vfs.OpenWrite})
	require.NoError(t, err)
	_, err = file.Write2(ctx, 0, []byte("through one"), false, nil)
	require.NoError(t, err)
	require.NoError(t, file.Close2(ctx, state))

	attrs, err := resolved.GetAttrs(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(len("through one")), attrs.Size)

	// Both wire flavors carry the same bytes.
	buf4 := make([]byte, tide.KeySize)
	_, err = resolved.Digest(vfs.DigestV4, buf4)
	require.NoError(t, err)
	require.Equal(t, buf, buf4)
}

// TestDigestRejections verifies short buffers and unknown wire flavors
// fail loudly.
func TestDigestRejections(t *testing.T) {
	env := newTestEnv(t, Options{})
	file := mkfile(t, env.export.Root(), "short")

	_, err := file.Digest(vfs.DigestV3, make([]byte, tide.KeySize-1))
	require.True(t, vfs.IsStatus(err, vfs.StatusTooSmall))

	_, err = file.Digest(vfs.DigestKind(99), make([]byte, tide.KeySize))
	require.True(t, vfs.IsStatus(err, vfs.StatusServerFault))
}

// TestExtractKeyLength verifies anything but the exact wire size is a
// malformed client handle.
func TestExtractKeyLength(t *testing.T) {
	env := newTestEnv(t, Options{})

	for _, n := range []int{0, tide.KeySize - 1, tide.KeySize + 1} {
		_, err := env.export.ExtractKey(make([]byte, n))
		require.True(t, vfs.IsStatus(err, vfs.StatusInvalidArgument), "length %d", n)
		var serr *vfs.StatusError
		require.ErrorAs(t, err, &serr)
		require.Equal(t, int32(tide.EINVAL), serr.Minor)
	}
}

// TestResolveHandleStale verifies a key whose object is gone reports
// stale, carrying the store's errno as the minor code.
func TestResolveHandleStale(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	root := env.export.Root()

	file, _, err := root.Create(ctx, "doomed", nil)
	require.NoError(t, err)
	key := file.Key()
	file.Release()
	require.NoError(t, root.Unlink(ctx, "doomed"))

	_, rerr := env.export.ResolveHandle(ctx, key)
	require.True(t, vfs.IsStatus(rerr, vfs.StatusStale))
	var serr *vfs.StatusError
	require.ErrorAs(t, rerr, &serr)
	require.Equal(t, int32(tide.ESTALE), serr.Minor)
}

// TestLookupResolvesEntries verifies name resolution and its failure
// modes.
func TestLookupResolvesEntries(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	root := env.export.Root()

	file := mkfile(t, root, "present")

	got, attrs, err := root.Lookup(ctx, "present")
	require.NoError(t, err)
	t.Cleanup(got.Release)
	require.Equal(t, file.FileID(), got.FileID())
	require.Equal(t, vfs.FileTypeRegular, attrs.Type)
	require.True(t, attrs.Valid.Has(vfs.AttrFileID))

	_, _, err = root.Lookup(ctx, "absent")
	require.True(t, vfs.IsStatus(err, vfs.StatusNotFound))

	_, _, err = file.Lookup(ctx, "below")
	require.True(t, vfs.IsStatus(err, vfs.StatusNotDirectory))
}

// TestLookupPathDescends verifies absolute path resolution through the
// export.
func TestLookupPathDescends(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	dir := mkdir(t, env.export.Root(), "a")
	mkfile(t, dir, "b")

	h, attrs, err := env.export.LookupPath(ctx, "/a/b")
	require.NoError(t, err)
	t.Cleanup(h.Release)
	require.Equal(t, vfs.FileTypeRegular, attrs.Type)

	_, _, err = env.export.LookupPath(ctx, "/a/missing")
	require.True(t, vfs.IsStatus(err, vfs.StatusNotFound))
}

// TestCreateSeedsIdentityAndMode verifies the legacy create path: umask
// on the mode, caller identity from the context, and unchecked opens of
// existing names.
func TestCreateSeedsIdentityAndMode(t *testing.T) {
	env := newTestEnv(t, Options{Umask: 0o022})
	ctx := WithCreds(context.Background(), Creds{UID: 501, GID: 20})
	root := env.export.Root()

	attrs := (&vfs.Attributes{}).SetMode(0o666)
	file, got, err := root.Create(ctx, "report", attrs)
	require.NoError(t, err)
	t.Cleanup(file.Release)

	require.Equal(t, uint32(0o644), got.Mode)
	require.Equal(t, uint32(501), got.Owner)
	require.Equal(t, uint32(20), got.Group)
	require.Equal(t, vfs.FileTypeRegular, got.Type)

	// Creating the same name again opens the existing file.
	again, gotAgain, err := root.Create(ctx, "report", attrs)
	require.NoError(t, err)
	t.Cleanup(again.Release)
	require.Equal(t, file.FileID(), again.FileID())
	require.Equal(t, uint32(0o644), gotAgain.Mode)

	// Directories seed the same way but refuse duplicates.
	dirAttrs := (&vfs.Attributes{}).SetMode(0o777)
	dir, gotDir, err := root.Mkdir(ctx, "files", dirAttrs)
	require.NoError(t, err)
	t.Cleanup(dir.Release)
	require.Equal(t, uint32(0o755), gotDir.Mode)
	require.Equal(t, vfs.FileTypeDirectory, gotDir.Type)

	_, _, err = root.Mkdir(ctx, "files", dirAttrs)
	require.True(t, vfs.IsStatus(err, vfs.StatusAlreadyExists))

	// Without credentials objects belong to root.
	anon, gotAnon, err := root.Create(context.Background(), "anon", attrs)
	require.NoError(t, err)
	t.Cleanup(anon.Release)
	require.Equal(t, uint32(0), gotAnon.Owner)
	require.Equal(t, uint32(0), gotAnon.Group)
}

// TestUnlink verifies entry removal and its failure modes.
func TestUnlink(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	root := env.export.Root()

	mkfile(t, root, "gone")
	require.NoError(t, root.Unlink(ctx, "gone"))
	_, _, err := root.Lookup(ctx, "gone")
	require.True(t, vfs.IsStatus(err, vfs.StatusNotFound))

	require.True(t, vfs.IsStatus(root.Unlink(ctx, "gone"), vfs.StatusNotFound))

	outer := mkdir(t, root, "outer")
	mkdir(t, outer, "inner")
	err = root.Unlink(ctx, "outer")
	require.True(t, vfs.IsStatus(err, vfs.StatusNotEmpty))
}

// TestRename verifies moves across directories within the export.
func TestRename(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	root := env.export.Root()

	src := mkdir(t, root, "src")
	dst := mkdir(t, root, "dst")
	file := mkfile(t, src, "papers")

	require.NoError(t, env.export.Rename(ctx, src, "papers", dst, "archive"))

	_, _, err := src.Lookup(ctx, "papers")
	require.True(t, vfs.IsStatus(err, vfs.StatusNotFound))
	moved, _, err := dst.Lookup(ctx, "archive")
	require.NoError(t, err)
	t.Cleanup(moved.Release)
	require.Equal(t, file.FileID(), moved.FileID())

	err = env.export.Rename(ctx, src, "absent", dst, "x")
	require.True(t, vfs.IsStatus(err, vfs.StatusNotFound))
}

// TestMergeDuplicateHandles verifies reservation folding between two live
// handles of the same object.
func TestMergeDuplicateHandles(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	root := env.export.Root()

	mkfile(t, root, "dup")
	h1, _, err := root.Lookup(ctx, "dup")
	require.NoError(t, err)
	t.Cleanup(h1.Release)
	h2, _, err := root.Lookup(ctx, "dup")
	require.NoError(t, err)
	t.Cleanup(h2.Release)

	require.NoError(t, h2.share.Reserve(vfs.OpenClosed, vfs.OpenRead, false))
	require.NoError(t, h1.Merge(h2))
	require.Equal(t, [5]int{1, 0, 0, 0, 0}, shareCounters(&h1.share))

	// Directories never carry reservations; merging them is a no-op.
	d1 := mkdir(t, root, "dir")
	d2, _, err := root.Lookup(ctx, "dir")
	require.NoError(t, err)
	t.Cleanup(d2.Release)
	require.NoError(t, d1.Merge(d2))

	// A cross conflict refuses the merge and records it.
	h3, _, err := root.Lookup(ctx, "dup")
	require.NoError(t, err)
	t.Cleanup(h3.Release)
	require.NoError(t, h3.share.Reserve(vfs.OpenClosed, vfs.OpenWrite, false))
	require.NoError(t, h1.share.Reserve(vfs.OpenClosed, vfs.OpenDenyWrite, false))

	err = h1.Merge(h3)
	require.True(t, vfs.IsStatus(err, vfs.StatusShareDenied))
	require.Positive(t, env.metrics.conflictCount("merge"))
}
