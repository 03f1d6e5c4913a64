package tidetest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/tide"
)

// RunOpenTests exercises the single-open-per-node state machine.
func (s *Suite) RunOpenTests(t *testing.T) {
	t.Run("RoundTrip", s.testOpenRoundTrip)
	t.Run("SecondOpenBusy", s.testOpenSecondOpenBusy)
	t.Run("CloseWithoutOpen", s.testOpenCloseWithoutOpen)
	t.Run("DoubleClose", s.testOpenDoubleClose)
	t.Run("DirectoryReadOnly", s.testOpenDirectoryReadOnly)
	t.Run("DirectoryWriteRejected", s.testOpenDirectoryWriteRejected)
	t.Run("TruncateFlag", s.testOpenTruncateFlag)
}

func (s *Suite) testOpenRoundTrip(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	require.NoError(t, f.Open(ctx, tide.OpenReadWrite))
	require.NoError(t, f.Close(ctx))

	// The node is reopenable after close.
	require.NoError(t, f.Open(ctx, tide.OpenRead))
	require.NoError(t, f.Close(ctx))
}

func (s *Suite) testOpenSecondOpenBusy(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	require.NoError(t, f.Open(ctx, tide.OpenWrite))

	// A second open is rejected even through a different handle.
	g := mustLookup(t, root, "f")
	err := g.Open(ctx, tide.OpenRead)
	requireErrno(t, tide.EBUSY, err)

	require.NoError(t, f.Close(ctx))
	require.NoError(t, g.Open(ctx, tide.OpenRead))
	require.NoError(t, g.Close(ctx))
}

func (s *Suite) testOpenCloseWithoutOpen(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	err := f.Close(ctx)
	requireErrno(t, tide.EBADF, err)
}

func (s *Suite) testOpenDoubleClose(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	require.NoError(t, f.Open(ctx, tide.OpenRead))
	require.NoError(t, f.Close(ctx))

	err := f.Close(ctx)
	requireErrno(t, tide.EBADF, err)
}

func (s *Suite) testOpenDirectoryReadOnly(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	require.NoError(t, root.Open(ctx, tide.OpenRead))
	require.NoError(t, root.Close(ctx))
}

func (s *Suite) testOpenDirectoryWriteRejected(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	err := root.Open(ctx, tide.OpenWrite)
	requireErrno(t, tide.EISDIR, err)

	// EISDIR wins over EBUSY when the directory is already open.
	require.NoError(t, root.Open(ctx, tide.OpenRead))
	err = root.Open(ctx, tide.OpenReadWrite)
	requireErrno(t, tide.EISDIR, err)
	require.NoError(t, root.Close(ctx))
}

func (s *Suite) testOpenTruncateFlag(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	mustWrite(t, f, 0, []byte("to be discarded"))

	require.NoError(t, f.Open(ctx, tide.OpenWrite|tide.OpenTruncate))
	require.Zero(t, mustStat(t, f).Size)
	require.NoError(t, f.Close(ctx))
}

// RunReadWriteTests exercises file I/O through open handles.
func (s *Suite) RunReadWriteTests(t *testing.T) {
	t.Run("RoundTrip", s.testIORoundTrip)
	t.Run("SparseWrite", s.testIOSparseWrite)
	t.Run("ReadPastEnd", s.testIOReadPastEnd)
	t.Run("ReadClamped", s.testIOReadClamped)
	t.Run("OverwriteMiddle", s.testIOOverwriteMiddle)
	t.Run("Directory", s.testIODirectory)
	t.Run("WriteBumpsTimes", s.testIOWriteBumpsTimes)
	t.Run("CommitAfterWrite", s.testIOCommitAfterWrite)
}

func (s *Suite) testIORoundTrip(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	mustWrite(t, f, 0, []byte("hello world"))

	require.Equal(t, uint64(11), mustStat(t, f).Size)
	require.Equal(t, "hello world", string(mustRead(t, f, 0, 64)))
	require.Equal(t, "world", string(mustRead(t, f, 6, 5)))
}

func (s *Suite) testIOSparseWrite(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	mustWrite(t, f, 4096, []byte("tail"))

	require.Equal(t, uint64(4100), mustStat(t, f).Size)

	// The hole reads back as zeros.
	gap := mustRead(t, f, 0, 16)
	require.Len(t, gap, 16)
	require.Equal(t, make([]byte, 16), gap)

	require.Equal(t, "tail", string(mustRead(t, f, 4096, 16)))
}

func (s *Suite) testIOReadPastEnd(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	mustWrite(t, f, 0, []byte("short"))

	require.NoError(t, f.Open(ctx, tide.OpenRead))
	buf := make([]byte, 8)
	n, err := f.Read(ctx, 100, buf)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, f.Close(ctx))
}

func (s *Suite) testIOReadClamped(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	mustWrite(t, f, 0, []byte("12345"))

	got := mustRead(t, f, 0, 64)
	require.Equal(t, "12345", string(got))
}

func (s *Suite) testIOOverwriteMiddle(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	mustWrite(t, f, 0, []byte("aaaaaa"))
	mustWrite(t, f, 2, []byte("bb"))

	require.Equal(t, "aabbaa", string(mustRead(t, f, 0, 16)))
	require.Equal(t, uint64(6), mustStat(t, f).Size)
}

func (s *Suite) testIODirectory(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	buf := make([]byte, 8)
	_, err := root.Read(ctx, 0, buf)
	requireErrno(t, tide.EISDIR, err)

	_, err = root.Write(ctx, 0, []byte("x"))
	requireErrno(t, tide.EISDIR, err)
}

func (s *Suite) testIOWriteBumpsTimes(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	before := mustStat(t, f)

	mustWrite(t, f, 0, []byte("data"))

	after := mustStat(t, f)
	require.True(t, after.MTime.After(before.MTime))
	require.True(t, after.CTime.After(before.CTime))
}

func (s *Suite) testIOCommitAfterWrite(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	require.NoError(t, f.Open(ctx, tide.OpenWrite))
	_, err := f.Write(ctx, 0, []byte("durable"))
	require.NoError(t, err)
	require.NoError(t, f.Commit(ctx, 0, 7))
	require.NoError(t, f.Close(ctx))

	require.Equal(t, "durable", string(mustRead(t, f, 0, 16)))
}

// RunTruncateTests exercises size changes outside the open state.
func (s *Suite) RunTruncateTests(t *testing.T) {
	t.Run("Shrink", s.testTruncateShrink)
	t.Run("GrowZeroFills", s.testTruncateGrowZeroFills)
	t.Run("ToZero", s.testTruncateToZero)
	t.Run("SameSize", s.testTruncateSameSize)
	t.Run("Directory", s.testTruncateDirectory)
}

func (s *Suite) testTruncateShrink(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	mustWrite(t, f, 0, []byte("hello world"))

	require.NoError(t, f.Truncate(ctx, 5))
	require.Equal(t, uint64(5), mustStat(t, f).Size)
	require.Equal(t, "hello", string(mustRead(t, f, 0, 64)))
}

func (s *Suite) testTruncateGrowZeroFills(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	mustWrite(t, f, 0, []byte("abc"))

	require.NoError(t, f.Truncate(ctx, 8))
	require.Equal(t, uint64(8), mustStat(t, f).Size)

	got := mustRead(t, f, 0, 16)
	require.True(t, bytes.Equal(got, append([]byte("abc"), 0, 0, 0, 0, 0)))
}

func (s *Suite) testTruncateToZero(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	mustWrite(t, f, 0, []byte("going away"))

	require.NoError(t, f.Truncate(ctx, 0))
	require.Zero(t, mustStat(t, f).Size)
	require.Empty(t, mustRead(t, f, 0, 16))
}

func (s *Suite) testTruncateSameSize(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	mustWrite(t, f, 0, []byte("stable"))

	require.NoError(t, f.Truncate(ctx, 6))
	require.Equal(t, uint64(6), mustStat(t, f).Size)
	require.Equal(t, "stable", string(mustRead(t, f, 0, 16)))
}

func (s *Suite) testTruncateDirectory(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	err := root.Truncate(ctx, 0)
	requireErrno(t, tide.EISDIR, err)
}
