package contenttest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/tide/content"
)

// mustWrite stores payload at offset and checks the full count came back.
func mustWrite(t *testing.T, store content.Store, id content.ID, offset uint64, payload string) {
	t.Helper()
	n, err := store.WriteAt(testContext(), id, []byte(payload), offset)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
}

// mustReadAll fetches the whole object.
func mustReadAll(t *testing.T, store content.Store, id content.ID) []byte {
	t.Helper()
	ctx := testContext()
	size, err := store.Size(ctx, id)
	require.NoError(t, err)
	buf := make([]byte, size)
	if size == 0 {
		return buf
	}
	n, err := store.ReadAt(ctx, id, buf, 0)
	require.NoError(t, err)
	return buf[:n]
}

// RunReadTests covers ReadAt and Size.
func (s *Suite) RunReadTests(t *testing.T) {
	t.Run("AbsentReadsEmpty", func(t *testing.T) { testReadAbsent(t, s.NewStore(t)) })
	t.Run("RoundTrip", func(t *testing.T) { testReadRoundTrip(t, s.NewStore(t)) })
	t.Run("AtOffset", func(t *testing.T) { testReadAtOffset(t, s.NewStore(t)) })
	t.Run("PastEnd", func(t *testing.T) { testReadPastEnd(t, s.NewStore(t)) })
	t.Run("ShortAtEnd", func(t *testing.T) { testReadShortAtEnd(t, s.NewStore(t)) })
	t.Run("EmptyBuffer", func(t *testing.T) { testReadEmptyBuffer(t, s.NewStore(t)) })
}

func testReadAbsent(t *testing.T, store content.Store) {
	ctx := testContext()

	size, err := store.Size(ctx, "ghost")
	require.NoError(t, err)
	require.Zero(t, size)

	buf := make([]byte, 16)
	n, err := store.ReadAt(ctx, "ghost", buf, 0)
	require.NoError(t, err)
	require.Zero(t, n)
}

func testReadRoundTrip(t *testing.T, store content.Store) {
	ctx := testContext()
	mustWrite(t, store, "obj", 0, "the quick brown fox")

	size, err := store.Size(ctx, "obj")
	require.NoError(t, err)
	require.Equal(t, uint64(len("the quick brown fox")), size)

	require.Equal(t, []byte("the quick brown fox"), mustReadAll(t, store, "obj"))
}

func testReadAtOffset(t *testing.T, store content.Store) {
	mustWrite(t, store, "obj", 0, "the quick brown fox")

	buf := make([]byte, 5)
	n, err := store.ReadAt(testContext(), "obj", buf, 4)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "quick", string(buf))
}

func testReadPastEnd(t *testing.T, store content.Store) {
	ctx := testContext()
	mustWrite(t, store, "obj", 0, "data")

	buf := make([]byte, 8)
	n, err := store.ReadAt(ctx, "obj", buf, 4)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = store.ReadAt(ctx, "obj", buf, 100)
	require.NoError(t, err)
	require.Zero(t, n)
}

func testReadShortAtEnd(t *testing.T, store content.Store) {
	mustWrite(t, store, "obj", 0, "1234567890")

	// The buffer runs past the end; the read stops there.
	buf := make([]byte, 32)
	n, err := store.ReadAt(testContext(), "obj", buf, 6)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "7890", string(buf[:n]))
}

func testReadEmptyBuffer(t *testing.T, store content.Store) {
	mustWrite(t, store, "obj", 0, "data")

	n, err := store.ReadAt(testContext(), "obj", nil, 0)
	require.NoError(t, err)
	require.Zero(t, n)
}

// RunWriteTests covers WriteAt placement and growth.
func (s *Suite) RunWriteTests(t *testing.T) {
	t.Run("CreatesObject", func(t *testing.T) { testWriteCreates(t, s.NewStore(t)) })
	t.Run("OverwriteMiddle", func(t *testing.T) { testWriteOverwriteMiddle(t, s.NewStore(t)) })
	t.Run("ExtendsTail", func(t *testing.T) { testWriteExtendsTail(t, s.NewStore(t)) })
	t.Run("GapZeroFilled", func(t *testing.T) { testWriteGapZeroFilled(t, s.NewStore(t)) })
	t.Run("OverwritePrefix", func(t *testing.T) { testWriteOverwritePrefix(t, s.NewStore(t)) })
}

func testWriteCreates(t *testing.T, store content.Store) {
	mustWrite(t, store, "obj", 0, "payload")

	size, err := store.Size(testContext(), "obj")
	require.NoError(t, err)
	require.Equal(t, uint64(len("payload")), size)
}

func testWriteOverwriteMiddle(t *testing.T, store content.Store) {
	mustWrite(t, store, "obj", 0, "aaaaaa")
	mustWrite(t, store, "obj", 2, "bb")

	require.Equal(t, []byte("aabbaa"), mustReadAll(t, store, "obj"))
}

func testWriteExtendsTail(t *testing.T, store content.Store) {
	mustWrite(t, store, "obj", 0, "abc")
	mustWrite(t, store, "obj", 3, "defg")

	require.Equal(t, []byte("abcdefg"), mustReadAll(t, store, "obj"))
}

func testWriteGapZeroFilled(t *testing.T, store content.Store) {
	mustWrite(t, store, "obj", 8, "tail")

	got := mustReadAll(t, store, "obj")
	require.Len(t, got, 12)
	require.Equal(t, make([]byte, 8), got[:8])
	require.Equal(t, "tail", string(got[8:]))
}

func testWriteOverwritePrefix(t *testing.T, store content.Store) {
	mustWrite(t, store, "obj", 0, "abcdef")
	mustWrite(t, store, "obj", 0, "XY")

	require.Equal(t, []byte("XYcdef"), mustReadAll(t, store, "obj"))
}

// RunTruncateTests covers length changes.
func (s *Suite) RunTruncateTests(t *testing.T) {
	t.Run("ShrinkKeepsPrefix", func(t *testing.T) { testTruncateShrink(t, s.NewStore(t)) })
	t.Run("GrowZeroFills", func(t *testing.T) { testTruncateGrow(t, s.NewStore(t)) })
	t.Run("SameSize", func(t *testing.T) { testTruncateSameSize(t, s.NewStore(t)) })
	t.Run("ToZero", func(t *testing.T) { testTruncateToZero(t, s.NewStore(t)) })
	t.Run("AbsentGrows", func(t *testing.T) { testTruncateAbsent(t, s.NewStore(t)) })
}

func testTruncateShrink(t *testing.T, store content.Store) {
	mustWrite(t, store, "obj", 0, "hello world")
	require.NoError(t, store.Truncate(testContext(), "obj", 5))

	require.Equal(t, []byte("hello"), mustReadAll(t, store, "obj"))
}

func testTruncateGrow(t *testing.T, store content.Store) {
	mustWrite(t, store, "obj", 0, "abc")
	require.NoError(t, store.Truncate(testContext(), "obj", 8))

	want := append([]byte("abc"), make([]byte, 5)...)
	require.True(t, bytes.Equal(want, mustReadAll(t, store, "obj")))
}

func testTruncateSameSize(t *testing.T, store content.Store) {
	mustWrite(t, store, "obj", 0, "steady")
	require.NoError(t, store.Truncate(testContext(), "obj", 6))

	require.Equal(t, []byte("steady"), mustReadAll(t, store, "obj"))
}

func testTruncateToZero(t *testing.T, store content.Store) {
	ctx := testContext()
	mustWrite(t, store, "obj", 0, "going away")
	require.NoError(t, store.Truncate(ctx, "obj", 0))

	size, err := store.Size(ctx, "obj")
	require.NoError(t, err)
	require.Zero(t, size)
}

func testTruncateAbsent(t *testing.T, store content.Store) {
	require.NoError(t, store.Truncate(testContext(), "fresh", 5))

	require.Equal(t, make([]byte, 5), mustReadAll(t, store, "fresh"))
}

// RunRemoveTests covers deletion.
func (s *Suite) RunRemoveTests(t *testing.T) {
	t.Run("DropsObject", func(t *testing.T) { testRemoveDrops(t, s.NewStore(t)) })
	t.Run("Idempotent", func(t *testing.T) { testRemoveIdempotent(t, s.NewStore(t)) })
	t.Run("RewriteAfterRemove", func(t *testing.T) { testRemoveRewrite(t, s.NewStore(t)) })
}

func testRemoveDrops(t *testing.T, store content.Store) {
	ctx := testContext()
	mustWrite(t, store, "obj", 0, "short lived")
	require.NoError(t, store.Remove(ctx, "obj"))

	size, err := store.Size(ctx, "obj")
	require.NoError(t, err)
	require.Zero(t, size)

	buf := make([]byte, 4)
	n, err := store.ReadAt(ctx, "obj", buf, 0)
	require.NoError(t, err)
	require.Zero(t, n)
}

func testRemoveIdempotent(t *testing.T, store content.Store) {
	ctx := testContext()
	mustWrite(t, store, "obj", 0, "x")

	require.NoError(t, store.Remove(ctx, "obj"))
	require.NoError(t, store.Remove(ctx, "obj"))
	require.NoError(t, store.Remove(ctx, "never-existed"))
}

func testRemoveRewrite(t *testing.T, store content.Store) {
	mustWrite(t, store, "obj", 0, "first life")
	require.NoError(t, store.Remove(testContext(), "obj"))

	mustWrite(t, store, "obj", 0, "second")
	require.Equal(t, []byte("second"), mustReadAll(t, store, "obj"))
}
