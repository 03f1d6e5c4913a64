package tidetest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/tide"
)

// RunLookupTests exercises path and name resolution.
func (s *Suite) RunLookupTests(t *testing.T) {
	t.Run("Root", s.testLookupRoot)
	t.Run("RelativePathRejected", s.testLookupRelativePathRejected)
	t.Run("DescendantPath", s.testLookupDescendantPath)
	t.Run("Missing", s.testLookupMissing)
	t.Run("ThroughFile", s.testLookupThroughFile)
	t.Run("DotAndDotDot", s.testLookupDotAndDotDot)
}

func (s *Suite) testLookupRoot(t *testing.T) {
	fs := s.NewFileSystem(t)

	root := mustRoot(t, fs)
	st := mustStat(t, root)
	require.True(t, st.IsDir())
	require.GreaterOrEqual(t, st.NLink, uint32(2))
	require.NotZero(t, st.Ino)
}

func (s *Suite) testLookupRelativePathRejected(t *testing.T) {
	fs := s.NewFileSystem(t)

	_, err := fs.LookupPath(testContext(), "relative/path")
	requireErrno(t, tide.EINVAL, err)

	_, err = fs.LookupPath(testContext(), "")
	requireErrno(t, tide.EINVAL, err)
}

func (s *Suite) testLookupDescendantPath(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	dir := mustMkdir(t, root, "a")
	file := mustCreate(t, dir, "f")

	byPath, err := fs.LookupPath(testContext(), "/a/f")
	require.NoError(t, err)
	t.Cleanup(byPath.Release)

	require.Equal(t, file.Key(), byPath.Key())
}

func (s *Suite) testLookupMissing(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	_, err := fs.LookupPath(testContext(), "/nope")
	requireErrno(t, tide.ENOENT, err)

	_, err = root.Lookup(testContext(), "nope")
	requireErrno(t, tide.ENOENT, err)
}

func (s *Suite) testLookupThroughFile(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	file := mustCreate(t, root, "f")

	_, err := fs.LookupPath(testContext(), "/f/x")
	requireErrno(t, tide.ENOTDIR, err)

	_, err = file.Lookup(testContext(), "x")
	requireErrno(t, tide.ENOTDIR, err)
}

func (s *Suite) testLookupDotAndDotDot(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	dir := mustMkdir(t, root, "child")

	self := mustLookup(t, dir, ".")
	require.Equal(t, dir.Key(), self.Key())

	parent := mustLookup(t, dir, "..")
	require.Equal(t, root.Key(), parent.Key())

	// The root is its own parent.
	rootParent := mustLookup(t, root, "..")
	require.Equal(t, root.Key(), rootParent.Key())
}

// RunCreateTests exercises regular-file creation.
func (s *Suite) RunCreateTests(t *testing.T) {
	t.Run("NewFile", s.testCreateNewFile)
	t.Run("TypeBitsIgnored", s.testCreateTypeBitsIgnored)
	t.Run("ExistingReturned", s.testCreateExistingReturned)
	t.Run("ExclusiveFails", s.testCreateExclusiveFails)
	t.Run("OverDirectory", s.testCreateOverDirectory)
	t.Run("InvalidNames", s.testCreateInvalidNames)
	t.Run("InsideFile", s.testCreateInsideFile)
}

func (s *Suite) testCreateNewFile(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	st := tide.Stat{Mode: 0o640, UID: testUID, GID: testGID}
	h, err := root.Create(testContext(), "new.txt", &st, 0)
	require.NoError(t, err)
	t.Cleanup(h.Release)

	// st receives the resulting attributes.
	require.True(t, st.IsRegular())
	require.Equal(t, uint32(tide.ModeRegular|0o640), st.Mode)
	require.Equal(t, uint32(1), st.NLink)
	require.Equal(t, testUID, st.UID)
	require.Equal(t, testGID, st.GID)
	require.Zero(t, st.Size)
	require.False(t, st.MTime.IsZero())
	require.Greater(t, st.Ino, uint64(1))

	other := mustCreate(t, root, "other.txt")
	require.NotEqual(t, h.Key().Ino, other.Key().Ino)
}

func (s *Suite) testCreateTypeBitsIgnored(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	// Callers cannot smuggle a type through the requested mode.
	st := tide.Stat{Mode: tide.ModeDir | 0o600, UID: testUID, GID: testGID}
	h, err := root.Create(testContext(), "f", &st, 0)
	require.NoError(t, err)
	t.Cleanup(h.Release)

	require.Equal(t, uint32(tide.ModeRegular|0o600), st.Mode)
}

func (s *Suite) testCreateExistingReturned(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	first := mustCreate(t, root, "f")
	mustWrite(t, first, 0, []byte("hello"))

	st := tide.Stat{Mode: 0o600, UID: 42, GID: 42}
	again, err := root.Create(testContext(), "f", &st, 0)
	require.NoError(t, err)
	t.Cleanup(again.Release)

	// The existing node comes back untouched, with its attributes.
	require.Equal(t, first.Key(), again.Key())
	require.Equal(t, uint64(5), st.Size)
	require.Equal(t, uint32(tide.ModeRegular|0o644), st.Mode)
	require.Equal(t, testUID, st.UID)
}

func (s *Suite) testCreateExclusiveFails(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	mustCreate(t, root, "f")

	st := tide.Stat{Mode: 0o644}
	_, err := root.Create(testContext(), "f", &st, tide.OpenExclusive)
	requireErrno(t, tide.EEXIST, err)
}

func (s *Suite) testCreateOverDirectory(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	mustMkdir(t, root, "d")

	st := tide.Stat{Mode: 0o644}
	_, err := root.Create(testContext(), "d", &st, 0)
	requireErrno(t, tide.EISDIR, err)
}

func (s *Suite) testCreateInvalidNames(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	for _, name := range []string{"", ".", ".."} {
		st := tide.Stat{Mode: 0o644}
		_, err := root.Create(testContext(), name, &st, 0)
		requireErrno(t, tide.EINVAL, err)
	}
}

func (s *Suite) testCreateInsideFile(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	file := mustCreate(t, root, "f")

	st := tide.Stat{Mode: 0o644}
	_, err := file.Create(testContext(), "child", &st, 0)
	requireErrno(t, tide.ENOTDIR, err)
}

// RunMkdirTests exercises directory creation.
func (s *Suite) RunMkdirTests(t *testing.T) {
	t.Run("New", s.testMkdirNew)
	t.Run("LinkCounts", s.testMkdirLinkCounts)
	t.Run("Existing", s.testMkdirExisting)
	t.Run("InvalidNames", s.testMkdirInvalidNames)
}

func (s *Suite) testMkdirNew(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	st := tide.Stat{Mode: 0o750, UID: testUID, GID: testGID}
	h, err := root.Mkdir(testContext(), "d", &st)
	require.NoError(t, err)
	t.Cleanup(h.Release)

	require.True(t, st.IsDir())
	require.Equal(t, uint32(tide.ModeDir|0o750), st.Mode)
	require.Equal(t, uint32(2), st.NLink)
	require.Equal(t, testUID, st.UID)
}

func (s *Suite) testMkdirLinkCounts(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	require.Equal(t, uint32(2), mustStat(t, root).NLink)

	a := mustMkdir(t, root, "a")
	require.Equal(t, uint32(3), mustStat(t, root).NLink)

	mustMkdir(t, a, "b")
	require.Equal(t, uint32(3), mustStat(t, a).NLink)
	require.Equal(t, uint32(3), mustStat(t, root).NLink)

	// Plain files do not contribute to the parent's link count.
	mustCreate(t, root, "f")
	require.Equal(t, uint32(3), mustStat(t, root).NLink)
}

func (s *Suite) testMkdirExisting(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	mustMkdir(t, root, "d")
	mustCreate(t, root, "f")

	st := tide.Stat{Mode: 0o755}
	_, err := root.Mkdir(testContext(), "d", &st)
	requireErrno(t, tide.EEXIST, err)

	_, err = root.Mkdir(testContext(), "f", &st)
	requireErrno(t, tide.EEXIST, err)
}

func (s *Suite) testMkdirInvalidNames(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	for _, name := range []string{"", ".", ".."} {
		st := tide.Stat{Mode: 0o755}
		_, err := root.Mkdir(testContext(), name, &st)
		requireErrno(t, tide.EINVAL, err)
	}
}

// RunUnlinkTests exercises removal, including the unlink-while-open
// contract.
func (s *Suite) RunUnlinkTests(t *testing.T) {
	t.Run("File", s.testUnlinkFile)
	t.Run("EmptyDirectory", s.testUnlinkEmptyDirectory)
	t.Run("NonEmptyDirectory", s.testUnlinkNonEmptyDirectory)
	t.Run("Missing", s.testUnlinkMissing)
	t.Run("InsideFile", s.testUnlinkInsideFile)
	t.Run("WhileOpenLingers", s.testUnlinkWhileOpenLingers)
}

func (s *Suite) testUnlinkFile(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	mustCreate(t, root, "f")
	require.NoError(t, root.Unlink(testContext(), "f"))

	_, err := root.Lookup(testContext(), "f")
	requireErrno(t, tide.ENOENT, err)
}

func (s *Suite) testUnlinkEmptyDirectory(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	mustMkdir(t, root, "d")
	require.Equal(t, uint32(3), mustStat(t, root).NLink)

	require.NoError(t, root.Unlink(testContext(), "d"))
	require.Equal(t, uint32(2), mustStat(t, root).NLink)

	_, err := root.Lookup(testContext(), "d")
	requireErrno(t, tide.ENOENT, err)
}

func (s *Suite) testUnlinkNonEmptyDirectory(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	d := mustMkdir(t, root, "d")
	mustCreate(t, d, "f")

	err := root.Unlink(testContext(), "d")
	requireErrno(t, tide.ENOTEMPTY, err)
}

func (s *Suite) testUnlinkMissing(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	err := root.Unlink(testContext(), "nope")
	requireErrno(t, tide.ENOENT, err)
}

func (s *Suite) testUnlinkInsideFile(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	file := mustCreate(t, root, "f")

	err := file.Unlink(testContext(), "x")
	requireErrno(t, tide.ENOTDIR, err)
}

func (s *Suite) testUnlinkWhileOpenLingers(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	st := tide.Stat{Mode: 0o644, UID: testUID, GID: testGID}
	f, err := root.Create(ctx, "victim", &st, 0)
	require.NoError(t, err)
	key := f.Key()

	require.NoError(t, f.Open(ctx, tide.OpenReadWrite))
	_, err = f.Write(ctx, 0, []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, root.Unlink(ctx, "victim"))

	// The name is gone immediately.
	_, err = root.Lookup(ctx, "victim")
	requireErrno(t, tide.ENOENT, err)

	// The open handle keeps working on the anonymous node.
	buf := make([]byte, 16)
	n, err := f.Read(ctx, 0, buf)
	require.NoError(t, err)
	require.Equal(t, "payload", string(buf[:n]))

	got := mustStat(t, f)
	require.Zero(t, got.NLink)

	// Last close plus last release frees the node for good.
	require.NoError(t, f.Close(ctx))
	f.Release()

	_, err = fs.LookupHandle(ctx, key)
	requireErrno(t, tide.ESTALE, err)
}

// RunRenameTests exercises moves and replacement.
func (s *Suite) RunRenameTests(t *testing.T) {
	t.Run("SameDirectory", s.testRenameSameDirectory)
	t.Run("BetweenDirectories", s.testRenameBetweenDirectories)
	t.Run("DirectoryAdjustsLinks", s.testRenameDirectoryAdjustsLinks)
	t.Run("ReplacesFile", s.testRenameReplacesFile)
	t.Run("OntoItself", s.testRenameOntoItself)
	t.Run("NonEmptyTarget", s.testRenameNonEmptyTarget)
	t.Run("FileOverDirectory", s.testRenameFileOverDirectory)
	t.Run("DirectoryOverFile", s.testRenameDirectoryOverFile)
	t.Run("MissingSource", s.testRenameMissingSource)
	t.Run("Timestamps", s.testRenameTimestamps)
}

func (s *Suite) testRenameSameDirectory(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "old")
	require.NoError(t, fs.Rename(ctx, root, "old", root, "new"))

	_, err := root.Lookup(ctx, "old")
	requireErrno(t, tide.ENOENT, err)

	moved := mustLookup(t, root, "new")
	require.Equal(t, f.Key(), moved.Key())
}

func (s *Suite) testRenameBetweenDirectories(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	src := mustMkdir(t, root, "src")
	dst := mustMkdir(t, root, "dst")
	f := mustCreate(t, src, "f")
	mustWrite(t, f, 0, []byte("cargo"))

	require.NoError(t, fs.Rename(ctx, src, "f", dst, "f"))

	_, err := src.Lookup(ctx, "f")
	requireErrno(t, tide.ENOENT, err)

	moved := mustLookup(t, dst, "f")
	require.Equal(t, f.Key(), moved.Key())
	require.Equal(t, "cargo", string(mustRead(t, moved, 0, 16)))
}

func (s *Suite) testRenameDirectoryAdjustsLinks(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	a := mustMkdir(t, root, "a")
	b := mustMkdir(t, root, "b")
	sub := mustMkdir(t, a, "sub")

	require.Equal(t, uint32(3), mustStat(t, a).NLink)
	require.Equal(t, uint32(2), mustStat(t, b).NLink)

	require.NoError(t, fs.Rename(ctx, a, "sub", b, "sub"))

	require.Equal(t, uint32(2), mustStat(t, a).NLink)
	require.Equal(t, uint32(3), mustStat(t, b).NLink)
	require.Equal(t, uint32(2), mustStat(t, sub).NLink)
}

func (s *Suite) testRenameReplacesFile(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	src := mustCreate(t, root, "src")
	mustWrite(t, src, 0, []byte("keep"))

	st := tide.Stat{Mode: 0o644, UID: testUID, GID: testGID}
	target, err := root.Create(ctx, "target", &st, 0)
	require.NoError(t, err)
	targetKey := target.Key()
	target.Release()

	require.NoError(t, fs.Rename(ctx, root, "src", root, "target"))

	_, err = root.Lookup(ctx, "src")
	requireErrno(t, tide.ENOENT, err)

	moved := mustLookup(t, root, "target")
	require.Equal(t, src.Key(), moved.Key())
	require.Equal(t, "keep", string(mustRead(t, moved, 0, 16)))

	// The replaced node is dead.
	_, err = fs.LookupHandle(ctx, targetKey)
	requireErrno(t, tide.ESTALE, err)
}

func (s *Suite) testRenameOntoItself(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	mustWrite(t, f, 0, []byte("stay"))

	require.NoError(t, fs.Rename(ctx, root, "f", root, "f"))

	still := mustLookup(t, root, "f")
	require.Equal(t, f.Key(), still.Key())
	require.Equal(t, "stay", string(mustRead(t, still, 0, 16)))
}

func (s *Suite) testRenameNonEmptyTarget(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	mustMkdir(t, root, "src")
	target := mustMkdir(t, root, "target")
	mustCreate(t, target, "occupant")

	err := fs.Rename(ctx, root, "src", root, "target")
	requireErrno(t, tide.ENOTEMPTY, err)
}

func (s *Suite) testRenameFileOverDirectory(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	mustCreate(t, root, "f")
	mustMkdir(t, root, "d")

	err := fs.Rename(ctx, root, "f", root, "d")
	requireErrno(t, tide.EISDIR, err)
}

func (s *Suite) testRenameDirectoryOverFile(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	mustMkdir(t, root, "d")
	mustCreate(t, root, "f")

	err := fs.Rename(ctx, root, "d", root, "f")
	requireErrno(t, tide.ENOTDIR, err)
}

func (s *Suite) testRenameMissingSource(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	err := fs.Rename(ctx, root, "ghost", root, "new")
	requireErrno(t, tide.ENOENT, err)
}

func (s *Suite) testRenameTimestamps(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	src := mustMkdir(t, root, "src")
	dst := mustMkdir(t, root, "dst")
	f := mustCreate(t, src, "f")

	fileBefore := mustStat(t, f)
	srcBefore := mustStat(t, src)
	dstBefore := mustStat(t, dst)

	require.NoError(t, fs.Rename(ctx, src, "f", dst, "f"))

	require.True(t, mustStat(t, f).CTime.After(fileBefore.CTime))
	require.True(t, mustStat(t, src).MTime.After(srcBefore.MTime))
	require.True(t, mustStat(t, dst).MTime.After(dstBefore.MTime))
}
