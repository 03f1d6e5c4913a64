package tidetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/tide"
)

// RunAttrTests exercises attribute reads and masked writes.
func (s *Suite) RunAttrTests(t *testing.T) {
	t.Run("Defaults", s.testAttrDefaults)
	t.Run("SetMode", s.testAttrSetMode)
	t.Run("SetOwnership", s.testAttrSetOwnership)
	t.Run("SetTimesExplicit", s.testAttrSetTimesExplicit)
	t.Run("CtimeBumps", s.testAttrCtimeBumps)
	t.Run("ZeroMaskNoChange", s.testAttrZeroMaskNoChange)
}

func (s *Suite) testAttrDefaults(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	g := mustCreate(t, root, "g")

	fSt, gSt := mustStat(t, f), mustStat(t, g)

	// One device per volume, distinct identifiers per node.
	require.NotZero(t, fSt.Dev)
	require.Equal(t, fSt.Dev, gSt.Dev)
	require.NotEqual(t, fSt.Ino, gSt.Ino)
	require.Zero(t, fSt.Blocks)
}

func (s *Suite) testAttrSetMode(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")

	// Type bits in the request are ignored; only permissions apply.
	st := tide.Stat{Mode: tide.ModeDir | 0o600}
	require.NoError(t, f.SetAttr(ctx, &st, tide.SetAttrMode))

	got := mustStat(t, f)
	require.True(t, got.IsRegular())
	require.Equal(t, uint32(tide.ModeRegular|0o600), got.Mode)
}

func (s *Suite) testAttrSetOwnership(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")

	st := tide.Stat{UID: 500, GID: 600}
	require.NoError(t, f.SetAttr(ctx, &st, tide.SetAttrUID|tide.SetAttrGID))

	got := mustStat(t, f)
	require.Equal(t, uint32(500), got.UID)
	require.Equal(t, uint32(600), got.GID)
	// Mode untouched.
	require.Equal(t, uint32(tide.ModeRegular|0o644), got.Mode)
}

func (s *Suite) testAttrSetTimesExplicit(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")

	atime := time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)
	mtime := time.Date(2021, 1, 2, 3, 4, 5, 600, time.UTC)
	st := tide.Stat{ATime: atime, MTime: mtime}
	require.NoError(t, f.SetAttr(ctx, &st, tide.SetAttrATime|tide.SetAttrMTime))

	got := mustStat(t, f)
	require.True(t, got.ATime.Equal(atime), "atime %v != %v", got.ATime, atime)
	require.True(t, got.MTime.Equal(mtime), "mtime %v != %v", got.MTime, mtime)
}

func (s *Suite) testAttrCtimeBumps(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	before := mustStat(t, f)

	st := tide.Stat{UID: 7}
	require.NoError(t, f.SetAttr(ctx, &st, tide.SetAttrUID))

	require.True(t, mustStat(t, f).CTime.After(before.CTime))
}

func (s *Suite) testAttrZeroMaskNoChange(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	before := mustStat(t, f)

	st := tide.Stat{Mode: 0, UID: 9999, GID: 9999}
	require.NoError(t, f.SetAttr(ctx, &st, 0))

	got := mustStat(t, f)
	require.Equal(t, before.Mode, got.Mode)
	require.Equal(t, before.UID, got.UID)
	require.Equal(t, before.GID, got.GID)
	require.True(t, got.CTime.Equal(before.CTime))
}

// RunKeyTests exercises node-key identity across encoding and resolution.
func (s *Suite) RunKeyTests(t *testing.T) {
	t.Run("WireRoundTrip", s.testKeyWireRoundTrip)
	t.Run("SharedVolume", s.testKeySharedVolume)
	t.Run("WrongVolume", s.testKeyWrongVolume)
	t.Run("WrongGeneration", s.testKeyWrongGeneration)
	t.Run("BadLengthRejected", s.testKeyBadLengthRejected)
}

func (s *Suite) testKeyWireRoundTrip(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	key := f.Key()

	decoded, err := tide.DecodeNodeKey(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, key, decoded)

	resolved, err := fs.LookupHandle(ctx, decoded)
	require.NoError(t, err)
	t.Cleanup(resolved.Release)
	require.Equal(t, key, resolved.Key())
}

func (s *Suite) testKeySharedVolume(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	d := mustMkdir(t, root, "d")

	require.Equal(t, root.Key().Volume, f.Key().Volume)
	require.Equal(t, root.Key().Volume, d.Key().Volume)
}

func (s *Suite) testKeyWrongVolume(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	key := root.Key()
	key.Volume[0] ^= 0xff

	_, err := fs.LookupHandle(ctx, key)
	requireErrno(t, tide.ESTALE, err)
}

func (s *Suite) testKeyWrongGeneration(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")
	key := f.Key()
	key.Gen += 1000

	_, err := fs.LookupHandle(ctx, key)
	requireErrno(t, tide.ESTALE, err)
}

func (s *Suite) testKeyBadLengthRejected(t *testing.T) {
	_, err := tide.DecodeNodeKey(make([]byte, tide.KeySize-1))
	requireErrno(t, tide.EINVAL, err)

	_, err = tide.DecodeNodeKey(make([]byte, tide.KeySize+1))
	requireErrno(t, tide.EINVAL, err)
}

// RunStatFSTests exercises the usage accounting behind StatFS.
func (s *Suite) RunStatFSTests(t *testing.T) {
	t.Run("InitialSane", s.testStatFSInitialSane)
	t.Run("WriteChargesBytes", s.testStatFSWriteChargesBytes)
	t.Run("CreateChargesFiles", s.testStatFSCreateChargesFiles)
	t.Run("UnlinkRefunds", s.testStatFSUnlinkRefunds)
	t.Run("TruncateAdjusts", s.testStatFSTruncateAdjusts)
}

func (s *Suite) testStatFSInitialSane(t *testing.T) {
	fs := s.NewFileSystem(t)

	st := mustStatFS(t, fs)
	require.NotZero(t, st.TotalBytes)
	require.LessOrEqual(t, st.FreeBytes, st.TotalBytes)
	require.LessOrEqual(t, st.AvailBytes, st.FreeBytes)
	require.NotZero(t, st.TotalFiles)
	// The root already occupies one object slot.
	require.Less(t, st.FreeFiles, st.TotalFiles)
}

func (s *Suite) testStatFSWriteChargesBytes(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)
	f := mustCreate(t, root, "f")

	before := mustStatFS(t, fs)
	mustWrite(t, f, 0, make([]byte, 1000))
	after := mustStatFS(t, fs)

	require.Equal(t, uint64(1000), before.FreeBytes-after.FreeBytes)
}

func (s *Suite) testStatFSCreateChargesFiles(t *testing.T) {
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	before := mustStatFS(t, fs)
	mustCreate(t, root, "f")
	mustMkdir(t, root, "d")
	after := mustStatFS(t, fs)

	require.Equal(t, uint64(2), before.FreeFiles-after.FreeFiles)
}

func (s *Suite) testStatFSUnlinkRefunds(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	before := mustStatFS(t, fs)

	st := tide.Stat{Mode: 0o644, UID: testUID, GID: testGID}
	f, err := root.Create(ctx, "f", &st, 0)
	require.NoError(t, err)
	mustWrite(t, f, 0, make([]byte, 2048))
	f.Release()

	require.NoError(t, root.Unlink(ctx, "f"))

	after := mustStatFS(t, fs)
	require.Equal(t, before.FreeBytes, after.FreeBytes)
	require.Equal(t, before.FreeFiles, after.FreeFiles)
}

func (s *Suite) testStatFSTruncateAdjusts(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)
	f := mustCreate(t, root, "f")

	base := mustStatFS(t, fs)

	require.NoError(t, f.Truncate(ctx, 512))
	grown := mustStatFS(t, fs)
	require.Equal(t, uint64(512), base.FreeBytes-grown.FreeBytes)

	require.NoError(t, f.Truncate(ctx, 0))
	shrunk := mustStatFS(t, fs)
	require.Equal(t, base.FreeBytes, shrunk.FreeBytes)
}
