package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/tide"
	"github.com/tidefs/tidegate/pkg/vfs"
)

// TestStatToAttrs verifies the backend stat maps onto a fully populated
// attribute set.
func TestStatToAttrs(t *testing.T) {
	now := time.Unix(1700000000, 0)
	st := &tide.Stat{
		Dev:    42,
		Ino:    7,
		Mode:   tide.ModeRegular | 0o640,
		NLink:  1,
		UID:    3,
		GID:    4,
		Size:   1000,
		Blocks: 2,
		ATime:  now,
		MTime:  now.Add(time.Second),
		CTime:  now.Add(2 * time.Second),
	}

	attrs := statToAttrs(st)
	require.Equal(t, vfs.SupportedAttrs, attrs.Valid)
	require.Equal(t, vfs.FileTypeRegular, attrs.Type)
	require.Equal(t, uint32(0o640), attrs.Mode, "type bits stay out of the reported mode")
	require.Equal(t, uint32(3), attrs.Owner)
	require.Equal(t, uint32(4), attrs.Group)
	require.Equal(t, uint64(1000), attrs.Size)
	require.Equal(t, uint64(1024), attrs.SpaceUsed)
	require.Equal(t, vfs.FSID{Major: 42}, attrs.FSID)
	require.Equal(t, uint64(7), attrs.FileID)
	require.True(t, attrs.ChgTime.Equal(st.CTime))
}

// TestVerifierEmbedding verifies the create verifier rides in the
// timestamp seconds and round-trips through the comparison.
func TestVerifierEmbedding(t *testing.T) {
	verifier := vfs.Verifier{0, 0, 0, 7, 0, 0, 0, 9}
	attrs := &vfs.Attributes{}
	embedVerifier(attrs, verifier)

	require.True(t, attrs.Has(vfs.AttrATime))
	require.True(t, attrs.Has(vfs.AttrMTime))
	require.Equal(t, int64(7), attrs.ATime.Unix())
	require.Equal(t, int64(9), attrs.MTime.Unix())
	require.True(t, checkVerifier(attrs, verifier))

	other := verifier
	other[7] = 10
	require.False(t, checkVerifier(attrs, other))
}

// TestSetAttrsRejectsNonSettable walks every read-only attribute bit and
// checks the request dies before reaching the store.
func TestSetAttrsRejectsNonSettable(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	file := mkfile(t, env.export.Root(), "strict")

	nonSettable := []vfs.AttrMask{
		vfs.AttrType,
		vfs.AttrNumLinks,
		vfs.AttrRawDev,
		vfs.AttrChgTime,
		vfs.AttrSpaceUsed,
		vfs.AttrFSID,
		vfs.AttrFileID,
	}
	for _, bit := range nonSettable {
		err := file.SetAttrs2(ctx, false, nil, &vfs.Attributes{Valid: bit})
		require.True(t, vfs.IsStatus(err, vfs.StatusInvalidArgument), "bit %s", bit)
	}

	// A settable field does not smuggle a read-only one through.
	attrs := (&vfs.Attributes{}).SetMode(0o600)
	attrs.Valid |= vfs.AttrFileID
	err := file.SetAttrs2(ctx, false, nil, attrs)
	require.True(t, vfs.IsStatus(err, vfs.StatusInvalidArgument))

	require.Equal(t, 0, env.faults.setAttrCount(), "rejections never reach the store")
}

// TestSetAttrsAppliesFields verifies mode, ownership and timestamps land
// on the object, with the export umask applied to mode changes.
func TestSetAttrsAppliesFields(t *testing.T) {
	env := newTestEnv(t, Options{Umask: 0o027})
	ctx := context.Background()
	file := mkfile(t, env.export.Root(), "mutable")

	when := time.Unix(1700000000, 0)
	attrs := (&vfs.Attributes{}).
		SetMode(0o777).
		SetOwner(7).
		SetGroup(8).
		SetATime(when).
		SetMTime(when.Add(time.Minute))
	require.NoError(t, file.SetAttrs2(ctx, false, nil, attrs))

	got, err := file.GetAttrs(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(0o750), got.Mode, "the umask applies to mode changes too")
	require.Equal(t, uint32(7), got.Owner)
	require.Equal(t, uint32(8), got.Group)
	require.True(t, got.ATime.Equal(when))
	require.True(t, got.MTime.Equal(when.Add(time.Minute)))
}

// TestSetAttrsServerTime verifies server-time requests resolve against
// the local clock and win over explicit timestamps.
func TestSetAttrsServerTime(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	file := mkfile(t, env.export.Root(), "clocked")

	stale := time.Unix(1, 0)
	attrs := (&vfs.Attributes{}).SetATime(stale).SetMTime(stale)
	attrs.Valid |= vfs.AttrATimeServer | vfs.AttrMTimeServer

	before := time.Now().Add(-time.Minute)
	require.NoError(t, file.SetAttrs2(ctx, false, nil, attrs))

	got, err := file.GetAttrs(ctx)
	require.NoError(t, err)
	require.True(t, got.ATime.After(before), "atime %v was not refreshed", got.ATime)
	require.True(t, got.MTime.After(before), "mtime %v was not refreshed", got.MTime)
}

// TestTruncateThroughSetAttrs verifies a size change with an open state
// truncates without consulting the reservation counters.
func TestTruncateThroughSetAttrs(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	file := mkfile(t, env.export.Root(), "clipped")

	state := vfs.NewOpenState(vfs.StateShare)
	_, err := file.Open2(ctx, OpenRequest{State: state, Flags: vfs.OpenWrite})
	require.NoError(t, err)
	_, err = file.Write2(ctx, 0, []byte("0123456789"), false, nil)
	require.NoError(t, err)

	require.NoError(t, file.SetAttrs2(ctx, false, state, (&vfs.Attributes{}).SetSize(4)))

	got, err := file.GetAttrs(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(4), got.Size)
	require.NoError(t, file.Close2(ctx, state))
}

// TestStatelessTruncateHonorsReservations verifies a stateless size
// change is checked like a stateless writer: advisory denies block it,
// bypass skips them, a mandatory deny holds regardless.
func TestStatelessTruncateHonorsReservations(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	file := mkfile(t, env.export.Root(), "guarded")

	state := vfs.NewOpenState(vfs.StateShare)
	_, err := file.Open2(ctx, OpenRequest{State: state, Flags: vfs.OpenRead | vfs.OpenDenyWrite})
	require.NoError(t, err)

	err = file.SetAttrs2(ctx, false, nil, (&vfs.Attributes{}).SetSize(0))
	require.True(t, vfs.IsStatus(err, vfs.StatusShareDenied))
	require.Positive(t, env.metrics.conflictCount("setattr2"))

	require.NoError(t, file.SetAttrs2(ctx, true, nil, (&vfs.Attributes{}).SetSize(0)))

	require.NoError(t, file.Close2(ctx, state))

	state2 := vfs.NewOpenState(vfs.StateShare)
	_, err = file.Open2(ctx, OpenRequest{State: state2, Flags: vfs.OpenRead | vfs.OpenDenyWriteMandatory})
	require.NoError(t, err)

	err = file.SetAttrs2(ctx, true, nil, (&vfs.Attributes{}).SetSize(0))
	require.True(t, vfs.IsStatus(err, vfs.StatusShareDenied))

	require.NoError(t, file.Close2(ctx, state2))
}

// TestTruncateDirectoryRejected verifies a size change on a directory is
// the adapter's own EINVAL, decided before any backend call.
func TestTruncateDirectoryRejected(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	dir := mkdir(t, env.export.Root(), "solid")

	err := dir.SetAttrs2(ctx, false, nil, (&vfs.Attributes{}).SetSize(0))
	require.True(t, vfs.IsStatus(err, vfs.StatusInvalidArgument))
	var serr *vfs.StatusError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, int32(tide.EINVAL), serr.Minor)

	require.Equal(t, 0, env.faults.truncateCount(), "the store never saw a truncate")
}
