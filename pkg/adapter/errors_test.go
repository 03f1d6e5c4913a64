package adapter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/tide"
	"github.com/tidefs/tidegate/pkg/vfs"
)

// TestTranslateError verifies the errno table: the status is the mapped
// one and the minor code always carries the original errno.
func TestTranslateError(t *testing.T) {
	tests := []struct {
		errno tide.Errno
		want  vfs.Status
	}{
		{tide.EPERM, vfs.StatusPerm},
		{tide.ENOENT, vfs.StatusNotFound},
		{tide.EIO, vfs.StatusIOError},
		{tide.ENFILE, vfs.StatusIOError},
		{tide.EMFILE, vfs.StatusIOError},
		{tide.EPIPE, vfs.StatusIOError},
		{tide.ECONNREFUSED, vfs.StatusIOError},
		{tide.ECONNABORTED, vfs.StatusIOError},
		{tide.ECONNRESET, vfs.StatusIOError},
		{tide.ENODEV, vfs.StatusNoSuchDevice},
		{tide.ENXIO, vfs.StatusNoSuchDevice},
		{tide.EBADF, vfs.StatusNotOpen},
		{tide.ENOMEM, vfs.StatusNoMemory},
		{tide.EACCES, vfs.StatusAccessDenied},
		{tide.EFAULT, vfs.StatusFault},
		{tide.EEXIST, vfs.StatusAlreadyExists},
		{tide.EXDEV, vfs.StatusCrossDevice},
		{tide.ENOTDIR, vfs.StatusNotDirectory},
		{tide.EISDIR, vfs.StatusIsDirectory},
		{tide.EINVAL, vfs.StatusInvalidArgument},
		{tide.EFBIG, vfs.StatusTooBig},
		{tide.ENOSPC, vfs.StatusNoSpace},
		{tide.EMLINK, vfs.StatusTooManyLinks},
		{tide.EDQUOT, vfs.StatusQuotaExceeded},
		{tide.ENAMETOOLONG, vfs.StatusNameTooLong},
		{tide.ENOTEMPTY, vfs.StatusNotEmpty},
		{tide.ESTALE, vfs.StatusStale},
		{tide.EAGAIN, vfs.StatusTemporaryDelay},
		{tide.EBUSY, vfs.StatusTemporaryDelay},
	}

	for _, tt := range tests {
		t.Run(tt.errno.Error(), func(t *testing.T) {
			got := translateError("test", &tide.StoreError{Errno: tt.errno, Op: "test"})
			require.True(t, vfs.IsStatus(got, tt.want), "got %v", got)

			var serr *vfs.StatusError
			require.ErrorAs(t, got, &serr)
			require.Equal(t, int32(tt.errno), serr.Minor)
		})
	}
}

// TestTranslateErrorEdges verifies the fallthrough behavior for nil, bare
// errnos, unknown codes and foreign errors.
func TestTranslateErrorEdges(t *testing.T) {
	require.NoError(t, translateError("test", nil))

	// A bare errno translates like a wrapped one.
	got := translateError("test", tide.ENOENT)
	require.True(t, vfs.IsStatus(got, vfs.StatusNotFound))

	// Codes the table does not know become server faults but keep the
	// errno as the minor code.
	got = translateError("test", &tide.StoreError{Errno: tide.Errno(250), Op: "test"})
	require.True(t, vfs.IsStatus(got, vfs.StatusServerFault))
	var serr *vfs.StatusError
	require.ErrorAs(t, got, &serr)
	require.Equal(t, int32(250), serr.Minor)

	// Errors outside the store's domain carry no errno at all.
	got = translateError("test", errors.New("wire torn"))
	require.True(t, vfs.IsStatus(got, vfs.StatusServerFault))
	require.ErrorAs(t, got, &serr)
	require.Zero(t, serr.Minor)
}
