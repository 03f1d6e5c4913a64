package adapter

import (
	"github.com/tidefs/tidegate/internal/logger"
	"github.com/tidefs/tidegate/pkg/tide"
	"github.com/tidefs/tidegate/pkg/vfs"
)

// ============================================================================
// Error Translation - Tide Errnos → VFS Status
// ============================================================================

// errnoStatus maps every tide errno the store surfaces to its VFS status.
// Errnos without an entry fall through to StatusServerFault.
var errnoStatus = map[tide.Errno]vfs.Status{
	tide.EPERM:        vfs.StatusPerm,
	tide.ENOENT:       vfs.StatusNotFound,
	tide.ECONNREFUSED: vfs.StatusIOError,
	tide.ECONNABORTED: vfs.StatusIOError,
	tide.ECONNRESET:   vfs.StatusIOError,
	tide.EIO:          vfs.StatusIOError,
	tide.ENFILE:       vfs.StatusIOError,
	tide.EMFILE:       vfs.StatusIOError,
	tide.EPIPE:        vfs.StatusIOError,
	tide.ENODEV:       vfs.StatusNoSuchDevice,
	tide.ENXIO:        vfs.StatusNoSuchDevice,
	tide.EBADF:        vfs.StatusNotOpen,
	tide.ENOMEM:       vfs.StatusNoMemory,
	tide.EACCES:       vfs.StatusAccessDenied,
	tide.EFAULT:       vfs.StatusFault,
	tide.EEXIST:       vfs.StatusAlreadyExists,
	tide.EXDEV:        vfs.StatusCrossDevice,
	tide.ENOTDIR:      vfs.StatusNotDirectory,
	tide.EISDIR:       vfs.StatusIsDirectory,
	tide.EINVAL:       vfs.StatusInvalidArgument,
	tide.EFBIG:        vfs.StatusTooBig,
	tide.ENOSPC:       vfs.StatusNoSpace,
	tide.EMLINK:       vfs.StatusTooManyLinks,
	tide.EDQUOT:       vfs.StatusQuotaExceeded,
	tide.ENAMETOOLONG: vfs.StatusNameTooLong,
	tide.ENOTEMPTY:    vfs.StatusNotEmpty,
	tide.ESTALE:       vfs.StatusStale,
	tide.EAGAIN:       vfs.StatusTemporaryDelay,
	tide.EBUSY:        vfs.StatusTemporaryDelay,
}

// translateError converts a tide store error into the VFS status error the
// protocol layer consumes.
//
// The translation is errno-driven: every tide.StoreError carries a Linux
// errno, and the table above folds those into the coarser VFS status
// space. EBADF deliberately maps to StatusNotOpen rather than a generic
// fault so that use-after-close bugs stay distinguishable. The minor code
// always preserves the original errno, even for errnos the table does not
// know, so nothing is lost for diagnostics.
//
// Errors that are not tide.StoreError (including context cancellation)
// map to StatusServerFault with minor zero.
//
// A nil err returns nil.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}

	errno, ok := tide.ErrnoOf(err)
	if !ok {
		logger.Error("%s failed: %v", op, err)
		return vfs.NewStatusError(vfs.StatusServerFault, 0)
	}

	status, ok := errnoStatus[errno]
	if !ok {
		status = vfs.StatusServerFault
	}

	switch status {
	case vfs.StatusNotFound, vfs.StatusAlreadyExists, vfs.StatusNotEmpty,
		vfs.StatusAccessDenied, vfs.StatusPerm:
		// Expected client-visible outcomes stay quiet.
		logger.Debug("%s: %v -> %s", op, err, status)
	case vfs.StatusTemporaryDelay:
		logger.Warn("%s delayed: %v", op, err)
	default:
		logger.Error("%s failed: %v -> %s", op, err, status)
	}

	return vfs.NewStatusError(status, int32(errno))
}
