// Package vfs defines the protocol-facing vocabulary shared between a
// network file-access protocol server and the tidegate adapter: status
// codes, attribute masks, open flags, create modes, verifiers and
// open-state tokens.
//
// The adapter consumes these types; it does not define protocol framing.
// Everything here is protocol-agnostic in the same way the NFSv3/NFSv4/9P
// share a common operational vocabulary (open modes, deny modes, attribute
// sets) even though their wire encodings differ.
package vfs

import (
	"errors"
	"fmt"
)

// Status is the generic operation status reported to the protocol server.
//
// The zero value is StatusOK. Every failed adapter operation returns a
// *StatusError carrying one of the non-zero values below together with the
// backend's original error code as the minor value.
type Status int

const (
	// StatusOK indicates success. Never carried by a StatusError.
	StatusOK Status = iota

	// StatusPerm indicates an operation requiring ownership or similar
	// privilege was attempted by a caller lacking it.
	StatusPerm

	// StatusNotFound indicates the named object does not exist.
	StatusNotFound

	// StatusIOError indicates an unrecoverable backend I/O or transport
	// failure (connection reset, descriptor exhaustion, broken pipe).
	StatusIOError

	// StatusNoSuchDevice indicates the backend device or address no
	// longer exists.
	StatusNoSuchDevice

	// StatusNotOpen indicates an I/O call against an object that has no
	// backend open.
	StatusNotOpen

	// StatusNoMemory indicates an allocation failure in the backend.
	StatusNoMemory

	// StatusAccessDenied indicates the caller's access was denied by
	// permission bits or access policy.
	StatusAccessDenied

	// StatusFault indicates a bad buffer or address was handed to the
	// backend.
	StatusFault

	// StatusAlreadyExists indicates the target name already exists, or an
	// exclusive-create verifier mismatch.
	StatusAlreadyExists

	// StatusCrossDevice indicates an operation spanning two filesystems.
	StatusCrossDevice

	// StatusNotDirectory indicates a non-directory where a directory was
	// required.
	StatusNotDirectory

	// StatusIsDirectory indicates a directory where a non-directory was
	// required.
	StatusIsDirectory

	// StatusInvalidArgument indicates a malformed request: unsupported
	// attribute bits, wrong wire-key length, size change on a directory.
	StatusInvalidArgument

	// StatusTooBig indicates a file size beyond the backend's limit.
	StatusTooBig

	// StatusNoSpace indicates the backend is out of space.
	StatusNoSpace

	// StatusTooManyLinks indicates the backend link-count limit was hit.
	StatusTooManyLinks

	// StatusQuotaExceeded indicates a quota block or inode limit was hit.
	StatusQuotaExceeded

	// StatusNameTooLong indicates a name beyond the backend's limit.
	StatusNameTooLong

	// StatusNotEmpty indicates removal of a non-empty directory.
	StatusNotEmpty

	// StatusStale indicates a wire key that the backend no longer
	// recognizes; the client must re-resolve the object.
	StatusStale

	// StatusTemporaryDelay indicates a transient condition (busy,
	// would-block); the layer above may retry the whole operation.
	StatusTemporaryDelay

	// StatusServerFault indicates an unclassifiable backend failure or an
	// adapter-internal inconsistency.
	StatusServerFault

	// StatusShareDenied indicates the requested open mode conflicts with
	// a share reservation held by another opener.
	StatusShareDenied

	// StatusNotSupported indicates the operation or option is not
	// implemented by this adapter.
	StatusNotSupported

	// StatusTooSmall indicates a caller-supplied buffer too small to
	// receive a wire digest.
	StatusTooSmall
)

var statusNames = map[Status]string{
	StatusOK:              "OK",
	StatusPerm:            "PERM",
	StatusNotFound:        "NOENT",
	StatusIOError:         "IO",
	StatusNoSuchDevice:    "NXIO",
	StatusNotOpen:         "NOT_OPENED",
	StatusNoMemory:        "NOMEM",
	StatusAccessDenied:    "ACCESS",
	StatusFault:           "FAULT",
	StatusAlreadyExists:   "EXIST",
	StatusCrossDevice:     "XDEV",
	StatusNotDirectory:    "NOTDIR",
	StatusIsDirectory:     "ISDIR",
	StatusInvalidArgument: "INVAL",
	StatusTooBig:          "FBIG",
	StatusNoSpace:         "NOSPC",
	StatusTooManyLinks:    "MLINK",
	StatusQuotaExceeded:   "DQUOT",
	StatusNameTooLong:     "NAMETOOLONG",
	StatusNotEmpty:        "NOTEMPTY",
	StatusStale:           "STALE",
	StatusTemporaryDelay:  "DELAY",
	StatusServerFault:     "SERVERFAULT",
	StatusShareDenied:     "SHARE_DENIED",
	StatusNotSupported:    "NOTSUPP",
	StatusTooSmall:        "TOOSMALL",
}

// String returns the short protocol-style name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// StatusError is the error type carried across the adapter boundary.
//
// Status is the generic major code; Minor preserves the backend's original
// error value unchanged (a POSIX-style errno, or 0 when the error
// originated in the adapter itself). Message optionally adds context.
type StatusError struct {
	Status  Status
	Minor   int32
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (minor=%d): %s", e.Status, e.Minor, e.Message)
	}
	return fmt.Sprintf("%s (minor=%d)", e.Status, e.Minor)
}

// NewStatusError builds a StatusError with no message.
func NewStatusError(status Status, minor int32) *StatusError {
	return &StatusError{Status: status, Minor: minor}
}

// Errf builds a StatusError with a formatted message and no minor code.
func Errf(status Status, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the Status from an error chain. A nil error is
// StatusOK; an error chain without a StatusError is StatusServerFault.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusServerFault
}

// IsStatus reports whether the error chain carries the given status.
func IsStatus(err error, status Status) bool {
	return StatusOf(err) == status
}
