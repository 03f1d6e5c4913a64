package tide

import (
	"errors"
	"fmt"
)

// Errno is the error domain of the Tide store: POSIX-style codes with the
// conventional Linux values, carried positively here and negated on the
// store's wire protocol. Errno implements error so store implementations
// can return codes directly or wrapped in a StoreError.
type Errno int32

const (
	EPERM        Errno = 1
	ENOENT       Errno = 2
	EIO          Errno = 5
	ENXIO        Errno = 6
	EBADF        Errno = 9
	EAGAIN       Errno = 11
	ENOMEM       Errno = 12
	EACCES       Errno = 13
	EFAULT       Errno = 14
	EBUSY        Errno = 16
	EEXIST       Errno = 17
	EXDEV        Errno = 18
	ENODEV       Errno = 19
	ENOTDIR      Errno = 20
	EISDIR       Errno = 21
	EINVAL       Errno = 22
	ENFILE       Errno = 23
	EMFILE       Errno = 24
	EFBIG        Errno = 27
	ENOSPC       Errno = 28
	EMLINK       Errno = 31
	EPIPE        Errno = 32
	ENAMETOOLONG Errno = 36
	ENOTEMPTY    Errno = 39
	ECONNABORTED Errno = 103
	ECONNRESET   Errno = 104
	ECONNREFUSED Errno = 111
	ESTALE       Errno = 116
	EDQUOT       Errno = 122
)

var errnoNames = map[Errno]string{
	EPERM:        "operation not permitted",
	ENOENT:       "no such file or directory",
	EIO:          "input/output error",
	ENXIO:        "no such device or address",
	EBADF:        "bad file handle",
	EAGAIN:       "resource temporarily unavailable",
	ENOMEM:       "out of memory",
	EACCES:       "access denied",
	EFAULT:       "bad address",
	EBUSY:        "resource busy",
	EEXIST:       "already exists",
	EXDEV:        "cross-device operation",
	ENODEV:       "no such device",
	ENOTDIR:      "not a directory",
	EISDIR:       "is a directory",
	EINVAL:       "invalid argument",
	ENFILE:       "file table overflow",
	EMFILE:       "too many open files",
	EFBIG:        "file too large",
	ENOSPC:       "no space left on store",
	EMLINK:       "too many links",
	EPIPE:        "broken pipe",
	ENAMETOOLONG: "name too long",
	ENOTEMPTY:    "directory not empty",
	ECONNABORTED: "connection aborted",
	ECONNRESET:   "connection reset",
	ECONNREFUSED: "connection refused",
	ESTALE:       "stale node key",
	EDQUOT:       "quota exceeded",
}

// Error implements the error interface.
func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("errno %d", int32(e))
}

// StoreError wraps an Errno with the failing operation and, where
// meaningful, the path or name involved.
type StoreError struct {
	Errno Errno
	Op    string
	Path  string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("tide: %s %q: %s", e.Op, e.Path, e.Errno.Error())
	}
	return fmt.Sprintf("tide: %s: %s", e.Op, e.Errno.Error())
}

// Unwrap exposes the Errno to errors.Is / errors.As.
func (e *StoreError) Unwrap() error {
	return e.Errno
}

// ErrnoOf extracts the store error code from an error chain. ok is false
// when the chain carries no Errno at all.
func ErrnoOf(err error) (Errno, bool) {
	var errno Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Errno, true
	}
	return 0, false
}

// IsErrno reports whether the error chain carries the given code.
func IsErrno(err error, code Errno) bool {
	errno, ok := ErrnoOf(err)
	return ok && errno == code
}
