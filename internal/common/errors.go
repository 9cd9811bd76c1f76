// Copyright 2024 pvfs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNoAttr        = errors.New("attribute not found")
	ErrInvalidHandle = errors.New("invalid handle")
	ErrClosed        = errors.New("closed")
)

const statusKey = "status"

// NewError builds an error carrying status. The message is formatted like
// fmt.Errorf and the stack is captured at the caller.
func NewError(status Status, format string, a ...any) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue(statusKey, status)
}

// WithStatus annotates an existing error with status. A nil err yields a
// bare status error.
func WithStatus(err error, status Status) error {
	if err == nil {
		return merry.WrapSkipping(status, 1).WithValue(statusKey, status)
	}
	return merry.WrapSkipping(err, 1).WithValue(statusKey, status)
}

// StatusOf extracts the NT status an error maps to. Errors without an
// attached status are translated from their errno when possible and
// reported as StatusUnsuccessful otherwise.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if v := merry.Value(err, statusKey); v != nil {
		if s, ok := v.(Status); ok {
			return s
		}
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return StatusFromErrno(errno)
	}
	if errors.Is(err, ErrNoAttr) {
		return StatusNonexistentEAEntry
	}
	if errors.Is(err, ErrInvalidHandle) || errors.Is(err, ErrClosed) {
		return StatusInvalidHandle
	}
	return StatusUnsuccessful
}

// IsStatus reports whether err maps to status.
func IsStatus(err error, status Status) bool {
	return StatusOf(err) == status
}

// IsRetryable reports whether err carries a status the retry framework can
// resolve by waiting.
func IsRetryable(err error) bool {
	return err != nil && StatusOf(err).IsRetryable()
}

// FromErrno wraps a syscall failure with the status it maps to. Errors that
// already carry a status pass through unchanged.
func FromErrno(err error) error {
	if err == nil {
		return nil
	}
	if merry.Value(err, statusKey) != nil {
		return err
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return merry.WrapSkipping(err, 1).WithValue(statusKey, StatusUnsuccessful)
	}
	return merry.WrapSkipping(err, 1).WithValue(statusKey, StatusFromErrno(errno))
}

// StatusFromErrno maps a unix errno to the closest NT status.
func StatusFromErrno(errno syscall.Errno) Status {
	switch errno {
	case 0:
		return StatusOK
	case unix.EPERM, unix.EACCES:
		return StatusAccessDenied
	case unix.ENOENT:
		return StatusObjectNameNotFound
	case unix.ENOTDIR:
		return StatusNotADirectory
	case unix.EISDIR:
		return StatusFileIsADirectory
	case unix.EEXIST:
		return StatusObjectNameCollision
	case unix.ENOTEMPTY:
		return StatusDirectoryNotEmpty
	case unix.ENOSPC, unix.EDQUOT:
		return StatusDiskFull
	case unix.ENOMEM:
		return StatusNoMemory
	case unix.EROFS:
		return StatusMediaWriteProtected
	case unix.ENAMETOOLONG:
		return StatusNameTooLong
	case unix.EXDEV:
		return StatusNotSameDevice
	case unix.EBADF:
		return StatusInvalidHandle
	case unix.EINVAL:
		return StatusInvalidParameter
	case unix.ELOOP:
		return StatusObjectPathNotFound
	case unix.EMFILE, unix.ENFILE:
		return StatusTooManyOpenedFiles
	case unix.EMLINK:
		return StatusTooManyLinks
	case unix.ENOTSUP, unix.ENOSYS:
		return StatusNotSupported
	case unix.ENODATA:
		return StatusNonexistentEAEntry
	case unix.EWOULDBLOCK:
		return StatusWouldBlock
	case unix.ETIMEDOUT:
		return StatusIOTimeout
	case unix.EBUSY, unix.ETXTBSY:
		return StatusSharingViolation
	}
	return StatusUnsuccessful
}
