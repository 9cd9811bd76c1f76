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

package smbvfs

import (
	"syscall"

	"golang.org/x/sys/unix"

	"pvfs/internal/common"
)

// Error codes handed back to the SMB server, which maps them onto the wire.
var (
	ENOENT       = syscall.ENOENT
	EEXIST       = syscall.EEXIST
	ENOTDIR      = syscall.ENOTDIR
	EISDIR       = syscall.EISDIR
	EBADF        = syscall.EBADF
	EINVAL       = syscall.EINVAL
	ENOTSUP      = syscall.ENOTSUP
	ENOSPC       = syscall.ENOSPC
	EIO          = syscall.EIO
	EACCES       = syscall.EACCES
	EPERM        = syscall.EPERM
	EROFS        = syscall.EROFS
	ENOTEMPTY    = syscall.ENOTEMPTY
	EBUSY        = syscall.EBUSY
	EAGAIN       = syscall.EAGAIN
	ERANGE       = syscall.ERANGE
	ENAMETOOLONG = syscall.ENAMETOOLONG
	ENOATTR      = unix.ENODATA
)

// toErrno converts an NT status error from the backend into an errno.
// Statuses without a close unix equivalent become EIO.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	switch common.StatusOf(err) {
	case common.StatusObjectNameNotFound, common.StatusObjectPathNotFound,
		common.StatusNoSuchFile, common.StatusDeletePending:
		return ENOENT
	case common.StatusObjectNameCollision:
		return EEXIST
	case common.StatusNotADirectory:
		return ENOTDIR
	case common.StatusFileIsADirectory:
		return EISDIR
	case common.StatusInvalidHandle, common.StatusFileClosed:
		return EBADF
	case common.StatusInvalidParameter, common.StatusObjectNameInvalid,
		common.StatusObjectPathSyntaxBad, common.StatusInvalidEAName:
		return EINVAL
	case common.StatusNotSupported, common.StatusEAsNotSupported, common.StatusNotImplemented:
		return ENOTSUP
	case common.StatusDiskFull:
		return ENOSPC
	case common.StatusAccessDenied, common.StatusCannotDelete:
		return EACCES
	case common.StatusPrivilegeNotHeld:
		return EPERM
	case common.StatusMediaWriteProtected:
		return EROFS
	case common.StatusDirectoryNotEmpty:
		return ENOTEMPTY
	case common.StatusSharingViolation, common.StatusOplockNotGranted:
		return EBUSY
	case common.StatusFileLockConflict, common.StatusLockNotGranted:
		return EAGAIN
	case common.StatusNameTooLong:
		return ENAMETOOLONG
	case common.StatusNonexistentEAEntry:
		return ENOATTR
	case common.StatusBufferTooSmall, common.StatusBufferOverflow:
		return ERANGE
	}
	return EIO
}
