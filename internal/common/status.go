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

import "fmt"

// Status is an NT status code as reported to SMB clients.
type Status uint32

const (
	StatusOK                   Status = 0x00000000
	StatusPending              Status = 0x00000103
	StatusNotifyCleanup        Status = 0x0000010B
	StatusNotifyEnumDir        Status = 0x0000010C
	StatusBufferOverflow       Status = 0x80000005
	StatusNoMoreFiles          Status = 0x80000006
	StatusInvalidEAName        Status = 0x80000013
	StatusUnsuccessful         Status = 0xC0000001
	StatusNotImplemented       Status = 0xC0000002
	StatusInvalidInfoClass     Status = 0xC0000003
	StatusInvalidHandle        Status = 0xC0000008
	StatusInvalidParameter     Status = 0xC000000D
	StatusNoSuchFile           Status = 0xC000000F
	StatusInvalidDeviceRequest Status = 0xC0000010
	StatusEndOfFile            Status = 0xC0000011
	StatusNoMemory             Status = 0xC0000017
	StatusAccessDenied         Status = 0xC0000022
	StatusBufferTooSmall       Status = 0xC0000023
	StatusObjectNameInvalid    Status = 0xC0000033
	StatusObjectNameNotFound   Status = 0xC0000034
	StatusObjectNameCollision  Status = 0xC0000035
	StatusObjectPathNotFound   Status = 0xC000003A
	StatusObjectPathSyntaxBad  Status = 0xC000003B
	StatusSharingViolation     Status = 0xC0000043
	StatusEAsNotSupported      Status = 0xC000004F
	StatusNonexistentEAEntry   Status = 0xC0000051
	StatusFileLockConflict     Status = 0xC0000054
	StatusLockNotGranted       Status = 0xC0000055
	StatusDeletePending        Status = 0xC0000056
	StatusInvalidOwner         Status = 0xC000005A
	StatusPrivilegeNotHeld     Status = 0xC0000061
	StatusNoneMapped           Status = 0xC0000073
	StatusInvalidSecurityDescr Status = 0xC0000079
	StatusRangeNotLocked       Status = 0xC000007E
	StatusDiskFull             Status = 0xC000007F
	StatusMediaWriteProtected  Status = 0xC00000A2
	StatusIOTimeout            Status = 0xC00000B5
	StatusFileIsADirectory     Status = 0xC00000BA
	StatusNotSupported         Status = 0xC00000BB
	StatusNotSameDevice        Status = 0xC00000D4
	StatusCantWait             Status = 0xC00000D8
	StatusOplockNotGranted     Status = 0xC00000E2
	StatusInternalDBCorruption Status = 0xC00000E4
	StatusDirectoryNotEmpty    Status = 0xC0000101
	StatusNotADirectory        Status = 0xC0000103
	StatusNameTooLong          Status = 0xC0000106
	StatusTooManyOpenedFiles   Status = 0xC000011F
	StatusCancelled            Status = 0xC0000120
	StatusCannotDelete         Status = 0xC0000121
	StatusFileClosed           Status = 0xC0000128
	StatusInvalidLockRange     Status = 0xC00001A1
	StatusTooManyLinks         Status = 0xC0000265
)

// StatusWouldBlock is the transient "try again" result of a non-blocking
// open that raced with a kernel lease or mandatory lock.
const StatusWouldBlock = StatusCantWait

var statusNames = map[Status]string{
	StatusOK:                   "STATUS_OK",
	StatusPending:              "STATUS_PENDING",
	StatusNotifyCleanup:        "STATUS_NOTIFY_CLEANUP",
	StatusNotifyEnumDir:        "STATUS_NOTIFY_ENUM_DIR",
	StatusBufferOverflow:       "STATUS_BUFFER_OVERFLOW",
	StatusNoMoreFiles:          "STATUS_NO_MORE_FILES",
	StatusInvalidEAName:        "STATUS_INVALID_EA_NAME",
	StatusUnsuccessful:         "STATUS_UNSUCCESSFUL",
	StatusNotImplemented:       "STATUS_NOT_IMPLEMENTED",
	StatusInvalidInfoClass:     "STATUS_INVALID_INFO_CLASS",
	StatusInvalidHandle:        "STATUS_INVALID_HANDLE",
	StatusInvalidParameter:     "STATUS_INVALID_PARAMETER",
	StatusNoSuchFile:           "STATUS_NO_SUCH_FILE",
	StatusInvalidDeviceRequest: "STATUS_INVALID_DEVICE_REQUEST",
	StatusEndOfFile:            "STATUS_END_OF_FILE",
	StatusNoMemory:             "STATUS_NO_MEMORY",
	StatusAccessDenied:         "STATUS_ACCESS_DENIED",
	StatusBufferTooSmall:       "STATUS_BUFFER_TOO_SMALL",
	StatusObjectNameInvalid:    "STATUS_OBJECT_NAME_INVALID",
	StatusObjectNameNotFound:   "STATUS_OBJECT_NAME_NOT_FOUND",
	StatusObjectNameCollision:  "STATUS_OBJECT_NAME_COLLISION",
	StatusObjectPathNotFound:   "STATUS_OBJECT_PATH_NOT_FOUND",
	StatusObjectPathSyntaxBad:  "STATUS_OBJECT_PATH_SYNTAX_BAD",
	StatusSharingViolation:     "STATUS_SHARING_VIOLATION",
	StatusEAsNotSupported:      "STATUS_EAS_NOT_SUPPORTED",
	StatusNonexistentEAEntry:   "STATUS_NONEXISTENT_EA_ENTRY",
	StatusFileLockConflict:     "STATUS_FILE_LOCK_CONFLICT",
	StatusLockNotGranted:       "STATUS_LOCK_NOT_GRANTED",
	StatusDeletePending:        "STATUS_DELETE_PENDING",
	StatusInvalidOwner:         "STATUS_INVALID_OWNER",
	StatusPrivilegeNotHeld:     "STATUS_PRIVILEGE_NOT_HELD",
	StatusNoneMapped:           "STATUS_NONE_MAPPED",
	StatusInvalidSecurityDescr: "STATUS_INVALID_SECURITY_DESCR",
	StatusRangeNotLocked:       "STATUS_RANGE_NOT_LOCKED",
	StatusDiskFull:             "STATUS_DISK_FULL",
	StatusMediaWriteProtected:  "STATUS_MEDIA_WRITE_PROTECTED",
	StatusIOTimeout:            "STATUS_IO_TIMEOUT",
	StatusFileIsADirectory:     "STATUS_FILE_IS_A_DIRECTORY",
	StatusNotSupported:         "STATUS_NOT_SUPPORTED",
	StatusNotSameDevice:        "STATUS_NOT_SAME_DEVICE",
	StatusCantWait:             "STATUS_CANT_WAIT",
	StatusOplockNotGranted:     "STATUS_OPLOCK_NOT_GRANTED",
	StatusInternalDBCorruption: "STATUS_INTERNAL_DB_CORRUPTION",
	StatusDirectoryNotEmpty:    "STATUS_DIRECTORY_NOT_EMPTY",
	StatusNotADirectory:        "STATUS_NOT_A_DIRECTORY",
	StatusNameTooLong:          "STATUS_NAME_TOO_LONG",
	StatusTooManyOpenedFiles:   "STATUS_TOO_MANY_OPENED_FILES",
	StatusCancelled:            "STATUS_CANCELLED",
	StatusCannotDelete:         "STATUS_CANNOT_DELETE",
	StatusFileClosed:           "STATUS_FILE_CLOSED",
	StatusInvalidLockRange:     "STATUS_INVALID_LOCK_RANGE",
	StatusTooManyLinks:         "STATUS_TOO_MANY_LINKS",
}

// String returns the symbolic name, or the hex code for unknown statuses.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("NT_STATUS(0x%08x)", uint32(s))
}

// Error lets a bare Status be returned where an error is expected.
func (s Status) Error() string {
	return s.String()
}

// IsOK reports whether s is a success code.
func (s Status) IsOK() bool {
	return s == StatusOK
}

// IsRetryable reports whether s may be resolved by waiting and replaying the
// request: sharing conflicts, oplock breaks in progress, and transient
// would-block results from the open call.
func (s Status) IsRetryable() bool {
	switch s {
	case StatusSharingViolation, StatusOplockNotGranted, StatusWouldBlock:
		return true
	}
	return false
}
