package ntvfs

import "time"

// Private open flags for legacy deny modes.
const (
	PrivateDenyDOS uint32 = 0x0001
	PrivateDenyFCB uint32 = 0x0002
)

// EA is one extended attribute as seen by clients.
type EA struct {
	Flags uint8
	Name  string
	Value []byte
}

// OpenArgs describes an NT create request.
type OpenArgs struct {
	Fname         string
	AccessMask    uint32
	ShareAccess   uint32
	Disposition   uint32
	CreateOptions uint32
	FileAttrs     uint32
	AllocSize     uint64
	EAs           []EA
	SecDesc       *SecurityDescriptor
	Oplock        OplockLevel
	PrivateFlags  uint32
}

// OpenResult is returned by a successful open.
type OpenResult struct {
	FileID       uint64
	CreateAction uint32
	Oplock       OplockLevel
	Info         FileAllInfo
}

// LockRange is one range of a locking request.
type LockRange struct {
	SMBPid uint32
	Offset uint64
	Length uint64
}

// LockArgs is a batch of unlocks followed by locks on one file.
type LockArgs struct {
	Unlocks []LockRange
	Locks   []LockRange
	// Timeout bounds how long a conflicting lock may wait. Zero fails at
	// once; a negative value waits without a deadline.
	Timeout time.Duration
	Shared  bool
	Cancel  bool
}

// Rename flags for NT rename.
const (
	RenameFlagRename   uint16 = 0x0103
	RenameFlagHardLink uint16 = 0x0104
	RenameFlagCopy     uint16 = 0x0105
)

// RenameArgs renames Old to New. Old may contain wildcards when the request
// is a plain rename.
type RenameArgs struct {
	Old       string
	New       string
	Attrib    uint16
	Flags     uint16
	Overwrite bool
}

// UnlinkArgs removes every non-directory matching Pattern.
type UnlinkArgs struct {
	Pattern string
	Attrib  uint16
}

// SetInfo changes metadata. Only non-nil fields are applied.
type SetInfo struct {
	CreateTime     *NTTime
	AccessTime     *NTTime
	WriteTime      *NTTime
	ChangeTime     *NTTime
	Attrib         *uint32
	DeleteOnClose  *bool
	EndOfFile      *uint64
	AllocationSize *uint64
	Position       *uint64
	Mode           *uint32
	EAs            []EA
	Rename         *SetInfoRename
	SecInfo        uint32
	SecDesc        *SecurityDescriptor
}

// SetInfoRename renames an open file. New is a full wire name when it
// contains a separator, otherwise a name in the same directory.
type SetInfoRename struct {
	New       string
	Overwrite bool
}

// FileAllInfo is the union of the common query levels.
type FileAllInfo struct {
	CreateTime    NTTime
	AccessTime    NTTime
	WriteTime     NTTime
	ChangeTime    NTTime
	Attrib        uint32
	AllocSize     uint64
	Size          uint64
	Nlink         uint32
	DeletePending bool
	Directory     bool
	FileID        uint64
	EASize        uint32
	AccessMask    uint32
	Position      uint64
	Mode          uint32
	Name          string
	AltName       string
}

// StreamInfo describes one data stream of a file.
type StreamInfo struct {
	Name      string
	Size      uint64
	AllocSize uint64
}

// Search flags.
const (
	SearchCloseAfterFirst uint16 = 0x0001
	SearchCloseAtEnd      uint16 = 0x0002
	SearchReturnResume    uint16 = 0x0004
	SearchContinue        uint16 = 0x0008
	SearchBackupIntent    uint16 = 0x0010
)

// Directory find flags.
const (
	FindRestart      uint8 = 0x01
	FindReturnSingle uint8 = 0x02
	FindIndex        uint8 = 0x04
	FindReopen       uint8 = 0x10
)

// SearchEntry is one search result.
type SearchEntry struct {
	Name       string
	ShortName  string
	ResumeKey  uint32
	CreateTime NTTime
	AccessTime NTTime
	WriteTime  NTTime
	ChangeTime NTTime
	Attrib     uint32
	Size       uint64
	AllocSize  uint64
	EASize     uint32
	FileID     uint64
}

// SearchFirstArgs starts a handle based search.
type SearchFirstArgs struct {
	Pattern  string
	Attrib   uint16
	MaxCount int
	Flags    uint16
}

// SearchNextArgs continues a handle based search. LastName takes precedence
// over ResumeKey, and both over continuing from the last returned entry.
type SearchNextArgs struct {
	Handle    uint16
	MaxCount  int
	ResumeKey uint32
	LastName  string
	Flags     uint16
}

// SearchResult is one batch of search results.
type SearchResult struct {
	Handle      uint16
	Entries     []SearchEntry
	EndOfSearch bool
}

// FindArgs enumerates an open directory.
type FindArgs struct {
	Pattern  string
	MaxCount int
	Flags    uint8
}

// NotifyArgs arms a change notification on an open directory.
type NotifyArgs struct {
	Filter     uint32
	Recursive  bool
	MaxChanges int
}

// FSInfo describes the share's backing filesystem.
type FSInfo struct {
	BlockSize       uint64
	TotalBlocks     uint64
	FreeBlocks      uint64
	AvailableBlocks uint64
	Files           uint64
	FreeFiles       uint64
	FSType          string
	VolumeName      string
	SerialNumber    uint32
	Attributes      uint32
	MaxNameLen      uint32
}

// Filesystem attribute bits reported by FSInfo.
const (
	FSCaseSensitiveSearch uint32 = 0x00000001
	FSCasePreservedNames  uint32 = 0x00000002
	FSUnicodeOnDisk       uint32 = 0x00000004
	FSPersistentACLs      uint32 = 0x00000008
	FSNamedStreams        uint32 = 0x00040000
	FSReadOnlyVolume      uint32 = 0x00080000
)

// Seek origins.
const (
	SeekSet uint8 = 0
	SeekCur uint8 = 1
	SeekEnd uint8 = 2
)
