// Package ntvfs defines the operation structures and collaborator contracts
// shared by the pvfs backend and the services it consumes: the open
// database, the byte-range lock manager, change notification, identity
// mapping and the request scheduler.
package ntvfs

// Access mask bits.
const (
	FileReadData        uint32 = 0x00000001
	FileListDirectory   uint32 = 0x00000001
	FileWriteData       uint32 = 0x00000002
	FileAddFile         uint32 = 0x00000002
	FileAppendData      uint32 = 0x00000004
	FileAddSubdirectory uint32 = 0x00000004
	FileReadEA          uint32 = 0x00000008
	FileWriteEA         uint32 = 0x00000010
	FileExecute         uint32 = 0x00000020
	FileTraverse        uint32 = 0x00000020
	FileDeleteChild     uint32 = 0x00000040
	FileReadAttributes  uint32 = 0x00000080
	FileWriteAttributes uint32 = 0x00000100

	StdDelete      uint32 = 0x00010000
	StdReadControl uint32 = 0x00020000
	StdWriteDAC    uint32 = 0x00040000
	StdWriteOwner  uint32 = 0x00080000
	StdSynchronize uint32 = 0x00100000

	FlagSystemSecurity uint32 = 0x01000000
	FlagMaximumAllowed uint32 = 0x02000000

	GenericAll     uint32 = 0x10000000
	GenericExecute uint32 = 0x20000000
	GenericWrite   uint32 = 0x40000000
	GenericRead    uint32 = 0x80000000

	StdAll           uint32 = 0x001F0000
	FileAllAccess    uint32 = 0x001F01FF
	FileGenericRead  uint32 = 0x00120089
	FileGenericWrite uint32 = 0x00120116
	FileGenericExec  uint32 = 0x001200A0

	// AccessDataMask covers the rights that take part in share-mode
	// arbitration. Opens requesting none of them never conflict.
	AccessDataMask = FileReadData | FileWriteData | FileAppendData | FileExecute | StdDelete

	// AccessAttrOnly are the rights of an attribute-only open, which does
	// not break oplocks.
	AccessAttrOnly = FileReadAttributes | FileWriteAttributes | StdReadControl | StdSynchronize
)

// Share access bits.
const (
	ShareNone   uint32 = 0
	ShareRead   uint32 = 1
	ShareWrite  uint32 = 2
	ShareDelete uint32 = 4
	ShareAll           = ShareRead | ShareWrite | ShareDelete
)

// Create dispositions.
const (
	DispositionSupersede   uint32 = 0
	DispositionOpen        uint32 = 1
	DispositionCreate      uint32 = 2
	DispositionOpenIf      uint32 = 3
	DispositionOverwrite   uint32 = 4
	DispositionOverwriteIf uint32 = 5
)

// Create options.
const (
	CreateDirectory         uint32 = 0x00000001
	CreateWriteThrough      uint32 = 0x00000002
	CreateSequentialOnly    uint32 = 0x00000004
	CreateNoBuffering       uint32 = 0x00000008
	CreateNonDirectory      uint32 = 0x00000040
	CreateNoEAKnowledge     uint32 = 0x00000200
	CreateRandomAccess      uint32 = 0x00000800
	CreateDeleteOnClose     uint32 = 0x00001000
	CreateOpenByFileID      uint32 = 0x00002000
	CreatePrivateMask       uint32 = 0xFF000000

	// CreateOptionsPersistent are remembered on the handle and reported
	// back through mode queries.
	CreateOptionsPersistent = CreateWriteThrough | CreateSequentialOnly | CreateNoBuffering | CreateRandomAccess
)

// Create actions reported after a successful open.
const (
	ActionSuperseded  uint32 = 0
	ActionOpened      uint32 = 1
	ActionCreated     uint32 = 2
	ActionOverwritten uint32 = 3
)

// DOS file attributes.
const (
	AttrReadOnly          uint32 = 0x0001
	AttrHidden            uint32 = 0x0002
	AttrSystem            uint32 = 0x0004
	AttrVolume            uint32 = 0x0008
	AttrDirectory         uint32 = 0x0010
	AttrArchive           uint32 = 0x0020
	AttrNormal            uint32 = 0x0080
	AttrTemporary         uint32 = 0x0100
	AttrSparse            uint32 = 0x0200
	AttrReparsePoint      uint32 = 0x0400
	AttrCompressed        uint32 = 0x0800
	AttrOffline           uint32 = 0x1000
	AttrNotContentIndexed uint32 = 0x2000
	AttrEncrypted         uint32 = 0x4000

	// AttrSettable are the bits a client may set explicitly.
	AttrSettable = AttrReadOnly | AttrHidden | AttrSystem | AttrArchive | AttrTemporary | AttrOffline | AttrNotContentIndexed | AttrNormal
)

// Change notify actions.
const (
	NotifyActionAdded          uint32 = 1
	NotifyActionRemoved        uint32 = 2
	NotifyActionModified       uint32 = 3
	NotifyActionOldName        uint32 = 4
	NotifyActionNewName        uint32 = 5
	NotifyActionAddedStream    uint32 = 6
	NotifyActionRemovedStream  uint32 = 7
	NotifyActionModifiedStream uint32 = 8
)

// Change notify filter bits.
const (
	NotifyFileName    uint32 = 0x0001
	NotifyDirName     uint32 = 0x0002
	NotifyAttributes  uint32 = 0x0004
	NotifySize        uint32 = 0x0008
	NotifyLastWrite   uint32 = 0x0010
	NotifyLastAccess  uint32 = 0x0020
	NotifyCreation    uint32 = 0x0040
	NotifyEA          uint32 = 0x0080
	NotifySecurity    uint32 = 0x0100
	NotifyStreamName  uint32 = 0x0200
	NotifyStreamSize  uint32 = 0x0400
	NotifyStreamWrite uint32 = 0x0800
)

// Security information selectors for security descriptor get/set.
const (
	SecInfoOwner uint32 = 0x1
	SecInfoGroup uint32 = 0x2
	SecInfoDACL  uint32 = 0x4
	SecInfoSACL  uint32 = 0x8
)

// OplockLevel is the caching authority granted to an opener.
type OplockLevel uint8

const (
	OplockNone OplockLevel = iota
	OplockLevel2
	OplockExclusive
	OplockBatch
)

func (l OplockLevel) String() string {
	switch l {
	case OplockNone:
		return "none"
	case OplockLevel2:
		return "level2"
	case OplockExclusive:
		return "exclusive"
	case OplockBatch:
		return "batch"
	}
	return "unknown"
}

// LockType is the mode of a byte-range lock request.
type LockType uint8

const (
	LockRead LockType = iota
	LockWrite
	LockPendingRead
	LockPendingWrite
)

// IsPending reports whether t asks the lock manager to queue a waiter on
// conflict.
func (t LockType) IsPending() bool {
	return t == LockPendingRead || t == LockPendingWrite
}

// Granted returns the non-pending type a pending request turns into once
// granted.
func (t LockType) Granted() LockType {
	switch t {
	case LockPendingRead:
		return LockRead
	case LockPendingWrite:
		return LockWrite
	}
	return t
}

// Pending returns the pending variant of t.
func (t LockType) Pending() LockType {
	switch t {
	case LockRead:
		return LockPendingRead
	case LockWrite:
		return LockPendingWrite
	}
	return t
}

func (t LockType) String() string {
	switch t {
	case LockRead:
		return "read"
	case LockWrite:
		return "write"
	case LockPendingRead:
		return "pending-read"
	case LockPendingWrite:
		return "pending-write"
	}
	return "unknown"
}
