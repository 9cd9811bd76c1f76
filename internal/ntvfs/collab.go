package ntvfs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ServerID names one message endpoint, normally one connection context.
type ServerID = uuid.UUID

// NewServerID returns a fresh random endpoint id.
func NewServerID() ServerID {
	return uuid.New()
}

// HandleID identifies an open handle across servers.
type HandleID struct {
	Server ServerID
	ID     uint64
}

func (h HandleID) String() string {
	return fmt.Sprintf("%s/%d", h.Server, h.ID)
}

// Waiter names a suspended request that wants to be told when something it
// waits for may have changed.
type Waiter struct {
	Server ServerID
	Token  uint64
}

// ODBKey is the Open Database locking key of a file.
type ODBKey struct {
	Dev uint64
	Ino uint64
}

func (k ODBKey) String() string {
	return fmt.Sprintf("%x:%x", k.Dev, k.Ino)
}

// BRLKey is the byte-range lock key of one stream of a file.
type BRLKey struct {
	Dev      uint64
	Ino      uint64
	StreamID uint32
}

func (k BRLKey) String() string {
	return fmt.Sprintf("%x:%x:%x", k.Dev, k.Ino, k.StreamID)
}

// Outcome is the result class of an admission check.
type Outcome uint8

const (
	Admitted Outcome = iota
	Denied
	Retryable
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case Denied:
		return "denied"
	case Retryable:
		return "retryable"
	}
	return "unknown"
}

// OpenCheck is the request side of an admission check.
type OpenCheck struct {
	StreamID      uint32
	ShareAccess   uint32
	AccessMask    uint32
	DeleteOnClose bool
	Disposition   uint32
	// BreakToNone asks that level II holders be broken to none, as before a
	// truncating write.
	BreakToNone bool
}

// OpenEntry is what Commit records for an admitted open.
type OpenEntry struct {
	Handle        HandleID
	StreamID      uint32
	ShareAccess   uint32
	AccessMask    uint32
	DeleteOnClose bool
	Path          string
	IsDirectory   bool
	WriteTime     time.Time
	AllowLevel2   bool
	Oplock        OplockLevel
}

// CloseResult reports what the Open Database decided on close.
type CloseResult struct {
	// DeletePath is set when the last open went away with delete-on-close
	// pending. The caller removes the object.
	DeletePath   string
	LastClose    bool
	WasDirectory bool
}

// FileState is the shared state of a file recorded in the Open Database.
type FileState struct {
	// Path is the current location of the file, following renames.
	Path          string
	DeleteOnClose bool
	WriteTime     time.Time
	Opens         int
}

// OpenDB arbitrates share modes and oplocks between all openers of a file.
type OpenDB interface {
	// Lock acquires the record for key. Decide and commit while it is held.
	Lock(ctx context.Context, key ODBKey) (OpenDBLock, error)
	// FileInfo returns the record for key without locking it.
	FileInfo(key ODBKey) (FileState, error)
}

// OpenDBLock is a held Open Database record.
type OpenDBLock interface {
	Key() ODBKey
	Open(c OpenCheck) (Outcome, error)
	Commit(e OpenEntry) (OplockLevel, error)
	Close(h HandleID) (CloseResult, error)
	UpdateOplock(h HandleID, level OplockLevel) error
	BreakOplocks() error
	SetDeleteOnClose(on bool) error
	SetWriteTime(t time.Time, forced bool) error
	RegisterPending(w Waiter) error
	RemovePending(w Waiter) error
	Rename(newPath string) error
	Path() string
	Release()
}

// OplockBreak is the payload of MsgOplockBreak.
type OplockBreak struct {
	Handle HandleID
	Level  OplockLevel
}

// BRLManager hands out per-file byte-range lock handles.
type BRLManager interface {
	Open(key BRLKey, owner HandleID) BRLHandle
}

// BRLHandle is one opener's view of a file's byte-range locks.
type BRLHandle interface {
	// Lock takes a range. With a pending type and a waiter, a conflict
	// registers the waiter for a MsgBRLRetry when the range may be free.
	Lock(smbpid uint32, start, size uint64, typ LockType, w *Waiter) error
	Unlock(smbpid uint32, start, size uint64) error
	RemovePending(w Waiter) error
	Locktest(smbpid uint32, start, size uint64, typ LockType) error
	// Count returns the number of locks held on the file by any opener.
	Count() int
	Close() error
}

// NotifyChange is one change delivered to a subscriber.
type NotifyChange struct {
	Action uint32
	// Name is relative to the watched directory, wire separated.
	Name string
}

// Notifier is the change-notify service.
type Notifier interface {
	Trigger(path string, action, filter uint32)
	Subscribe(dir string, recursive bool, filter uint32, fn func(NotifyChange)) (cancel func())
}

// IDType distinguishes user from group ids.
type IDType uint8

const (
	IDTypeUID IDType = iota + 1
	IDTypeGID
)

// UnixID is a local id together with its kind.
type UnixID struct {
	ID   uint32
	Type IDType
}

// IDMapper translates between local ids and security principals in batches.
type IDMapper interface {
	IDsToSIDs(ctx context.Context, ids []UnixID) ([]SID, error)
	SIDsToIDs(ctx context.Context, sids []SID) ([]UnixID, error)
}

// Timer is a pending scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It reports false when the
	// callback has already fired or been stopped.
	Stop() bool
}

// Scheduler runs callbacks outside the caller's stack.
type Scheduler interface {
	After(d time.Duration, fn func()) Timer
	Post(fn func())
}

// MsgType selects the handler a message is delivered to.
type MsgType uint32

const (
	MsgPendingRetry MsgType = iota + 1
	MsgOplockBreak
	MsgBRLRetry
)

func (t MsgType) String() string {
	switch t {
	case MsgPendingRetry:
		return "pending-retry"
	case MsgOplockBreak:
		return "oplock-break"
	case MsgBRLRetry:
		return "brl-retry"
	}
	return fmt.Sprintf("msg(%d)", uint32(t))
}

// Messenger delivers typed messages between servers.
type Messenger interface {
	Register(server ServerID, t MsgType, fn func(payload any)) (cancel func())
	Send(server ServerID, t MsgType, payload any) error
}

// OplockSender forwards an oplock break to the client holding it.
type OplockSender interface {
	SendOplockBreak(fileID uint64, level OplockLevel) error
}
