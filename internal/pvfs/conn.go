package pvfs

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// Conn is one client connection to the share. Its mutex serializes every
// operation of the connection together with the deferred work, timers and
// messages addressed to it. A Conn never takes another Conn's mutex.
type Conn struct {
	fs     *FS
	id     ntvfs.ServerID
	sender ntvfs.OplockSender

	mu         sync.Mutex
	closed     bool
	files      map[uint64]*File
	nextFileID uint64
	handles    map[uint64]*fileHandle
	nextHandle uint64
	waits      map[uint64]*waitRecord
	nextToken  uint64
	searches   map[uint16]*search
	nextSearch uint16
	cancelMsgs []func()
}

// Connect attaches a client connection. Oplock breaks granted to it are
// forwarded through sender, which may be nil for clients that never take
// oplocks.
func (fs *FS) Connect(sender ntvfs.OplockSender) *Conn {
	c := &Conn{
		fs:       fs,
		id:       ntvfs.NewServerID(),
		sender:   sender,
		files:    make(map[uint64]*File),
		handles:  make(map[uint64]*fileHandle),
		waits:    make(map[uint64]*waitRecord),
		searches: make(map[uint16]*search),
	}
	c.cancelMsgs = []func(){
		fs.msg.Register(c.id, ntvfs.MsgPendingRetry, c.onRetry),
		fs.msg.Register(c.id, ntvfs.MsgBRLRetry, c.onRetry),
		fs.msg.Register(c.id, ntvfs.MsgOplockBreak, c.onOplockBreak),
	}

	fs.mu.Lock()
	fs.conns[c.id] = c
	fs.mu.Unlock()
	log.Debugf("[PVFS] Connection %s attached to %s", c.id, fs.opts.ShareName)
	return c
}

// ID returns the connection's message endpoint.
func (c *Conn) ID() ntvfs.ServerID { return c.id }

// FS returns the share the connection is attached to.
func (c *Conn) FS() *FS { return c.fs }

func (c *Conn) file(id uint64) (*File, error) {
	if c.closed {
		return nil, common.NewError(common.StatusInvalidHandle, "connection closed")
	}
	f := c.files[id]
	if f == nil {
		return nil, common.NewError(common.StatusInvalidHandle, "no open file %d", id)
	}
	return f, nil
}

func (c *Conn) checkOpen() error {
	if c.closed {
		return common.NewError(common.StatusInvalidHandle, "connection closed")
	}
	return nil
}

// Disconnect closes everything the connection holds. Suspended requests
// complete with StatusCancelled.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, cancel := range c.cancelMsgs {
		cancel()
	}
	c.cancelWaits(func(*waitRecord) bool { return true })
	for h := range c.searches {
		c.closeSearch(h)
	}
	for _, f := range c.filesMatching(func(*File) bool { return true }) {
		if err := c.closeFile(f); err != nil {
			log.Warnf("[PVFS] Close of %s on disconnect failed: %v", f.h.name.FullName, err)
		}
	}
	c.mu.Unlock()

	c.fs.mu.Lock()
	delete(c.fs.conns, c.id)
	c.fs.mu.Unlock()
	log.Debugf("[PVFS] Connection %s detached", c.id)
}

// Logoff releases what one session of the connection holds.
func (c *Conn) Logoff(session uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelWaits(func(w *waitRecord) bool { return w.req.SessionID == session })
	for h, s := range c.searches {
		if s.session == session {
			c.closeSearch(h)
		}
	}
	for _, f := range c.filesMatching(func(f *File) bool { return f.session == session }) {
		if err := c.closeFile(f); err != nil {
			log.Warnf("[PVFS] Close of %s on logoff failed: %v", f.h.name.FullName, err)
		}
	}
}

// Exit releases what one client process of a session holds.
func (c *Conn) Exit(session uint64, smbpid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelWaits(func(w *waitRecord) bool {
		return w.req.SessionID == session && w.req.SMBPid == smbpid
	})
	for _, f := range c.filesMatching(func(f *File) bool {
		return f.session == session && f.smbpid == smbpid
	}) {
		if err := c.closeFile(f); err != nil {
			log.Warnf("[PVFS] Close of %s on exit failed: %v", f.h.name.FullName, err)
		}
	}
}

func (c *Conn) filesMatching(match func(*File) bool) []*File {
	var out []*File
	for _, f := range c.files {
		if match(f) {
			out = append(out, f)
		}
	}
	return out
}
