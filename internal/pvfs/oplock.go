package pvfs

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

// oplockState is the oplock a handle holds and the breaks in flight.
type oplockState struct {
	level ntvfs.OplockLevel
	// sent records when a break to each level was forwarded, so a level is
	// forwarded at most once.
	sent  map[ntvfs.OplockLevel]time.Time
	timer ntvfs.Timer
}

func (h *fileHandle) setOplock(level ntvfs.OplockLevel) {
	if level == ntvfs.OplockNone {
		return
	}
	h.oplock = &oplockState{level: level, sent: make(map[ntvfs.OplockLevel]time.Time)}
}

func (h *fileHandle) oplockLevel() ntvfs.OplockLevel {
	if h.oplock == nil {
		return ntvfs.OplockNone
	}
	return h.oplock.level
}

// onOplockBreak handles MsgOplockBreak.
func (c *Conn) onOplockBreak(payload any) {
	b, ok := payload.(ntvfs.OplockBreak)
	if !ok {
		log.Warnf("[PVFS] Unexpected oplock break payload %T", payload)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handles[b.Handle.ID]
	if h == nil || h.oplock == nil {
		return
	}
	c.breakOplock(h, b.Level)
}

// breakOplock forwards a break to the client. If the client does not
// answer within the oplock timeout the break is applied on its behalf.
func (c *Conn) breakOplock(h *fileHandle, level ntvfs.OplockLevel) {
	o := h.oplock
	if level >= o.level {
		return
	}
	if _, done := o.sent[level]; done {
		return
	}
	o.sent[level] = time.Now()
	c.fs.metrics.RecordOplockBreak(level.String())

	if c.sender == nil {
		c.applyOplock(h, level)
		return
	}
	if err := c.sender.SendOplockBreak(h.firstFile, level); err != nil {
		log.Warnf("[PVFS] Oplock break of %s to %s not delivered: %v", h.name.FullName, level, err)
		c.applyOplock(h, level)
		return
	}
	if o.level == ntvfs.OplockLevel2 {
		// level II breaks are not acknowledged
		c.applyOplock(h, level)
		return
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = c.fs.sched.After(c.fs.opts.OplockTimeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if h.oplock != o || o.level <= level {
			return
		}
		log.Infof("[PVFS] Oplock break of %s to %s timed out, releasing", h.name.FullName, level)
		c.fs.metrics.RecordOplockAutoRelease()
		c.applyOplock(h, level)
	})
}

// applyOplock records h's new oplock level and wakes waiters.
func (c *Conn) applyOplock(h *fileHandle, level ntvfs.OplockLevel) {
	o := h.oplock
	if o == nil {
		return
	}
	if h.haveODB {
		lck, err := c.fs.odb.Lock(context.Background(), h.name.odbKey())
		if err != nil {
			log.Errorf("[PVFS] Failed to lock %s for oplock update: %v", h.name.FullName, err)
			return
		}
		err = lck.UpdateOplock(h.id, level)
		lck.Release()
		if err != nil {
			log.Errorf("[PVFS] Oplock update of %s failed: %v", h.name.FullName, err)
		}
	}
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if level == ntvfs.OplockNone {
		h.oplock = nil
		return
	}
	o.level = level
}

// OplockRelease is the client's acknowledgement of a break, or a voluntary
// downgrade.
func (c *Conn) OplockRelease(req *ntvfs.Request, fileID uint64, level ntvfs.OplockLevel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.file(fileID)
	if err != nil {
		return err
	}
	h := f.h
	if h.isDir {
		return common.NewError(common.StatusFileIsADirectory, "directories hold no oplocks")
	}
	if h.oplock == nil {
		return common.NewError(common.StatusUnsuccessful, "%s holds no oplock", h.name.OriginalName)
	}
	if level > h.oplock.level {
		return common.NewError(common.StatusInvalidParameter, "cannot raise oplock from %s to %s", h.oplock.level, level)
	}
	if level == ntvfs.OplockLevel2 && !c.fs.opts.Level2Oplocks {
		level = ntvfs.OplockNone
	}
	c.applyOplock(h, level)
	return nil
}

// breakLevel2 breaks the level II oplocks of every opener of f's file
// before a write or metadata change. A handle holding an exclusive oplock
// is the only opener and has nothing to break.
func (c *Conn) breakLevel2(f *File) {
	h := f.h
	if !h.haveODB {
		return
	}
	if l := h.oplockLevel(); l == ntvfs.OplockExclusive || l == ntvfs.OplockBatch {
		return
	}
	lck, err := c.fs.odb.Lock(context.Background(), h.name.odbKey())
	if err != nil {
		log.Warnf("[PVFS] Failed to lock %s for level II break: %v", h.name.FullName, err)
		return
	}
	defer lck.Release()
	if err := lck.BreakOplocks(); err != nil {
		log.Warnf("[PVFS] Level II break on %s failed: %v", h.name.FullName, err)
	}
}
