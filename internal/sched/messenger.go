package sched

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"pvfs/internal/common"
	"pvfs/internal/ntvfs"
)

type msgKey struct {
	server ntvfs.ServerID
	typ    ntvfs.MsgType
}

type handler struct {
	id uint64
	fn func(payload any)
}

// Register installs fn for messages of type t addressed to server. The
// returned func removes it and is safe to call more than once.
func (l *Loop) Register(server ntvfs.ServerID, t ntvfs.MsgType, fn func(payload any)) func() {
	l.msgMu.Lock()
	l.nextReg++
	h := &handler{id: l.nextReg, fn: fn}
	k := msgKey{server, t}
	l.handlers[k] = append(l.handlers[k], h)
	l.msgMu.Unlock()

	return func() {
		l.msgMu.Lock()
		defer l.msgMu.Unlock()
		hs := l.handlers[k]
		for i, x := range hs {
			if x.id == h.id {
				hs = append(hs[:i:i], hs[i+1:]...)
				break
			}
		}
		if len(hs) == 0 {
			delete(l.handlers, k)
		} else {
			l.handlers[k] = hs
		}
	}
}

// Send queues delivery of payload to every handler registered for
// (server, t). It fails when nobody listens.
func (l *Loop) Send(server ntvfs.ServerID, t ntvfs.MsgType, payload any) error {
	l.msgMu.RLock()
	hs := append([]*handler(nil), l.handlers[msgKey{server, t}]...)
	l.msgMu.RUnlock()

	if len(hs) == 0 {
		log.Debugf("[SCHED] Send %s to %s: no handler", t, server)
		return fmt.Errorf("no %s handler for %s: %w", t, server, common.ErrNotFound)
	}
	for _, h := range hs {
		h := h
		l.Post(func() { h.fn(payload) })
	}
	return nil
}
