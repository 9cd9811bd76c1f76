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

// Package pvfs makes a POSIX directory tree behave like a CIFS filesystem.
//
// An FS serves one share. Each client connection gets a Conn, which owns the
// connection's open files, searches and suspended requests. Share modes,
// oplocks, byte-range locks and change notification are arbitrated between
// connections through the collaborators in Deps.
package pvfs

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"pvfs/internal/brlock"
	"pvfs/internal/cache"
	"pvfs/internal/idmap"
	"pvfs/internal/metrics"
	"pvfs/internal/notify"
	"pvfs/internal/ntvfs"
	"pvfs/internal/odb"
	"pvfs/internal/sched"
	"pvfs/internal/storage"
)

// Deps are the collaborators an FS works with. Nil members are replaced by
// the in-process implementations.
type Deps struct {
	Store   storage.XattrStore
	ODB     ntvfs.OpenDB
	BRL     ntvfs.BRLManager
	Notify  ntvfs.Notifier
	IDMap   ntvfs.IDMapper
	Sched   ntvfs.Scheduler
	Msg     ntvfs.Messenger
	Metrics metrics.FSMetrics
}

// FS is one exported share.
type FS struct {
	opts    Options
	root    string
	rootDev uint64

	store   storage.XattrStore
	odb     ntvfs.OpenDB
	brl     ntvfs.BRLManager
	notify  ntvfs.Notifier
	idmap   ntvfs.IDMapper
	sched   ntvfs.Scheduler
	msg     ntvfs.Messenger
	metrics metrics.FSMetrics
	acl     ACLBackend
	names   *cache.NameCache
	mangler *mangler

	ownLoop *sched.Loop

	mu      sync.Mutex
	conns   map[ntvfs.ServerID]*Conn
	handles atomic.Int64
	waits   atomic.Int64
}

// New opens the share described by opts.
func New(opts Options, deps Deps) (*FS, error) {
	opts.normalize()
	if opts.Root == "" {
		return nil, fmt.Errorf("share path is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve share path: %w", err)
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return nil, fmt.Errorf("failed to resolve share path: %w", err)
	}
	st, err := stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat share path %s: %w", root, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("share path %s is not a directory", root)
	}
	acl, err := LookupACLBackend(opts.ACLBackend)
	if err != nil {
		return nil, err
	}
	opts.Root = root

	names := cache.NewNameCache(0)
	fs := &FS{
		opts:    opts,
		root:    root,
		rootDev: st.Dev,
		store:   deps.Store,
		odb:     deps.ODB,
		brl:     deps.BRL,
		notify:  deps.Notify,
		idmap:   deps.IDMap,
		sched:   deps.Sched,
		msg:     deps.Msg,
		metrics: deps.Metrics,
		acl:     acl,
		names:   names,
		mangler: newMangler(opts.ManglePrefix, names),
		conns:   make(map[ntvfs.ServerID]*Conn),
	}
	if fs.sched == nil || fs.msg == nil {
		fs.ownLoop = sched.New()
		if fs.sched == nil {
			fs.sched = fs.ownLoop
		}
		if fs.msg == nil {
			fs.msg = fs.ownLoop
		}
	}
	if fs.store == nil {
		fs.store = storage.NewNativeStore()
	}
	if fs.odb == nil {
		fs.odb = odb.New(fs.msg, odb.Config{Oplocks: opts.Oplocks})
	}
	if fs.brl == nil {
		fs.brl = brlock.New(fs.msg)
	}
	if fs.notify == nil {
		fs.notify = notify.New(fs.sched)
	}
	if fs.idmap == nil {
		fs.idmap = idmap.New()
	}
	if fs.metrics == nil {
		fs.metrics = metrics.NewNoopFSMetrics()
	}

	log.Infof("[PVFS] Share %s at %s (ea=%v streams=%v oplocks=%v acl=%s)",
		opts.ShareName, root, opts.EA, opts.Streams, opts.Oplocks, acl.Name())
	return fs, nil
}

// Options returns the effective options.
func (fs *FS) Options() Options { return fs.opts }

// Root returns the absolute path of the share.
func (fs *FS) Root() string { return fs.root }

// Close disconnects every connection and stops the in-process scheduler if
// New started one. The attribute store is left to its owner.
func (fs *FS) Close() error {
	fs.mu.Lock()
	conns := make([]*Conn, 0, len(fs.conns))
	for _, c := range fs.conns {
		conns = append(conns, c)
	}
	fs.mu.Unlock()

	for _, c := range conns {
		c.Disconnect()
	}
	fs.names.Invalidate()
	if fs.ownLoop != nil {
		fs.ownLoop.Close()
	}
	return nil
}

// Sync waits until callbacks already queued on the in-process scheduler
// have run. It returns at once when the scheduler is external.
func (fs *FS) Sync() {
	if fs.ownLoop != nil {
		fs.ownLoop.Sync()
	}
}

// localPath maps a share relative slash path to the backing path.
func (fs *FS) localPath(rel string) string {
	if rel == "" {
		return fs.root
	}
	return filepath.Join(fs.root, filepath.FromSlash(rel))
}

// relPath is the inverse of localPath. The share root maps to "".
func (fs *FS) relPath(full string) string {
	if full == fs.root {
		return ""
	}
	return filepath.ToSlash(strings.TrimPrefix(full, fs.root+string(filepath.Separator)))
}

// notifyChange reports a change of the object at full to subscribers.
func (fs *FS) notifyChange(full string, action, filter uint32) {
	fs.notify.Trigger(fs.relPath(full), action, filter)
}

func (fs *FS) trackHandles(delta int64) {
	fs.metrics.SetOpenHandles(int(fs.handles.Add(delta)))
}

func (fs *FS) trackWaits(delta int64) {
	fs.metrics.SetPendingWaits(int(fs.waits.Add(delta)))
}
