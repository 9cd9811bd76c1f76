package smbvfs

import "sync"

// HandleID is the handle number given to the SMB server.
type HandleID uint64

// openHandle is one open file or directory of the backend.
type openHandle struct {
	fileID      uint64 // backend open
	path        string // wire name within the share
	isDir       bool
	flags       int
	dirEnumDone bool // listing returned in full, next ReadDir is EOF
}

// HandleManager hands out SMB handle numbers for backend opens.
type HandleManager struct {
	mu         sync.RWMutex
	handles    map[HandleID]*openHandle
	nextHandle HandleID
}

func NewHandleManager() *HandleManager {
	return &HandleManager{
		handles:    make(map[HandleID]*openHandle),
		nextHandle: 1,
	}
}

// Allocate registers a backend open and returns its handle.
func (hm *HandleManager) Allocate(fileID uint64, path string, isDir bool, flags int) HandleID {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	handle := hm.nextHandle
	hm.nextHandle++
	hm.handles[handle] = &openHandle{
		fileID: fileID,
		path:   path,
		isDir:  isDir,
		flags:  flags,
	}
	return handle
}

// Get retrieves a handle's info
func (hm *HandleManager) Get(h HandleID) (*openHandle, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	info, ok := hm.handles[h]
	return info, ok
}

// Release frees a handle and returns what it referred to.
func (hm *HandleManager) Release(h HandleID) (*openHandle, bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	info, ok := hm.handles[h]
	delete(hm.handles, h)
	return info, ok
}

// SetPath records the new name of a renamed open.
func (hm *HandleManager) SetPath(h HandleID, path string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok {
		info.path = path
	}
}

// SetDirEnumDone marks directory enumeration as complete
func (hm *HandleManager) SetDirEnumDone(h HandleID, done bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok {
		info.dirEnumDone = done
	}
}

// IsDirEnumDone checks if directory enumeration is complete
func (hm *HandleManager) IsDirEnumDone(h HandleID) bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	if info, ok := hm.handles[h]; ok {
		return info.dirEnumDone
	}
	return false
}

// Drain removes every handle and returns the backend opens they held.
func (hm *HandleManager) Drain() []uint64 {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	ids := make([]uint64, 0, len(hm.handles))
	for _, info := range hm.handles {
		ids = append(ids, info.fileID)
	}
	hm.handles = make(map[HandleID]*openHandle)
	return ids
}

// Len returns the number of open handles.
func (hm *HandleManager) Len() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.handles)
}
