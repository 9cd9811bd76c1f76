package pvfs

import (
	"os"
	"time"
)

// Options control how CIFS semantics are mapped onto the backing tree.
type Options struct {
	// Root is the exported directory.
	Root      string
	ShareName string
	ReadOnly  bool

	// EA persists DOS attributes, EAs and security descriptors through the
	// attribute store. Without it only what stat reports is available.
	EA            bool
	Streams       bool
	Oplocks       bool
	Level2Oplocks bool
	// StrictLocking checks reads and writes against byte-range locks.
	StrictLocking bool
	// StrictSync honours flush requests with fsync.
	StrictSync      bool
	CaseInsensitive bool

	ManglePrefix int
	ACLBackend   string

	CreateMask      os.FileMode
	DirMask         os.FileMode
	ForceCreateMode os.FileMode
	ForceDirMode    os.FileMode

	SharingDelay     time.Duration
	OplockTimeout    time.Duration
	WriteTimeDelay   time.Duration
	SearchInactivity time.Duration

	AllocationRounding uint64
}

// DefaultOptions returns the settings a share gets without configuration.
func DefaultOptions(root string) Options {
	return Options{
		Root:               root,
		ShareName:          "share",
		EA:                 true,
		Streams:            true,
		Oplocks:            true,
		Level2Oplocks:      true,
		StrictLocking:      true,
		CaseInsensitive:    true,
		ManglePrefix:       1,
		ACLBackend:         "xattr",
		CreateMask:         0744,
		DirMask:            0755,
		SharingDelay:       time.Second,
		OplockTimeout:      30 * time.Second,
		WriteTimeDelay:     2 * time.Second,
		SearchInactivity:   300 * time.Second,
		AllocationRounding: 512,
	}
}

func (o *Options) normalize() {
	if o.ManglePrefix < 1 || o.ManglePrefix > 6 {
		o.ManglePrefix = 1
	}
	if o.ACLBackend == "" {
		o.ACLBackend = "xattr"
	}
	if o.AllocationRounding == 0 {
		o.AllocationRounding = 512
	}
	if o.SearchInactivity <= 0 {
		o.SearchInactivity = 300 * time.Second
	}
	if o.CreateMask == 0 {
		o.CreateMask = 0744
	}
	if o.DirMask == 0 {
		o.DirMask = 0755
	}
}
