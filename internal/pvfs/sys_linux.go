package pvfs

import (
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// withPrivilege runs fn with root filesystem credentials. The switch only
// happens when the real uid is root. The thread stays locked while the
// elevated fsuid is in effect and the old fsuid is always restored.
func withPrivilege(fn func() error) error {
	if os.Getuid() != 0 {
		return fn()
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	prev, err := unix.SetfsuidRetUid(0)
	if err != nil {
		return fn()
	}
	defer func() {
		if err := unix.Setfsuid(prev); err != nil {
			log.Errorf("[PVFS] Failed to restore fsuid %d: %v", prev, err)
		}
	}()
	return fn()
}
