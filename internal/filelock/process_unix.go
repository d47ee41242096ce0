//go:build unix

package filelock

import (
	"golang.org/x/sys/unix"
)

// processAlive reports whether pid exists on this host. EPERM means the
// process exists but belongs to another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false // 0 would signal our process group, not a specific process
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
