// Package filelock serializes writers of the milhouse state files.
//
// Two independent mechanisms are provided:
//
//   - [Queue] is an in-process FIFO lock keyed by resource (in practice the
//     absolute path of the file being written). Callers of the same key run
//     one at a time in arrival order. Unrelated keys never block each other,
//     and a key's entry is dropped as soon as its last holder releases.
//
//   - [Advisory] is a cross-process lock file placed next to the target
//     ("<target>.lock"). It is created with O_EXCL and records the owner's
//     PID, hostname and acquisition time. A lock file whose mtime is older
//     than the stale window, or whose owner PID is dead on this host, is
//     reclaimed. While held, the lock's mtime is refreshed so a live owner
//     is never mistaken for a stale one.
//
// [Manager] combines both: Exclusive takes the queue lock and then the
// advisory lock on a file, Serialize takes only the queue lock.
//
// # Basic Usage
//
//	m := filelock.NewManager(filelock.DefaultOptions())
//
//	err := m.Exclusive(ctx, tasksPath, func() error {
//	    // load, mutate, save tasks.json
//	    return nil
//	})
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package filelock
