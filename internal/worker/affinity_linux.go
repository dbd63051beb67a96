//go:build linux

package worker

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinThread binds the calling goroutine's OS thread to one CPU,
// round-robin over the machine's CPU set.
func pinThread(id int) {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Set(id % runtime.NumCPU())
	_ = unix.SchedSetaffinity(0, &set)
}
