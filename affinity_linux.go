// affinity_linux.go - Thread CPU affinity via sched_setaffinity

//go:build linux

package main

import "golang.org/x/sys/unix"

// setThreadAffinity pins the calling thread to the given host core. The
// caller must have locked the goroutine to its OS thread first, otherwise
// the runtime may migrate it off the pinned thread.
func setThreadAffinity(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
