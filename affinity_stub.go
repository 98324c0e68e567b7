// affinity_stub.go - No-op affinity for hosts without sched_setaffinity

//go:build !linux

package main

// setThreadAffinity is a no-op on platforms without per-thread affinity
// control; the host scheduler places the thread wherever it likes.
func setThreadAffinity(core int) error {
	return nil
}
