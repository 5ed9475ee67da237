package anscheduler

import "golang.org/x/sys/unix"

// pinToCPU sets the calling OS thread's affinity to a single CPU,
// mirroring queue.Runner.ioLoop's round-robin affinity pinning. A
// failure here is logged by the caller's dispatcher, not fatal: an
// unpinned dispatcher still schedules correctly, just without the
// cache-locality benefit pinning buys.
func pinToCPU(osCPU int) error {
	var mask unix.CPUSet
	mask.Set(osCPU)
	return unix.SchedSetaffinity(0, &mask)
}
