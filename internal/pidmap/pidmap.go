// Package pidmap implements the PID registry sketched but never
// finished in original_source's pidmap.c: an O(1)-average lookup keyed
// by pid, backed by the index-set allocator for pid reuse.
package pidmap

import (
	"sync"

	"github.com/anscheduler/anscheduler/internal/idxset"
	"github.com/anscheduler/anscheduler/internal/refarena"
)

// Map allocates pids and resolves them back to whatever value the
// caller registered (normally a *Task). Resolution goes through a
// generation-counted refarena.Handle so a pid that gets reused after
// its owner dies can never resolve to the wrong object.
type Map struct {
	ids   *idxset.Set
	arena *refarena.Arena

	mu      sync.RWMutex
	handles map[uint64]refarena.Handle
}

// New creates an empty PID registry. Pid 0 is never handed out: the
// error types treat a zero pid as "no task".
func New() *Map {
	ids := idxset.New(0)
	ids.Get() // reserve pid 0
	return &Map{
		ids:     ids,
		arena:   refarena.New(),
		handles: make(map[uint64]refarena.Handle),
	}
}

// Allocate assigns a fresh pid to value and returns it.
func (m *Map) Allocate(value any) uint64 {
	pid, _ := m.ids.Get() // unbounded set, Get never fails
	h := m.arena.Insert(value)

	m.mu.Lock()
	m.handles[pid] = h
	m.mu.Unlock()

	return pid
}

// Lookup resolves a pid to its registered value. ok is false if the
// pid was never allocated or has since been freed.
func (m *Map) Lookup(pid uint64) (any, bool) {
	m.mu.RLock()
	h, ok := m.handles[pid]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return m.arena.Get(h)
}

// Free releases a pid, making it eligible for reuse, and invalidates
// any handle still pointing at its slot.
func (m *Map) Free(pid uint64) {
	m.mu.Lock()
	h, ok := m.handles[pid]
	if ok {
		delete(m.handles, pid)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	m.arena.Remove(h)
	m.ids.Put(pid)
}

// Len reports the number of pids currently allocated.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}
