// Package vm provides a per-task facade over a Platform's page-table
// operations: map, unmap, lookup, and root allocation/teardown.
package vm

import "sync"

// PageFlags is the OR-able page-table entry attribute set. The root
// package aliases it as its own PageFlags, so this package stays free
// of a dependency on the root package.
type PageFlags uint32

const (
	Present PageFlags = 1 << iota
	Write
	User
	_
	_
	_
	_
	_
	Global
	Unalloc
)

type PhysPage uint64
type VirtPage uint64
type Root uint64

// PageTable is the subset of Platform this package depends on.
type PageTable interface {
	RootAlloc() (Root, bool)
	RootFree(root Root)
	Map(root Root, vpage VirtPage, dpage PhysPage, flags PageFlags) bool
	Unmap(root Root, vpage VirtPage)
	Lookup(root Root, vpage VirtPage) (PhysPage, PageFlags)
}

// Facade wraps a per-task page table under a single lock, matching the
// spec's vm_lock discipline: every map/unmap/lookup against one task's
// address space is serialized.
type Facade struct {
	mu    sync.RWMutex
	pt    PageTable
	root  Root
	valid bool
}

// NewFacade allocates a fresh page-table root.
func NewFacade(pt PageTable) (*Facade, bool) {
	root, ok := pt.RootAlloc()
	if !ok {
		return nil, false
	}
	return &Facade{pt: pt, root: root, valid: true}, true
}

// Root exposes the underlying root handle, e.g. to mirror page tables
// during fork.
func (f *Facade) Root() Root {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.root
}

// Map installs or overwrites a page-table entry.
func (f *Facade) Map(vpage VirtPage, dpage PhysPage, flags PageFlags) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.valid {
		return false
	}
	return f.pt.Map(f.root, vpage, dpage, flags)
}

// Unmap clears a mapping.
func (f *Facade) Unmap(vpage VirtPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.valid {
		return
	}
	f.pt.Unmap(f.root, vpage)
}

// Lookup returns the mapping for vpage, or flags=0 if unmapped.
func (f *Facade) Lookup(vpage VirtPage) (PhysPage, PageFlags) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.valid {
		return 0, 0
	}
	return f.pt.Lookup(f.root, vpage)
}

// Free tears down the page-table tree. The caller must have already
// unmapped and freed every backing physical page it cares about.
func (f *Facade) Free() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.valid {
		return
	}
	f.pt.RootFree(f.root)
	f.valid = false
}
