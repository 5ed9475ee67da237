// Package mockplatform provides a software implementation of the
// scheduler's Platform interface: a bump physical-page allocator and an
// in-memory page table. It plays the same dual role the teacher's
// NewStubRunner/iouring_stub.go pair plays for queue.Runner — both a
// test harness and a demonstrable reference host, the way
// backend/mem.go is simultaneously a test fixture and a real backend.
package mockplatform

import (
	"sync"
	"time"

	"github.com/anscheduler/anscheduler/internal/vm"
)

type pageEntry struct {
	dpage vm.PhysPage
	flags vm.PageFlags
}

// Platform is an in-memory, single-process stand-in for real hardware:
// physical pages are just integers, the page table is a map, and the
// clock is the host's monotonic clock.
type Platform struct {
	mu sync.Mutex

	nextRoot uint64
	nextPage uint64
	freed    map[vm.PhysPage]bool
	roots    map[vm.Root]map[vm.VirtPage]pageEntry

	maxPages  uint64 // 0 means unbounded
	allocated uint64

	numCPU    int
	affinity  map[int]int
	quantum   time.Duration
}

// Option configures a Platform at construction time.
type Option func(*Platform)

// WithMaxPages bounds the physical allocator, used to exercise
// allocation-failure paths in tests.
func WithMaxPages(n uint64) Option {
	return func(p *Platform) { p.maxPages = n }
}

// WithNumCPU sets how many dispatcher goroutines the run loop should
// start against this platform.
func WithNumCPU(n int) Option {
	return func(p *Platform) { p.numCPU = n }
}

// WithQuantum overrides the default scheduling quantum, useful to speed
// up tests that rely on preemption.
func WithQuantum(d time.Duration) Option {
	return func(p *Platform) { p.quantum = d }
}

// WithAffinity pins logical CPU id to the given OS CPU index.
func WithAffinity(id, osCPU int) Option {
	return func(p *Platform) {
		if p.affinity == nil {
			p.affinity = make(map[int]int)
		}
		p.affinity[id] = osCPU
	}
}

// New creates a Platform ready for use.
func New(opts ...Option) *Platform {
	p := &Platform{
		freed:   make(map[vm.PhysPage]bool),
		roots:   make(map[vm.Root]map[vm.VirtPage]pageEntry),
		numCPU:  1,
		quantum: time.Second / 32,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AllocPage returns a fresh zeroed physical page.
func (p *Platform) AllocPage() (vm.PhysPage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxPages != 0 && p.allocated >= p.maxPages {
		return 0, false
	}
	p.nextPage++
	p.allocated++
	return vm.PhysPage(p.nextPage), true
}

// FreePage returns a physical page to the allocator's bookkeeping.
func (p *Platform) FreePage(page vm.PhysPage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.freed[page] {
		return
	}
	p.freed[page] = true
	if p.allocated > 0 {
		p.allocated--
	}
}

// RootAlloc allocates a fresh, empty page table.
func (p *Platform) RootAlloc() (vm.Root, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextRoot++
	root := vm.Root(p.nextRoot)
	p.roots[root] = make(map[vm.VirtPage]pageEntry)
	return root, true
}

// RootFree discards a page table's bookkeeping.
func (p *Platform) RootFree(root vm.Root) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.roots, root)
}

// Map installs or overwrites a mapping in root.
func (p *Platform) Map(root vm.Root, vpage vm.VirtPage, dpage vm.PhysPage, flags vm.PageFlags) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	table, ok := p.roots[root]
	if !ok {
		return false
	}
	table[vpage] = pageEntry{dpage: dpage, flags: flags}
	return true
}

// Unmap clears a mapping in root.
func (p *Platform) Unmap(root vm.Root, vpage vm.VirtPage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if table, ok := p.roots[root]; ok {
		delete(table, vpage)
	}
}

// Lookup returns the mapping for vpage in root, or flags=0 if unmapped.
func (p *Platform) Lookup(root vm.Root, vpage vm.VirtPage) (vm.PhysPage, vm.PageFlags) {
	p.mu.Lock()
	defer p.mu.Unlock()

	table, ok := p.roots[root]
	if !ok {
		return 0, 0
	}
	e, ok := table[vpage]
	if !ok {
		return 0, 0
	}
	return e.dpage, e.flags
}

// Now returns the host's monotonic clock reading.
func (p *Platform) Now() time.Time {
	return time.Now()
}

// QuantumLength returns the configured scheduling quantum.
func (p *Platform) QuantumLength() time.Duration {
	return p.quantum
}

// NumCPU returns the configured dispatcher-goroutine count.
func (p *Platform) NumCPU() int {
	return p.numCPU
}

// CPUAffinity returns the configured OS CPU index for logical CPU id,
// if one was set via WithAffinity.
func (p *Platform) CPUAffinity(id int) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	osCPU, ok := p.affinity[id]
	return osCPU, ok
}

// AllocatedPages reports the number of physical pages currently
// considered live, for test assertions about leak-freedom.
func (p *Platform) AllocatedPages() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}
