package anscheduler

import (
	"time"

	"github.com/anscheduler/anscheduler/internal/vm"
)

// PageFlags is an OR-able set of page-table entry attributes. Aliased
// from internal/vm so both packages speak the same type without an
// import cycle (vm.Facade wraps Platform's page-table operations).
type PageFlags = vm.PageFlags

const (
	PagePresent = vm.Present
	PageWrite   = vm.Write
	PageUser    = vm.User
	PageGlobal  = vm.Global
	PageUnalloc = vm.Unalloc
)

// PhysPage and VirtPage are opaque page-frame numbers, not byte addresses.
type PhysPage = vm.PhysPage
type VirtPage = vm.VirtPage

// VMRoot identifies a per-task page-table tree.
type VMRoot = vm.Root

// Platform is the narrow set of operations that are genuinely
// hardware-specific: physical page allocation, the architecture page
// table walker, and the monotonic clock. Everything spec.md's external
// interface table lists beyond this (locks, atomics, context switch,
// per-CPU scratch-stack trampoline) is internalized using native Go
// concurrency primitives — see DESIGN.md's Open Question entry on
// Platform externalization.
type Platform interface {
	vm.PageTable

	// AllocPage returns a zeroed 4 KiB physical page, or ok=false if the
	// allocator is exhausted.
	AllocPage() (p PhysPage, ok bool)

	// FreePage returns a physical page to the allocator.
	FreePage(p PhysPage)

	// Now returns the current monotonic time.
	Now() time.Time

	// QuantumLength is the scheduler's timeslice, normally 1/32s.
	QuantumLength() time.Duration

	// NumCPU reports how many dispatcher goroutines should be started.
	NumCPU() int

	// CPUAffinity optionally returns the OS CPU index a dispatcher for
	// logical CPU id should be pinned to. ok=false means no pinning.
	CPUAffinity(id int) (osCPU int, ok bool)
}
