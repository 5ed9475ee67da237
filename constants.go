package anscheduler

import "time"

// Fixed address-space layout (virtual page numbers). Implementation
// chooses concrete values for the regions spec.md leaves abstract.
const (
	// KernelLowPages is the identity-mapped low 4 MiB every task shares.
	KernelLowPages VirtPage = 0x400

	// CodePage is the base of a task's code segment.
	CodePage VirtPage = 0x1000

	// KernStacksPage is the base of the kernel-stacks region, one 4 KiB
	// page per thread.
	KernStacksPage VirtPage = 0x100000

	// UserStacksPage is the base of the user-stack region, 256 pages
	// per thread.
	UserStacksPage VirtPage = 0x200000
)

const (
	// MaxStackSlots bounds the number of thread stacks a task may hold.
	MaxStackSlots = 1 << 20

	// UserStackPagesPerThread is the size, in pages, of one thread's
	// reserved (lazily backed) user stack window.
	UserStackPagesPerThread = 256

	// MaxBuf is the bounded depth of a DATA message queue on one
	// socket direction. Control messages bypass this limit.
	MaxBuf = 8

	// MaxMessagePayload is the largest payload a single message may
	// carry.
	MaxMessagePayload = 0xFE8

	// SocketBuckets is the number of chained hash buckets in a task's
	// socket descriptor table.
	SocketBuckets = 16
)

// DefaultQuantum is the scheduler's timeslice: 1/32 second.
const DefaultQuantum = time.Second / 32
