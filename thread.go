package anscheduler

import "sync/atomic"

// ThreadFunc is the body of a schedulable thread. It receives a Yielder
// it must call Halt on whenever the original C implementation would have
// called yield_to: waiting for an interrupt, blocking on a socket read,
// or finishing a time slice voluntarily. There is no way for Go to
// forcibly suspend a running goroutine the way the original scheduler's
// timer interrupt suspends a CPU core, so preemption here is cooperative
// by convention, not by force; see DESIGN.md's Open Question entry on
// Platform externalization.
type ThreadFunc func(y *Yielder)

// Yielder is a thread's handle back into the dispatcher. Calling Halt
// suspends the calling goroutine until the run loop schedules this
// thread again.
type Yielder struct {
	thread *Thread
}

// Halt suspends the thread until the dispatcher resumes it.
func (y *Yielder) Halt() {
	y.thread.paused <- struct{}{}
	<-y.thread.resume
}

// Thread is one schedulable execution context belonging to a Task. It
// corresponds to thread_t in the original implementation: a stack slot,
// a polling flag used by the socket wakeup path, and linkage into the
// owning task's thread list.
type Thread struct {
	task *Task

	// next/last form the task's doubly linked thread list, guarded by
	// task.threadsLock.
	next, last *Thread

	stack uint64 // index into the task's kernel/user stack region

	isPolling atomic.Bool
	exited    atomic.Bool
	started   atomic.Bool
	irqs      irqMask

	fn     ThreadFunc
	resume chan struct{}
	paused chan struct{}
}

// CreateThread allocates a stack slot and the kernel/user stack pages
// that go with it, mirroring anscheduler_create_thread. The thread is
// not yet linked into the task or runnable; call AddThread for that.
func CreateThread(task *Task, fn ThreadFunc) (*Thread, error) {
	stack, ok := task.stacks.Get()
	if stack >= MaxStackSlots || !ok {
		// Per the original comment: do not return the index to the
		// idxset here, since that would just let the same exhaustion
		// happen again immediately.
		return nil, NewTaskError("CreateThread", task.pid, ErrCodeCapacityRefused, "stack slots exhausted")
	}

	thread := &Thread{task: task, stack: stack, fn: fn}

	if err := allocKernelStack(task, thread); err != nil {
		task.stacks.Put(stack)
		return nil, err
	}

	if err := mapUserStack(task, thread); err != nil {
		deallocKernelStack(task, thread)
		task.stacks.Put(stack)
		return nil, err
	}

	return thread, nil
}

// AddThread links thread into task's thread list and makes it runnable.
func AddThread(task *Task, thread *Thread) {
	task.threadsLock.Lock()
	next := task.firstThread
	if next != nil {
		next.last = thread
	}
	task.firstThread = thread
	thread.last = nil
	thread.next = next
	task.threadsLock.Unlock()

	thread.resume = make(chan struct{})
	thread.paused = make(chan struct{}, 1)
	thread.started.Store(true)

	go func() {
		y := &Yielder{thread: thread}
		<-thread.resume
		thread.fn(y)
		thread.exited.Store(true)
		thread.paused <- struct{}{}
	}()

	if task.killed() {
		return
	}
	task.kernel.RunQueue.Push(thread)
}

// Poll reports whether the task has no pending work, marking the
// calling thread as polling so a future message wakes it back up. It
// mirrors anscheduler_thread_poll, which a pager or IPC-driven thread
// calls right before halting to wait for work.
func (t *Task) Poll(thread *Thread) bool {
	t.pendingLock.Lock()
	hadJobs := len(t.pending) > 0
	if !hadJobs {
		thread.isPolling.Store(true)
	}
	t.pendingLock.Unlock()
	return !hadJobs
}

// PushPending queues job on task's pending list and wakes a polling
// thread, if one is waiting.
func (t *Task) PushPending(job any) {
	t.pendingLock.Lock()
	t.pending = append(t.pending, job)
	t.pendingLock.Unlock()
	wakeupPollingThread(t)
}

// PopPending dequeues the next pending job, if any.
func (t *Task) PopPending() (any, bool) {
	t.pendingLock.Lock()
	defer t.pendingLock.Unlock()
	if len(t.pending) == 0 {
		return nil, false
	}
	job := t.pending[0]
	t.pending = t.pending[1:]
	return job, true
}

// wakeupPollingThread finds a thread of task that is parked in Poll
// and requeues it, clearing the polling flag with a test-and-clear so
// at most one waker wins the race.
func wakeupPollingThread(task *Task) bool {
	if task.killed() {
		return false
	}

	task.threadsLock.Lock()
	defer task.threadsLock.Unlock()

	for th := task.firstThread; th != nil; th = th.next {
		if th.isPolling.CompareAndSwap(true, false) {
			task.kernel.RunQueue.Push(th)
			return true
		}
	}
	return false
}

// Exit frees a thread's user stack and hands the rest of its teardown
// (unlinking, kernel stack) to a kernel-style cleanup job that holds its
// own task reference, mirroring anscheduler_thread_exit. Exit returns
// to its caller; the thread stops running once its ThreadFunc returns.
// If the task is already killed, no job is queued and the kill job
// tears the thread down instead.
func (t *Task) Exit(thread *Thread) {
	deallocateThread(t, thread)
	if !Reference(t) {
		return
	}
	t.kernel.RunQueue.PushKernel(func() {
		finishThreadDealloc(t, thread)
	})
}

// TakeIRQs atomically reads and clears thread's pending IRQ bitmap.
func (t *Thread) TakeIRQs() uint32 {
	return t.irqs.Swap(0)
}

// deallocateThread unmaps a thread's user stack pages, mirroring
// anscheduler_thread_deallocate. Pages already marked UNALLOC are freed
// immediately; present pages are first downgraded to UNALLOC so no
// other CPU can still be mid-fault against them, then freed.
func deallocateThread(task *Task, thread *Thread) {
	if task.interrupts != nil {
		task.interrupts.clearIfEqual(thread)
	}

	firstPage := UserStacksPage + VirtPage(thread.stack<<8)

	for i := VirtPage(0); i < UserStackPagesPerThread; i++ {
		page := firstPage + i
		phys, flags := task.vm.Lookup(page)
		if flags&PagePresent != 0 {
			flags = (flags &^ PagePresent) | PageUnalloc
			task.vm.Map(page, phys, flags)
		} else if flags != 0 && phys == 0 {
			task.vm.Unmap(page)
		}
	}

	for i := VirtPage(0); i < UserStackPagesPerThread; i++ {
		page := firstPage + i
		phys, flags := task.vm.Lookup(page)
		if phys != 0 || flags != 0 {
			task.vm.Unmap(page)
		}
		if phys != 0 && flags&PageUnalloc != 0 {
			task.platform.FreePage(phys)
		}
	}
}

// kernelStack returns the physical page backing thread's kernel stack,
// or 0 if it was never mapped (already freed).
func kernelStack(task *Task, thread *Thread) PhysPage {
	vPage := KernStacksPage + VirtPage(thread.stack)
	phys, flags := task.vm.Lookup(vPage)
	if flags&PagePresent != 0 {
		return phys
	}
	return 0
}

func allocKernelStack(task *Task, thread *Thread) error {
	phys, ok := task.platform.AllocPage()
	if !ok {
		return NewTaskError("CreateThread", task.pid, ErrCodeAllocFailed, "no physical page for kernel stack")
	}

	kPage := KernStacksPage + VirtPage(thread.stack)
	if !task.vm.Map(kPage, phys, PagePresent|PageWrite) {
		task.platform.FreePage(phys)
		return NewTaskError("CreateThread", task.pid, ErrCodeAllocFailed, "failed to map kernel stack")
	}
	return nil
}

func deallocKernelStack(task *Task, thread *Thread) {
	page := KernStacksPage + VirtPage(thread.stack)
	phys, flags := task.vm.Lookup(page)
	if flags&PagePresent != 0 {
		task.vm.Unmap(page)
		task.platform.FreePage(phys)
	}
}

func mapUserStack(task *Task, thread *Thread) error {
	flags := PageUnalloc | PageUser | PageWrite
	start := UserStacksPage + VirtPage(thread.stack<<8)

	var i VirtPage
	for i = 0; i < UserStackPagesPerThread; i++ {
		if !task.vm.Map(start+i, 0, flags) {
			for j := VirtPage(0); j < i; j++ {
				task.vm.Unmap(start + j)
			}
			return NewTaskError("CreateThread", task.pid, ErrCodeAllocFailed, "failed to reserve user stack")
		}
	}
	return nil
}

// finishThreadDealloc unlinks thread from its task and frees its
// structures, mirroring _finish_thread_dealloc. It runs as a kernel
// job holding the task reference Exit took, which it releases last.
func finishThreadDealloc(task *Task, thread *Thread) {
	task.threadsLock.Lock()
	if thread.last == nil {
		task.firstThread = thread.next
		if thread.next != nil {
			thread.next.last = nil
		}
	} else {
		thread.last.next = thread.next
		if thread.next != nil {
			thread.next.last = thread.last
		}
	}
	task.threadsLock.Unlock()

	if phys := kernelStack(task, thread); phys != 0 {
		task.vm.Unmap(KernStacksPage + VirtPage(thread.stack))
		task.platform.FreePage(phys)
	}

	Dereference(task)
}
