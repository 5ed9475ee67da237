package anscheduler

import (
	"sync"
	"sync/atomic"
)

// InterruptRouter delivers page faults and IRQs to the task currently
// responsible for handling them, mirroring interrupts.c. Unlike the
// per-CPU globals the original keeps, one router is shared by the
// whole kernel and guards its single designated interrupt thread with
// a lock, since Go gives us no free per-CPU storage to lean on.
type InterruptRouter struct {
	mu              sync.Mutex
	interruptThread *Thread

	observer Observer
}

// NewInterruptRouter creates a router with no interrupt thread set.
func NewInterruptRouter(observer Observer) *InterruptRouter {
	return &InterruptRouter{observer: observer}
}

// SetInterruptThread designates thread as the target of future IRQ
// deliveries.
func (r *InterruptRouter) SetInterruptThread(thread *Thread) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interruptThread = thread
}

// InterruptThread returns the currently designated interrupt thread,
// or nil.
func (r *InterruptRouter) InterruptThread() *Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interruptThread
}

// clearIfEqual unregisters thread as the interrupt thread if it still
// is one, called when a thread is torn down so a stale pointer is
// never delivered to.
func (r *InterruptRouter) clearIfEqual(thread *Thread) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.interruptThread == thread {
		r.interruptThread = nil
	}
}

// DeliverIRQ ORs irqNumber's bit into the interrupt thread's pending
// mask and, if that thread was polling, wakes it by requeueing it onto
// its task's kernel run queue. Mirrors anscheduler_irq.
func (r *InterruptRouter) DeliverIRQ(irqNumber uint8) {
	r.mu.Lock()
	thread := r.interruptThread
	if thread == nil {
		r.mu.Unlock()
		return
	}
	task := thread.task
	if !Reference(task) {
		r.mu.Unlock()
		return
	}

	thread.irqs.Or(1 << uint32(irqNumber))
	woke := thread.isPolling.CompareAndSwap(true, false)
	r.mu.Unlock()

	if woke && !task.killed() {
		task.kernel.RunQueue.Push(thread)
	}
	Dereference(task)
}

// PageFault handles a fault at faultPage in task's address space,
// mirroring anscheduler_page_fault: a fault against an UNALLOC,
// not-yet-backed page is satisfied by lazy allocation; a fault
// against a present kernel-only page, or against an entirely unmapped
// page, kills the task. killed reports whether the task was killed,
// so the caller's ThreadFunc knows to stop running.
func (r *InterruptRouter) PageFault(task *Task, faultPage VirtPage) (killed bool) {
	phys, flags := task.vm.Lookup(faultPage)

	switch {
	case flags&PageUnalloc != 0 && phys == 0:
		newPage, ok := task.platform.AllocPage()
		if !ok {
			task.Kill(KillReasonMemory)
			if r.observer != nil {
				r.observer.ObservePageFault(false)
			}
			return true
		}
		task.vm.Map(faultPage, newPage, PageUser|PagePresent|PageWrite)
		if r.observer != nil {
			r.observer.ObservePageFault(true)
		}
		return false

	case flags&PagePresent != 0:
		if flags&PageUser == 0 {
			// Privilege violation: user-mode access to a present,
			// kernel-only page.
			task.Kill(KillReasonMemory)
			if r.observer != nil {
				r.observer.ObservePageFault(false)
			}
			return true
		}
		return false

	default:
		task.Kill(KillReasonMemory)
		if r.observer != nil {
			r.observer.ObservePageFault(false)
		}
		return true
	}
}

// irqMask is the atomic bitmap of IRQs delivered to a thread but not
// yet consumed.
type irqMask = atomic.Uint32
