package anscheduler

import (
	"context"
	"runtime"
	"time"

	"github.com/anscheduler/anscheduler/internal/logging"
	"github.com/anscheduler/anscheduler/internal/pidmap"
	"github.com/anscheduler/anscheduler/internal/runloop"
)

// Kernel bundles the shared state every task, thread, and socket
// operation in this package needs to reach: the ready queue, the PID
// registry, the interrupt router, and the hardware facade, plus the
// ambient logger and metrics observer. It takes the place of
// backend.go's CreateAndServe bootstrap: there is no device protocol
// here, just a scheduler to bring up and run.
type Kernel struct {
	Platform Platform

	RunQueue    *runloop.Queue
	PIDs        *pidmap.Map
	Interrupts  *InterruptRouter
	Metrics     *Metrics
	Observer    Observer
	Logger      *logging.Logger

	cpus []*cpu
}

// KernelOption configures a Kernel at construction time.
type KernelOption func(*Kernel)

// WithLogger overrides the kernel's logger; the default is
// logging.Default().
func WithLogger(l *logging.Logger) KernelOption {
	return func(k *Kernel) { k.Logger = l }
}

// WithObserver overrides the kernel's metrics observer; the default
// wraps a fresh Metrics in a MetricsObserver.
func WithObserver(o Observer) KernelOption {
	return func(k *Kernel) { k.Observer = o }
}

// NewKernel wires a Kernel around platform: a ready queue, a PID
// registry, and an interrupt router, ready to create tasks against.
func NewKernel(platform Platform, opts ...KernelOption) *Kernel {
	metrics := NewMetrics()
	k := &Kernel{
		Platform: platform,
		RunQueue: runloop.New(),
		PIDs:     pidmap.New(),
		Metrics:  metrics,
		Observer: NewMetricsObserver(metrics),
		Logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.Interrupts = NewInterruptRouter(k.Observer)
	return k
}

// CreateTask builds a fresh task running code, wired to this kernel's
// run queue, PID registry, and observers.
func (k *Kernel) CreateTask(code []byte) (*Task, error) {
	return createTask(k, code)
}

// ForkTask creates a task that inherits aTask's code image.
func (k *Kernel) ForkTask(aTask *Task) (*Task, error) {
	return forkTask(aTask)
}

// Run starts one dispatcher goroutine per platform.NumCPU, pinned to
// the platform's reported affinity where one is configured, mirroring
// the teacher's pattern of a LockOSThread'd goroutine per io_uring
// ring. It blocks until ctx is done.
func (k *Kernel) Run(ctx context.Context) {
	n := k.Platform.NumCPU()
	if n <= 0 {
		n = 1
	}
	done := make(chan struct{}, n)
	for id := 0; id < n; id++ {
		c := &cpu{id: id, kernel: k}
		k.cpus = append(k.cpus, c)
		go func(c *cpu) {
			defer func() { done <- struct{}{} }()
			c.run(ctx)
		}(c)
	}
	<-ctx.Done()
	for i := 0; i < n; i++ {
		<-done
	}
	k.Metrics.Stop()
}

// cpu is one dispatcher: a goroutine that repeatedly pops a runnable
// thread off the ready queue, resumes it until it halts or exits (a
// quantum passing only records a timer tick; the thread is not
// preempted), and either requeues it or lets it go if it exited or was
// killed.
type cpu struct {
	id      int
	kernel  *Kernel
	current *Thread
}

func (c *cpu) run(ctx context.Context) {
	log := c.kernel.Logger.WithCPU(c.id)
	if osCPU, ok := c.kernel.Platform.CPUAffinity(c.id); ok {
		runtime.LockOSThread()
		if err := pinToCPU(osCPU); err != nil {
			log.Warn("failed to set CPU affinity", "error", err)
		}
	}
	for {
		item, ok := c.kernel.RunQueue.Pop(ctx)
		if !ok {
			return
		}
		th, ok := item.(*Thread)
		if !ok {
			continue
		}

		// Mirrors the dispatcher's pop-time reference attempt: a thread
		// whose task was killed while queued is dropped here rather
		// than resumed, so refCount never undercounts a thread actually
		// executing against the task.
		if !Reference(th.task) {
			continue
		}

		c.current = th
		start := c.kernel.Platform.Now()
		quantum := c.kernel.Platform.QuantumLength()

		th.resume <- struct{}{}
		select {
		case <-th.paused:
		case <-time.After(quantum):
			c.kernel.Observer.ObserveTimerTick()
			<-th.paused
		}

		latency := c.kernel.Platform.Now().Sub(start)
		c.kernel.Observer.ObserveDispatch(uint64(latency.Nanoseconds()))
		c.kernel.Observer.ObserveQueueDepth(uint32(c.kernel.RunQueue.Len()))

		c.current = nil
		exited := th.exited.Load()
		task := th.task
		Dereference(task)
		switch {
		case exited:
			log.Debug("thread exited", "pid", task.pid)
		case task.killed():
			// Dereference may have just run the kill job, which already
			// swept task's threads out of the queue; pushing th back
			// here would silently resurrect a dead task's thread.
		default:
			c.kernel.RunQueue.Push(th)
		}
	}
}
