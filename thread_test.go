package anscheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anscheduler/anscheduler/internal/mockplatform"
)

func TestCreateThreadReservesStackSlot(t *testing.T) {
	k := newTestKernel(t)
	task, err := k.CreateTask([]byte{0})
	require.NoError(t, err)

	th, err := CreateThread(task, func(y *Yielder) {})
	require.NoError(t, err)
	require.True(t, task.stacks.Contains(th.stack))

	_, flags := task.vm.Lookup(KernStacksPage + VirtPage(th.stack))
	require.NotZero(t, flags&PagePresent)
}

func TestAddThreadRunsToCompletion(t *testing.T) {
	k := newTestKernel(t, mockplatform.WithQuantum(10*time.Millisecond))
	task, err := k.CreateTask([]byte{0})
	require.NoError(t, err)

	ran := make(chan struct{})
	th, err := CreateThread(task, func(y *Yielder) {
		close(ran)
	})
	require.NoError(t, err)
	AddThread(task, th)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)

	select {
	case <-ran:
	case <-time.After(timeout):
		t.Fatal("thread body never ran")
	}

	require.Eventually(t, func() bool {
		return th.exited.Load()
	}, timeout, tick)
}

func TestYielderHaltResumesOnNextDispatch(t *testing.T) {
	k := newTestKernel(t, mockplatform.WithQuantum(10*time.Millisecond))
	task, err := k.CreateTask([]byte{0})
	require.NoError(t, err)

	rounds := make(chan int, 3)
	th, err := CreateThread(task, func(y *Yielder) {
		for i := 0; i < 3; i++ {
			rounds <- i
			y.Halt()
		}
	})
	require.NoError(t, err)
	AddThread(task, th)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)

	for want := 0; want < 3; want++ {
		select {
		case got := <-rounds:
			require.Equal(t, want, got)
		case <-time.After(timeout):
			t.Fatalf("round %d never ran", want)
		}
	}
}

func TestPollReturnsFalseWhenPendingAlreadyQueued(t *testing.T) {
	k := newTestKernel(t)
	task, err := k.CreateTask([]byte{0})
	require.NoError(t, err)

	th, err := CreateThread(task, func(y *Yielder) {})
	require.NoError(t, err)
	AddThread(task, th)

	task.PushPending("job")
	require.False(t, task.Poll(th))
}

func TestPollMarksPollingWhenNothingPending(t *testing.T) {
	k := newTestKernel(t)
	task, err := k.CreateTask([]byte{0})
	require.NoError(t, err)

	th, err := CreateThread(task, func(y *Yielder) {})
	require.NoError(t, err)
	AddThread(task, th)

	require.True(t, task.Poll(th))
	require.True(t, th.isPolling.Load())
}

func TestPushPendingWakesPollingThread(t *testing.T) {
	k := newTestKernel(t)
	task, err := k.CreateTask([]byte{0})
	require.NoError(t, err)

	th, err := CreateThread(task, func(y *Yielder) {})
	require.NoError(t, err)
	AddThread(task, th)
	k.RunQueue.Delete(th) // isolate the wakeup path from AddThread's own enqueue

	task.Poll(th)
	task.PushPending("job")

	require.False(t, th.isPolling.Load())
	item, ok := k.RunQueue.Pop(context.Background())
	require.True(t, ok)
	require.Same(t, th, item)
}
