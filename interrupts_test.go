package anscheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeliverIRQSetsBitAndWakesPollingThread(t *testing.T) {
	k := newTestKernel(t)
	task, err := k.CreateTask([]byte{0})
	require.NoError(t, err)

	th, err := CreateThread(task, func(y *Yielder) {})
	require.NoError(t, err)
	AddThread(task, th)
	k.RunQueue.Delete(th)

	k.Interrupts.SetInterruptThread(th)
	task.Poll(th)

	k.Interrupts.DeliverIRQ(3)

	require.False(t, th.isPolling.Load())
	require.Equal(t, uint32(1<<3), th.TakeIRQs())

	item, ok := k.RunQueue.Pop(context.Background())
	require.True(t, ok)
	require.Same(t, th, item)
}

func TestDeliverIRQWithNoInterruptThreadIsNoOp(t *testing.T) {
	k := newTestKernel(t)
	require.NotPanics(t, func() { k.Interrupts.DeliverIRQ(0) })
}

func TestPageFaultLazyAllocatesUnallocPage(t *testing.T) {
	k := newTestKernel(t)
	task, err := k.CreateTask([]byte{0})
	require.NoError(t, err)

	th, err := CreateThread(task, func(y *Yielder) {})
	require.NoError(t, err)
	faultPage := UserStacksPage + VirtPage(th.stack<<8)

	killed := k.Interrupts.PageFault(task, faultPage)
	require.False(t, killed)

	_, flags := task.vm.Lookup(faultPage)
	require.NotZero(t, flags&PagePresent)
	require.NotZero(t, flags&PageUser)
}

func TestPageFaultKillsOnKernelOnlyPage(t *testing.T) {
	k := newTestKernel(t)
	task, err := k.CreateTask([]byte{0})
	require.NoError(t, err)

	killed := k.Interrupts.PageFault(task, 0) // identity-mapped, no PageUser
	require.True(t, killed)
}

func TestClearIfEqualOnlyClearsMatchingThread(t *testing.T) {
	k := newTestKernel(t)
	task, err := k.CreateTask([]byte{0})
	require.NoError(t, err)

	th1, err := CreateThread(task, func(y *Yielder) {})
	require.NoError(t, err)
	th2, err := CreateThread(task, func(y *Yielder) {})
	require.NoError(t, err)

	k.Interrupts.SetInterruptThread(th1)
	k.Interrupts.clearIfEqual(th2)
	require.Same(t, th1, k.Interrupts.InterruptThread())

	k.Interrupts.clearIfEqual(th1)
	require.Nil(t, k.Interrupts.InterruptThread())
}
