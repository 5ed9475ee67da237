package anscheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anscheduler/anscheduler/internal/mockplatform"
)

func TestRunDispatchesMultipleTasksConcurrently(t *testing.T) {
	k := newTestKernel(t, mockplatform.WithNumCPU(2), mockplatform.WithQuantum(5*time.Millisecond))

	var ranA, ranB atomic.Bool
	for _, dst := range []*atomic.Bool{&ranA, &ranB} {
		task, err := k.CreateTask([]byte{0})
		require.NoError(t, err)
		dst := dst
		th, err := CreateThread(task, func(y *Yielder) { dst.Store(true) })
		require.NoError(t, err)
		AddThread(task, th)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)

	require.Eventually(t, func() bool {
		return ranA.Load() && ranB.Load()
	}, timeout, tick)
}

func TestRunRecordsTimerTickOnUnyieldingThread(t *testing.T) {
	// Uses the default MetricsObserver (not NoOpObserver) since this test
	// reads back through k.Metrics.
	platform := mockplatform.New(mockplatform.WithQuantum(5 * time.Millisecond))
	k := NewKernel(platform)
	task, err := k.CreateTask([]byte{0})
	require.NoError(t, err)

	release := make(chan struct{})
	th, err := CreateThread(task, func(y *Yielder) { <-release })
	require.NoError(t, err)
	AddThread(task, th)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)

	require.Eventually(t, func() bool {
		return k.Metrics.Snapshot().TimerTicks > 0
	}, timeout, tick)

	close(release)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	k := newTestKernel(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestKillWhileRunningDefersTeardownUntilThreadStops(t *testing.T) {
	k := newTestKernel(t, mockplatform.WithNumCPU(1))
	task, err := k.CreateTask([]byte{0})
	require.NoError(t, err)
	pid := task.pid

	started := make(chan struct{})
	release := make(chan struct{})
	th, err := CreateThread(task, func(y *Yielder) {
		close(started)
		<-release
	})
	require.NoError(t, err)
	AddThread(task, th)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go k.Run(ctx)

	<-started
	task.Kill(KillReasonExplicit)

	// The dispatcher holds a reference for as long as th is current, so
	// the kill job must not run while it is still mid-quantum.
	time.Sleep(20 * time.Millisecond)
	_, ok := k.PIDs.Lookup(pid)
	require.True(t, ok, "task must stay alive while its thread is still running")

	close(release)
	require.Eventually(t, func() bool {
		_, ok := k.PIDs.Lookup(pid)
		return !ok
	}, timeout, tick)
}

func TestWithLoggerAndObserverOptionsApply(t *testing.T) {
	observer := NoOpObserver{}
	k := NewKernel(mockplatform.New(), WithObserver(observer))
	require.Equal(t, observer, k.Observer)
	require.NotNil(t, k.Logger)
}
