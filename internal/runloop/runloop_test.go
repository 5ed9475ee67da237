package runloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPushPopFIFO(t *testing.T) {
	q := New()
	q.Push("a")
	q.Push("b")
	q.Push("c")

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		item, ok := q.Pop(ctx)
		require.True(t, ok)
		require.Equal(t, want, item)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New()
	ctx := context.Background()

	done := make(chan any, 1)
	go func() {
		item, ok := q.Pop(ctx)
		if ok {
			done <- item
		}
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before any Push")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push("late")
	require.Eventually(t, func() bool {
		select {
		case item := <-done:
			return item == "late"
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestPopUnblocksOnContextCancel(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		done <- ok
	}()

	cancel()
	require.Eventually(t, func() bool {
		select {
		case ok := <-done:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestDeleteRemovesQueuedItem(t *testing.T) {
	q := New()
	q.Push("a")
	q.Push("b")

	require.True(t, q.Delete("a"))
	require.False(t, q.Delete("a"))
	require.Equal(t, 1, q.Len())

	item, ok := q.Pop(context.Background())
	require.True(t, ok)
	require.Equal(t, "b", item)
}

func TestPushKernelRunsFunction(t *testing.T) {
	q := New()
	done := make(chan struct{})
	q.PushKernel(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PushKernel job never ran")
	}
}
