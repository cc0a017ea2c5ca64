package taskqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFIFOAndCapacity(t *testing.T) {
	q := New(2)
	require.NoError(t, q.PushBack(1))
	require.NoError(t, q.PushBack(2))

	done := make(chan struct{})
	go func() {
		require.NoError(t, q.PushBack(3))
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("PushBack should have blocked on a full queue")
	default:
	}

	v, err := q.PopFront()
	require.NoError(t, err)
	require.Equal(t, 1, v)
	<-done

	v, err = q.PopFront()
	require.NoError(t, err)
	require.Equal(t, 2, v)
	v, err = q.PopFront()
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestCloseUnblocksWaiters(t *testing.T) {
	q := New(0)
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.PopFront()
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	q.Close()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.ErrorIs(t, err, ErrClosed)
	}
}

func TestPushFrontJumpsTheLine(t *testing.T) {
	q := New(4)
	require.NoError(t, q.PushBack("b"))
	require.NoError(t, q.PushBack("c"))
	require.NoError(t, q.PushFront("a"))

	for _, want := range []string{"a", "b", "c"} {
		v, err := q.PopFront()
		require.NoError(t, err)
		require.Equal(t, want, v)
	}
}

func TestClearKeepsQueueUsable(t *testing.T) {
	q := New(2)
	require.NoError(t, q.PushBack(1))
	require.NoError(t, q.PushBack(2))
	q.Clear()
	require.Equal(t, 0, q.Size())

	require.NoError(t, q.PushBack(3))
	v, err := q.PopFront()
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestPopFrontTimeout(t *testing.T) {
	q := New(0)
	_, err := q.PopFrontTimeout(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestNeverExceedsCapacity(t *testing.T) {
	q := New(4)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.PushBack(i)
		}(i)
	}
	for i := 0; i < 20; i++ {
		go func() {
			_, _ = q.PopFrontTimeout(time.Second)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, q.Size(), q.Capacity())
}
