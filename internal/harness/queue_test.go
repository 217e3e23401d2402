package harness

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := newQueue[string]()

	for _, name := range []string{"A", "B", "C"} {
		q.Enqueue(name)
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestQueue_TryDequeue_Empty(t *testing.T) {
	q := newQueue[int]()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestQueue_Wait_SignalsOnEnqueue(t *testing.T) {
	q := newQueue[int]()

	done := make(chan int)
	go func() {
		<-q.Wait()
		v, ok := q.TryDequeue()
		if ok {
			done <- v
		}
	}()

	// Give goroutine time to block
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(7)

	select {
	case v := <-done:
		assert.Equal(t, 7, v)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("wait did not signal")
	}
}

func TestQueue_SignalsCoalesce(t *testing.T) {
	q := newQueue[int]()
	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)

	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("expected a single coalesced signal")
	default:
	}
	assert.Equal(t, 3, q.Len())
}

func TestQueue_Snapshot(t *testing.T) {
	q := newQueue[string]()
	q.Enqueue("a")
	q.Enqueue("b")

	snap := q.Snapshot()
	assert.Equal(t, []string{"a", "b"}, snap)
	assert.Equal(t, 2, q.Len(), "snapshot must not drain")

	snap[0] = "changed"
	got, _ := q.TryDequeue()
	assert.Equal(t, "a", got)
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	q := newQueue[int]()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(start*100 + j)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for {
		v, ok := q.TryDequeue()
		if !ok {
			break
		}
		seen[v] = true
	}
	assert.Len(t, seen, 1000)
}
