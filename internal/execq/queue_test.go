package execq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsInOrder(t *testing.T) {
	t.Parallel()

	q := New()
	t.Cleanup(q.Close)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)
		i := i
		q.Post(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestQueueNeverRunsConcurrently(t *testing.T) {
	t.Parallel()

	q := New()
	t.Cleanup(q.Close)

	var active int32
	var sawConcurrent bool
	var mu sync.Mutex
	var wg sync.WaitGroup

	for range 50 {
		wg.Add(1)
		q.Post(func() {
			defer wg.Done()
			mu.Lock()
			active++
			if active > 1 {
				sawConcurrent = true
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		})
	}
	wg.Wait()

	assert.False(t, sawConcurrent, "two posted items ran concurrently")
}

func TestQueueDrainsBeforeClose(t *testing.T) {
	t.Parallel()

	q := New()
	ran := make(chan struct{}, 1)
	q.Post(func() { ran <- struct{}{} })
	q.Close()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("item posted before Close did not run")
	}
}

func TestQueuePostAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	q := New()
	q.Close()

	called := false
	q.Post(func() { called = true })
	time.Sleep(10 * time.Millisecond)

	assert.False(t, called)
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	q := New()
	q.Close()
	q.Close()
}
