package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	sem := NewSemaphore(2)

	var current, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !sem.Acquire(context.Background()) {
				t.Error("Acquire returned false")
				return
			}
			defer sem.Release()

			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
		}()
	}
	wg.Wait()

	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestSemaphoreNilIsUnlimited(t *testing.T) {
	sem := NewSemaphore(0)
	if sem != nil {
		t.Fatal("NewSemaphore(0) should be nil")
	}
	if !sem.Acquire(context.Background()) {
		t.Error("nil Acquire should succeed")
	}
	sem.Release()
	if sem.Capacity() != 0 {
		t.Errorf("Capacity = %d", sem.Capacity())
	}
}

func TestSemaphoreAcquireCancelled(t *testing.T) {
	sem := NewSemaphore(1)
	if !sem.Acquire(context.Background()) {
		t.Fatal("first Acquire failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sem.Acquire(ctx) {
		t.Error("Acquire should fail on cancelled context")
	}
}
