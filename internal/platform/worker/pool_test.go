package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestPoolExecutesJobs verifies submitted jobs run
func TestPoolExecutesJobs(t *testing.T) {
	pool := NewPool(context.Background(), 2, 10)
	defer pool.Close()

	var done int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		ok := pool.TrySubmit(Job{
			ID: "job",
			Execute: func(ctx context.Context) error {
				atomic.AddInt64(&done, 1)
				wg.Done()
				return nil
			},
		})
		if !ok {
			t.Fatalf("Submit %d rejected unexpectedly", i)
		}
	}

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Jobs did not complete in time")
	}

	if atomic.LoadInt64(&done) != 5 {
		t.Errorf("Expected 5 jobs executed, got %d", done)
	}

	t.Log("✓ Submitted jobs execute")
}

// TestPoolDropsWhenQueueFull verifies submission never blocks and drops
// are counted
func TestPoolDropsWhenQueueFull(t *testing.T) {
	pool := NewPool(context.Background(), 1, 1)
	defer pool.Close()

	block := make(chan struct{})
	// Occupy the single worker
	pool.TrySubmit(Job{ID: "blocker", Execute: func(ctx context.Context) error {
		<-block
		return nil
	}})
	// Give the worker a moment to pick it up
	time.Sleep(20 * time.Millisecond)

	// Fill the queue, then overflow it
	pool.TrySubmit(Job{ID: "queued", Execute: func(ctx context.Context) error { return nil }})

	rejected := 0
	for i := 0; i < 3; i++ {
		if !pool.TrySubmit(Job{ID: "overflow", Execute: func(ctx context.Context) error { return nil }}) {
			rejected++
		}
	}
	close(block)

	if rejected != 3 {
		t.Errorf("Expected 3 rejections with a full queue, got %d", rejected)
	}
	if pool.Dropped() != 3 {
		t.Errorf("Expected 3 drops counted, got %d", pool.Dropped())
	}

	t.Log("✓ Full queue drops jobs without blocking")
}

// TestPoolRejectsAfterClose verifies closed pools refuse submissions
func TestPoolRejectsAfterClose(t *testing.T) {
	pool := NewPool(context.Background(), 1, 1)
	pool.Close()

	if pool.TrySubmit(Job{ID: "late", Execute: func(ctx context.Context) error { return nil }}) {
		t.Error("Expected submission rejected after close")
	}

	t.Log("✓ Closed pools reject submissions")
}
