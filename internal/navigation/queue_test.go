package navigation

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueue_grantsInArrivalOrder(t *testing.T) {
	q := newQueue()
	ctx := context.Background()
	if err := q.Lock(ctx); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.Lock(ctx); err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			q.Unlock()
		}()
		// Each waiter must be queued before the next one arrives.
		deadline := time.Now().Add(time.Second)
		for q.Waiting() != i+1 {
			if time.Now().After(deadline) {
				t.Fatalf("waiter %d never queued", i)
			}
			time.Sleep(time.Millisecond)
		}
		time.Sleep(2 * time.Millisecond)
	}

	q.Unlock()
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v, want 0..4 in sequence", order)
		}
	}
}

func TestQueue_cancelledWaiterLeaves(t *testing.T) {
	q := newQueue()
	if err := q.Lock(context.Background()); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Lock(ctx); err == nil {
		t.Fatal("Lock() should fail when the context expires")
	}
	if got := q.Waiting(); got != 0 {
		t.Errorf("Waiting() = %d, want 0", got)
	}

	q.Unlock()
	if err := q.Lock(context.Background()); err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	q.Unlock()
}
