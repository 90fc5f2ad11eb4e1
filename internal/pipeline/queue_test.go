package pipeline

import (
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int](2)
	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	for i := 0; i < 10; i++ {
		got, ok := q.TryPop()
		if !ok || got != i {
			t.Fatalf("TryPop() = %d, %v; want %d, true", got, ok, i)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue returned true")
	}
}

func TestQueue_GrowsPastInitialCapacity(t *testing.T) {
	q := NewQueue[int](4)
	for i := 0; i < 100; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Depth != 100 {
		t.Errorf("Depth = %d, want 100", stats.Depth)
	}
	if stats.Grown == 0 {
		t.Error("queue never grew")
	}
	if stats.HighWater != 100 {
		t.Errorf("HighWater = %d, want 100", stats.HighWater)
	}

	// Growth must not reorder: ring was wrapped at various points.
	for i := 0; i < 100; i++ {
		got, _ := q.TryPop()
		if got != i {
			t.Fatalf("after growth, item %d = %d", i, got)
		}
	}
}

func TestQueue_GrowPreservesWrappedOrder(t *testing.T) {
	q := NewQueue[int](4)
	// Wrap the ring: push 3, pop 2, then push enough to force growth.
	q.Push(0)
	q.Push(1)
	q.Push(2)
	q.TryPop()
	q.TryPop()
	for i := 3; i < 12; i++ {
		q.Push(i)
	}
	for want := 2; want < 12; want++ {
		got, ok := q.TryPop()
		if !ok || got != want {
			t.Fatalf("TryPop() = %d, %v; want %d", got, ok, want)
		}
	}
}

func TestQueue_CloseDrains(t *testing.T) {
	q := NewQueue[string](2)
	q.Push("a")
	q.Push("b")
	q.Close()

	if q.Push("c") {
		t.Error("Push after Close returned true")
	}

	if v, ok := q.Pop(); !ok || v != "a" {
		t.Errorf("Pop() = %q, %v; want a", v, ok)
	}
	if v, ok := q.Pop(); !ok || v != "b" {
		t.Errorf("Pop() = %q, %v; want b", v, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() after drain returned true")
	}
}

func TestQueue_BlockingPop(t *testing.T) {
	q := NewQueue[int](1)

	var wg sync.WaitGroup
	results := make([]int, 0, 50)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			v, ok := q.Pop()
			if !ok {
				return
			}
			results = append(results, v)
		}
	}()

	for i := 0; i < 50; i++ {
		q.Push(i)
	}
	q.Close()
	wg.Wait()

	if len(results) != 50 {
		t.Fatalf("consumer received %d items, want 50", len(results))
	}
	for i, v := range results {
		if v != i {
			t.Fatalf("results[%d] = %d", i, v)
		}
	}
}
