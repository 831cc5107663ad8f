package mailbox

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("Enqueue(%d) = false", i)
		}
	}
	for i := 0; i < 5; i++ {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue ok=false at %d", i)
		}
		if got != i {
			t.Fatalf("Dequeue=%d, want %d", got, i)
		}
	}
}

func TestQueue_LenTracksQueuedItems(t *testing.T) {
	q := New[string]()
	q.Enqueue("a")
	q.Enqueue("b")
	if got := q.Len(); got != 2 {
		t.Fatalf("Len=%d, want 2", got)
	}
	q.Dequeue()
	if got := q.Len(); got != 1 {
		t.Fatalf("Len=%d, want 1", got)
	}
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := New[int]()
	got := make(chan int, 1)
	go func() {
		v, _ := q.Dequeue()
		got <- v
	}()

	select {
	case v := <-got:
		t.Fatalf("Dequeue returned %d before any enqueue", v)
	case <-time.After(20 * time.Millisecond):
	}

	q.Enqueue(42)
	select {
	case v := <-got:
		if v != 42 {
			t.Fatalf("Dequeue=%d, want 42", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Dequeue")
	}
}

func TestQueue_CloseWakesConsumer(t *testing.T) {
	q := New[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("Dequeue ok=true after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not wake consumer")
	}
	if q.Enqueue(1) {
		t.Fatalf("Enqueue after Close should be dropped")
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("Len after Close=%d, want 0", got)
	}
}

func TestQueue_PerProducerOrderPreserved(t *testing.T) {
	const producers = 4
	const perProducer = 500

	q := New[[2]int]()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue([2]int{p, i})
			}
		}(p)
	}
	wg.Wait()

	next := make([]int, producers)
	for n := 0; n < producers*perProducer; n++ {
		item, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue ok=false at %d", n)
		}
		p, i := item[0], item[1]
		if i != next[p] {
			t.Fatalf("producer %d: got seq %d, want %d", p, i, next[p])
		}
		next[p]++
	}
}
