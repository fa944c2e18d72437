package bqueue

import (
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	q := New[int](4)
	q.PushBack(1)
	q.PushBack(2)
	q.PushBack(3)
	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Fatalf("Pop = %d, %v; want %d, true", got, ok, want)
		}
	}
}

func TestPushFrontPriority(t *testing.T) {
	q := New[int](4)
	q.PushBack(1)
	q.PushFront(0)
	got, _ := q.Pop()
	if got != 0 {
		t.Fatalf("Pop = %d, want 0", got)
	}
}

func TestPushBlocksAtCapacity(t *testing.T) {
	q := New[int](1)
	q.PushBack(1)

	done := make(chan struct{})
	go func() {
		q.PushBack(2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("PushBack returned before capacity freed")
	case <-time.After(50 * time.Millisecond):
	}

	q.Pop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PushBack never unblocked after Pop freed capacity")
	}
}

func TestPopBlocksUntilClose(t *testing.T) {
	q := New[int](4)
	done := make(chan bool)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before Close on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("Pop on closed empty queue should report ok=false")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop never woke up after Close")
	}
}

func TestCloseDeliversInFlightItems(t *testing.T) {
	q := New[int](4)
	q.PushBack(42)
	q.Close()

	got, ok := q.Pop()
	if !ok || got != 42 {
		t.Fatalf("Pop after Close = %d, %v; want 42, true (queued items must still drain)", got, ok)
	}
	_, ok = q.Pop()
	if ok {
		t.Fatal("Pop on drained closed queue should report ok=false")
	}
}

func TestCloseIdempotent(t *testing.T) {
	q := New[int](4)
	q.Close()
	q.Close() // must not panic or deadlock
}

func TestPopWithTimeout(t *testing.T) {
	q := New[int](4)
	start := time.Now()
	_, ok := q.PopWithTimeout(30 * time.Millisecond)
	if ok {
		t.Fatal("PopWithTimeout on empty queue should time out")
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("PopWithTimeout returned before its deadline")
	}
}

// Flush wakes a blocked consumer to re-check external state without
// enqueueing an item; it doesn't make Pop succeed on its own, so this
// exercises it alongside a Close to observe the wakeup take effect.
func TestFlushWakesConsumerWithoutEnqueue(t *testing.T) {
	q := New[int](4)
	done := make(chan bool)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	q.Flush() // no item queued, consumer loops back to waiting
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("Pop on closed empty queue should report ok=false")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer never woke after Flush+Close")
	}
}
