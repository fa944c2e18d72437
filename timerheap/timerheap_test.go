package timerheap

import (
	"testing"
	"time"
)

func TestGetNextTickOrdering(t *testing.T) {
	h := New()
	fired := make([]int, 0, 3)
	h.Add(3, 30*time.Millisecond, func() { fired = append(fired, 3) })
	h.Add(1, 10*time.Millisecond, func() { fired = append(fired, 1) })
	h.Add(2, 20*time.Millisecond, func() { fired = append(fired, 2) })

	deadline := time.Now().Add(200 * time.Millisecond)
	for len(fired) < 3 && time.Now().Before(deadline) {
		next := h.GetNextTick()
		if next < 0 {
			break
		}
		time.Sleep(next + time.Millisecond)
	}
	h.Tick()

	if len(fired) != 3 {
		t.Fatalf("fired = %v, want 3 callbacks", fired)
	}
	for i, want := range []int{1, 2, 3} {
		if fired[i] != want {
			t.Fatalf("fire order = %v, want [1 2 3]", fired)
		}
	}
}

func TestAdjustReordersDeadline(t *testing.T) {
	h := New()
	var fired []int
	h.Add(1, 10*time.Millisecond, func() { fired = append(fired, 1) })
	h.Add(2, 200*time.Millisecond, func() { fired = append(fired, 2) })

	h.Adjust(2, 5*time.Millisecond) // fd 2 now sooner than fd 1
	time.Sleep(40 * time.Millisecond)
	h.Tick()

	if len(fired) == 0 || fired[0] != 2 {
		t.Fatalf("fired = %v, want fd 2 first after Adjust", fired)
	}
}

func TestDelRemovesWithoutFiring(t *testing.T) {
	h := New()
	fired := false
	h.Add(1, 5*time.Millisecond, func() { fired = true })
	h.Del(1)
	time.Sleep(20 * time.Millisecond)
	h.Tick()
	if fired {
		t.Fatal("Del'd entry fired its callback")
	}
	if h.Len() != 0 {
		t.Fatalf("Len = %d, want 0", h.Len())
	}
}

func TestDoWorkFiresImmediatelyAndRemoves(t *testing.T) {
	h := New()
	fired := false
	h.Add(1, time.Hour, func() { fired = true })
	h.DoWork(1)
	if !fired {
		t.Fatal("DoWork did not invoke the callback")
	}
	if h.Len() != 0 {
		t.Fatalf("Len = %d after DoWork, want 0", h.Len())
	}
}

func TestAddOverwritesExistingFD(t *testing.T) {
	h := New()
	count := 0
	h.Add(1, time.Hour, func() { count++ })
	h.Add(1, time.Millisecond, func() { count++ })
	if h.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (re-Add must not duplicate)", h.Len())
	}
	time.Sleep(20 * time.Millisecond)
	h.Tick()
	if count != 1 {
		t.Fatalf("count = %d, want exactly one fire", count)
	}
}

func TestGetNextTickEmpty(t *testing.T) {
	h := New()
	if got := h.GetNextTick(); got != -1 {
		t.Fatalf("GetNextTick on empty heap = %v, want -1", got)
	}
}

func TestClearDropsWithoutFiring(t *testing.T) {
	h := New()
	fired := false
	h.Add(1, time.Millisecond, func() { fired = true })
	h.Clear()
	time.Sleep(10 * time.Millisecond)
	if h.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", h.Len())
	}
	if fired {
		t.Fatal("Clear must not invoke callbacks")
	}
}
