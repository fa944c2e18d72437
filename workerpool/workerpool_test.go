package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddTaskRunsOnWorker(t *testing.T) {
	p := New(4, 4)
	defer p.Close()

	var n int32
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		p.AddTask(func() {
			atomic.AddInt32(&n, 1)
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks never completed")
	}
	if atomic.LoadInt32(&n) != 10 {
		t.Fatalf("n = %d, want 10", n)
	}
}

func TestCloseDrainsAndJoins(t *testing.T) {
	p := New(2, 2)
	var ran int32
	p.AddTask(func() { atomic.AddInt32(&ran, 1) })
	p.AddTask(func() { atomic.AddInt32(&ran, 1) })

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close never returned")
	}
	if atomic.LoadInt32(&ran) != 2 {
		t.Fatalf("ran = %d, want 2 (Close must drain queued tasks)", ran)
	}
}

func TestAdmissionCapsInflight(t *testing.T) {
	p := New(8, 2) // 8 workers, only 2 admitted to run concurrently
	release := make(chan struct{})

	for i := 0; i < 8; i++ {
		p.AddTask(func() {
			<-release
		})
	}

	time.Sleep(100 * time.Millisecond)
	if got := p.Inflight(); got > 2 {
		t.Fatalf("Inflight = %d, want <= 2", got)
	}
	close(release)
	p.Close()
}
