// Package workerpool implements a fixed-size goroutine pool draining a
// single task queue, with no stealing and no priorities — the reactor is
// the pool's sole producer.
package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/xtaci/vortexd/bqueue"
)

// defaultQueueCapacity bounds how many pending tasks may queue up ahead
// of the worker goroutines before AddTask blocks.
const defaultQueueCapacity = 4096

// Pool is a fixed-size worker pool. The zero value is not usable;
// construct with New.
type Pool struct {
	tasks    *bqueue.Queue[func()]
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	inflight int64
	mu       sync.Mutex
}

// New starts n worker goroutines and returns a Pool ready to accept
// tasks. admission caps the number of tasks allowed to run concurrently
// ahead of the queue (back-pressure); pass n to leave it unbounded.
func New(n int, admission int64) *Pool {
	if n < 1 {
		panic("workerpool: n must be >= 1")
	}
	p := &Pool{
		tasks: bqueue.New[func()](defaultQueueCapacity),
		sem:   semaphore.NewWeighted(admission),
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		task, ok := p.tasks.Pop()
		if !ok {
			return
		}
		p.sem.Acquire(context.Background(), 1)
		p.mu.Lock()
		p.inflight++
		p.mu.Unlock()

		task()

		p.mu.Lock()
		p.inflight--
		p.mu.Unlock()
		p.sem.Release(1)
	}
}

// AddTask enqueues f to run on the next free worker, blocking if the
// internal queue is at capacity.
func (p *Pool) AddTask(f func()) {
	p.tasks.PushBack(f)
}

// Inflight reports the number of tasks currently executing, for the
// admin metrics gauge.
func (p *Pool) Inflight() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}

// Close stops accepting new tasks, drains whatever remains, and waits
// for every worker to exit.
func (p *Pool) Close() {
	p.tasks.Close()
	p.wg.Wait()
}
