// Package pool provides a bounded worker pool with a wait barrier.
package pool

import "sync"

// Pool runs submitted functions on at most size concurrent goroutines.
// A Pool is built per batch call and must not be reused after Wait returns.
type Pool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

// New creates a pool with the given concurrency. Sizes below 1 are raised to 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Go schedules fn, blocking until a worker slot is free.
func (p *Pool) Go(fn func()) {
	p.slots <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
		}()
		fn()
	}()
}

// Wait blocks until every scheduled function has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
