package pool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitBarrier(t *testing.T) {
	t.Parallel()

	var done atomic.Int64
	p := New(4)
	for range 20 {
		p.Go(func() {
			time.Sleep(time.Millisecond)
			done.Add(1)
		})
	}
	p.Wait()

	if done.Load() != 20 {
		t.Errorf("expected 20 completed tasks after Wait, got %d", done.Load())
	}
}

func TestBoundedConcurrency(t *testing.T) {
	t.Parallel()

	const size = 3
	var active, peak atomic.Int64
	p := New(size)
	for range 30 {
		p.Go(func() {
			n := active.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		})
	}
	p.Wait()

	if peak.Load() > size {
		t.Errorf("expected at most %d concurrent tasks, observed %d", size, peak.Load())
	}
}

func TestMinimumSize(t *testing.T) {
	t.Parallel()

	var ran atomic.Int64
	p := New(0)
	for range 5 {
		p.Go(func() { ran.Add(1) })
	}
	p.Wait()

	if ran.Load() != 5 {
		t.Errorf("expected all tasks to run with clamped size, got %d", ran.Load())
	}
}
