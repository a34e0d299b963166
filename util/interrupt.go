package util

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Interrupt is the process-wide "interrupted" flag. Long-running tasks poll
// Interrupted, sleep through Sleep, or select on Done; once triggered the flag
// stays set.
type Interrupt struct {
	flag atomic.Bool
	mu   sync.Mutex
	cond *sync.Cond
	done chan struct{}
	once sync.Once
}

func NewInterrupt() *Interrupt {
	i := &Interrupt{done: make(chan struct{})}
	i.cond = sync.NewCond(&i.mu)

	return i
}

// Trigger sets the flag and wakes every waiter.
func (i *Interrupt) Trigger() {
	i.once.Do(func() {
		i.mu.Lock()
		i.flag.Store(true)
		close(i.done)
		i.cond.Broadcast()
		i.mu.Unlock()
	})
}

func (i *Interrupt) Interrupted() bool {
	return i.flag.Load()
}

// Done returns a channel that is closed when the interrupt is triggered.
func (i *Interrupt) Done() <-chan struct{} {
	return i.done
}

// Sleep waits for d or until interrupted. It returns false when interrupted.
func (i *Interrupt) Sleep(d time.Duration) bool {
	if i.Interrupted() {
		return false
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return !i.Interrupted()
	case <-i.done:
		return false
	}
}

// Wait blocks on the condition variable until the interrupt fires or cond
// returns true. cond is evaluated with the interrupt lock held; callers that
// change the state cond reads must call Notify afterwards.
func (i *Interrupt) Wait(cond func() bool) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	for !i.flag.Load() && !cond() {
		i.cond.Wait()
	}

	return !i.flag.Load()
}

// Notify wakes goroutines blocked in Wait so they re-evaluate their condition.
func (i *Interrupt) Notify() {
	i.mu.Lock()
	i.cond.Broadcast()
	i.mu.Unlock()
}
