// Package sync provides the spinlock used to guard memory-management state
// once more than one mutator can run.
package sync

import "sync/atomic"

// spinsBeforeYield is the number of failed acquisition attempts after which
// Acquire invokes yieldFn (if set).
const spinsBeforeYield = 64

var (
	// yieldFn is invoked by contended Acquire calls. It stays nil until the
	// kernel grows a scheduler; tests replace it with runtime.Gosched.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. The zero value is an unlocked lock.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for spins := 0; !atomic.CompareAndSwapUint32(&l.state, 0, 1); spins++ {
		if spins == spinsBeforeYield {
			spins = 0
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
