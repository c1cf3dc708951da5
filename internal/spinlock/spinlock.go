// Package spinlock implements a busy-waiting mutual exclusion lock.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// Number of failed acquire attempts before yielding the processor.
const spinsPerYield = 64

// SpinLock is a mutual exclusion lock that spins instead of parking the goroutine.
// It is intended for very short critical sections. The zero value is unlocked.
// A SpinLock must not be copied after first use.
type SpinLock struct {
	_     noCopy
	state atomic.Uint32
}

// Lock acquires the lock, spinning until it is available.
func (l *SpinLock) Lock() {
	for spins := 0; !l.state.CompareAndSwap(0, 1); spins++ {
		if spins == spinsPerYield {
			// Let the holder run if it was preempted.
			runtime.Gosched()
			spins = 0
		}
	}
}

// TryLock tries to acquire the lock without spinning and reports whether it succeeded.
func (l *SpinLock) TryLock() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Unlock releases the lock. It panics if the lock is not held.
func (l *SpinLock) Unlock() {
	if l.state.Swap(0) == 0 {
		panic("spinlock: unlock of unlocked lock")
	}
}

// noCopy triggers go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
