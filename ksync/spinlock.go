// Package ksync implements spec.md §4.11's synchronization primitives:
// spinlocks, rundown protection, semaphores, timers and a per-CPU DPC
// queue. Grounded on the atomic/CAS idioms the teacher's vmm.go already
// uses for its vCPU fan-out (sync.WaitGroup, one goroutine per vCPU),
// generalized here to the lock-free primitives spec.md §9's "Atomic
// primitives" design note calls for (sync/atomic compare-and-swap in
// place of RtlAtomic*).
package ksync

import (
	"runtime"
	"sync/atomic"
)

// Spinlock is a test-and-test-and-set lock. Callers must already be at
// or above dispatch level, per spec.md §4.11 — this package does not
// itself enforce that, since the run-level it must compare against is
// runlevel's, not ksync's; ksync only provides the primitive.
type Spinlock struct {
	word atomic.Uint32
}

// Acquire busy-waits with a pause hint between attempts.
func (s *Spinlock) Acquire() {
	for {
		if s.word.Load() == 0 && s.word.CompareAndSwap(0, 1) {
			return
		}

		runtime.Gosched()
	}
}

// Release is a release-store of zero.
func (s *Spinlock) Release() {
	s.word.Store(0)
}

// TryAcquire attempts the lock once without spinning.
func (s *Spinlock) TryAcquire() bool {
	return s.word.Load() == 0 && s.word.CompareAndSwap(0, 1)
}

// QueuedSlot is one CPU's queue-spinlock slot: its own wait flag and a
// pointer (by slot index) to whoever is queued behind it.
type QueuedSlot struct {
	locked atomic.Bool
	next   atomic.Int64 // index of successor slot, -1 if none
}

// QueuedSpinlock is the MCS-style queued spinlock of spec.md §4.11: the
// lock itself holds only the tail slot index (-1 when free); each
// waiter spins on its own cache line (QueuedSlot.locked) instead of on
// the shared lock word.
type QueuedSpinlock struct {
	tail atomic.Int64
}

// NewQueuedSpinlock returns an unlocked queued spinlock.
func NewQueuedSpinlock() *QueuedSpinlock {
	q := &QueuedSpinlock{}
	q.tail.Store(-1)

	return q
}

// Acquire enqueues slot (identified by slotIndex) at the tail. If the
// prior tail was empty (-1) the caller owns the lock immediately; else
// it links itself behind the previous tail and spins on its own locked
// flag until that predecessor clears it.
func (q *QueuedSpinlock) Acquire(slotIndex int64, slots []*QueuedSlot) {
	me := slots[slotIndex]
	me.locked.Store(true)
	me.next.Store(-1)

	prev := q.tail.Swap(slotIndex)
	if prev == -1 {
		return
	}

	slots[prev].next.Store(slotIndex)

	for me.locked.Load() {
		runtime.Gosched()
	}
}

// Release hands the lock to the successor queued behind slotIndex, or
// clears the tail if none has linked up yet.
func (q *QueuedSpinlock) Release(slotIndex int64, slots []*QueuedSlot) {
	me := slots[slotIndex]

	if me.next.Load() == -1 {
		if q.tail.CompareAndSwap(slotIndex, -1) {
			return
		}

		// A successor is racing in; spin until it publishes itself.
		for me.next.Load() == -1 {
			runtime.Gosched()
		}
	}

	slots[me.next.Load()].locked.Store(false)
}
