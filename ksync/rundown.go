package ksync

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// rundownActive is the sentinel value a rundown word is set to once
// Complete has run; any further Acquire must fail.
const rundownActive = ^uint64(0)

// ErrRundownActive is returned by Acquire once Complete has retired the
// protection.
var ErrRundownActive = fmt.Errorf("rundown protection already completed")

// Rundown implements spec.md §4.11's rundown protection: a single
// 64-bit word whose low bit marks "a waiter is staged" and whose
// remaining bits are a reference count, incremented/decremented by 2 so
// the low bit survives every Acquire/Release pair untouched.
type Rundown struct {
	word atomic.Uint64

	mu        sync.Mutex
	waitBlock *waitBlock
}

type waitBlock struct {
	count int64
	done  chan struct{}
}

// Acquire grants a reference by atomically adding 2, but only while the
// word isn't the rundownActive sentinel.
func (r *Rundown) Acquire() error {
	for {
		cur := r.word.Load()
		if cur == rundownActive {
			return ErrRundownActive
		}

		if r.word.CompareAndSwap(cur, cur+2) {
			return nil
		}
	}
}

// Release matches Acquire: subtracts 2, and if a wait block has been
// published (low bit set) and this was the last outstanding reference,
// signals it.
func (r *Rundown) Release() {
	for {
		cur := r.word.Load()
		next := cur - 2

		if !r.word.CompareAndSwap(cur, next) {
			continue
		}

		if cur&1 == 0 {
			return
		}

		r.mu.Lock()
		wb := r.waitBlock
		r.mu.Unlock()

		if wb == nil {
			return
		}

		if atomic.AddInt64(&wb.count, -1) == 0 {
			close(wb.done)
		}

		return
	}
}

// WaitForProtectionRelease stages a wait block, publishes it by setting
// the low bit, and blocks until every in-flight Release has decremented
// the wait block's count to zero.
func (r *Rundown) WaitForProtectionRelease() {
	wb := &waitBlock{done: make(chan struct{})}

	r.mu.Lock()
	r.waitBlock = wb
	r.mu.Unlock()

	for {
		cur := r.word.Load()
		if cur&1 != 0 {
			break
		}

		refs := int64(cur >> 1)
		atomic.StoreInt64(&wb.count, refs)

		if r.word.CompareAndSwap(cur, cur|1) {
			if refs == 0 {
				close(wb.done)
			}

			break
		}
	}

	<-wb.done
}

// Complete sets the word to the rundownActive sentinel; every
// subsequent Acquire fails.
func (r *Rundown) Complete() {
	r.word.Store(rundownActive)
}

// Reinitialize clears the word back to zero references, unretired.
func (r *Rundown) Reinitialize() {
	r.word.Store(0)

	r.mu.Lock()
	r.waitBlock = nil
	r.mu.Unlock()
}
