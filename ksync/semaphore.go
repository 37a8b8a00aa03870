package ksync

import (
	"container/list"
	"fmt"
	"sync"
)

// ErrSemaphoreLimitExceeded is returned by Release when adjustment would
// push the signal state above the semaphore's limit.
var ErrSemaphoreLimitExceeded = fmt.Errorf("semaphore-limit-exceeded")

// Semaphore is spec.md §4.11's dispatcher-header semaphore: a signal
// state (the current count) bounded by Limit, with FIFO waiters.
type Semaphore struct {
	mu      sync.Mutex
	state   int32
	limit   int32
	waiters list.List // of chan struct{}
}

// NewSemaphore returns a semaphore with the given initial count and
// limit.
func NewSemaphore(count, limit int32) *Semaphore {
	return &Semaphore{state: count, limit: limit}
}

// Release adds adjustment to the signal state, failing if that would
// exceed the limit, then wakes as many FIFO waiters as the new state
// allows.
func (s *Semaphore) Release(adjustment int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state+adjustment > s.limit {
		return ErrSemaphoreLimitExceeded
	}

	s.state += adjustment

	for s.state > 0 && s.waiters.Len() > 0 {
		front := s.waiters.Front()
		ch, _ := s.waiters.Remove(front).(chan struct{})
		s.state--
		close(ch)
	}

	return nil
}

// Wait blocks until the semaphore has a unit to give, consuming it.
// Waiters are served FIFO.
func (s *Semaphore) Wait() {
	s.mu.Lock()

	if s.state > 0 && s.waiters.Len() == 0 {
		s.state--
		s.mu.Unlock()

		return
	}

	ch := make(chan struct{})
	s.waiters.PushBack(ch)
	s.mu.Unlock()

	<-ch
}
