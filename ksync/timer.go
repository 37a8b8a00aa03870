package ksync

import "sort"

// TimerKind distinguishes a notification timer (wakes every waiter) from
// a synchronization timer (wakes one), per spec.md §4.11.
type TimerKind uint8

const (
	TimerNotification TimerKind = iota
	TimerSynchronization
)

// Timer is one entry of the time-ordered timer list: it fires once at
// Due, and, if Period is non-zero, is expected to be re-armed by the
// caller for Due+Period after each expiration.
type Timer struct {
	Kind   TimerKind
	Due    int64 // absolute expiration, caller-defined time unit
	Period int64
	DPC    *DPC // enqueued on the owning CPU's DPC queue at expiration, if set

	set bool
}

// TimerList is the time-ordered list timers are staged in, keyed by
// absolute expiration.
type TimerList struct {
	timers []*Timer
}

// Set stages t in time order. A timer already in the list is
// repositioned.
func (l *TimerList) Set(t *Timer) {
	if t.set {
		l.Cancel(t)
	}

	t.set = true

	i := sort.Search(len(l.timers), func(i int) bool { return l.timers[i].Due > t.Due })
	l.timers = append(l.timers, nil)
	copy(l.timers[i+1:], l.timers[i:])
	l.timers[i] = t
}

// Cancel removes t and reports whether it had been set.
func (l *TimerList) Cancel(t *Timer) bool {
	for i, cur := range l.timers {
		if cur == t {
			l.timers = append(l.timers[:i], l.timers[i+1:]...)
			t.set = false

			return true
		}
	}

	return false
}

// Expire pops every timer due at or before now, in expiration order,
// and returns them; it is the caller's job to raise run-level to
// dispatch, signal each timer's dispatcher header, and enqueue its DPC,
// per spec.md §4.11.
func (l *TimerList) Expire(now int64) []*Timer {
	i := 0

	for i < len(l.timers) && l.timers[i].Due <= now {
		i++
	}

	expired := l.timers[:i]
	l.timers = l.timers[i:]

	for _, t := range expired {
		t.set = false
	}

	return expired
}
