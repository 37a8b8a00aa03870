package ksync

// DPC is a deferred-procedure-call object, queued per-CPU at dispatch
// level, per spec.md §4.11.
type DPC struct {
	Routine func()
	queued  bool
}

// DPCQueue is one CPU's FIFO of pending DPCs.
type DPCQueue struct {
	pending []*DPC
}

// Enqueue appends d if it is not already queued (a DPC object is not
// re-entrant: queuing it twice before it runs is a no-op, matching the
// real kernel's KeInsertQueueDpc).
func (q *DPCQueue) Enqueue(d *DPC) bool {
	if d.queued {
		return false
	}

	d.queued = true
	q.pending = append(q.pending, d)

	return true
}

// RetireDPCList dequeues and invokes every pending DPC, in FIFO order.
// A routine that enqueues another DPC during retirement is picked up by
// a subsequent call, not this one, avoiding unbounded recursion here.
func (q *DPCQueue) RetireDPCList() {
	pending := q.pending
	q.pending = nil

	for _, d := range pending {
		d.queued = false

		if d.Routine != nil {
			d.Routine()
		}
	}
}
