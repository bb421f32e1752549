// Package timers implements the min-heap of one-shot and periodic
// callbacks driven by a node's cooperative event loop.
package timers

import (
	"container/heap"
	"time"
)

// Callback is invoked when a timer fires. arg is whatever value was passed
// to Schedule, so a single callback function can back many timers.
type Callback func(arg any)

// Timer is a single scheduled callback.
type Timer struct {
	period   time.Duration
	oneshot  bool
	arg      any
	callback Callback
	nextFire time.Time
	seq      int64 // insertion order, used as the heap tie-break
	index    int   // position in the heap, maintained by container/heap
	canceled bool
}

// Cancel prevents a pending timer from firing. It is a no-op if the timer
// already fired or was already canceled.
func (t *Timer) Cancel() { t.canceled = true }

// Queue is a min-heap of Timers ordered by next-fire time, with insertion
// order breaking ties. It is not safe for concurrent use; a DHT node's
// single event loop owns it exclusively.
type Queue struct {
	items []*Timer
	seq   int64
}

// NewQueue returns an empty timer queue.
func NewQueue() *Queue {
	q := &Queue{}
	heap.Init(q)
	return q
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.nextFire.Equal(b.nextFire) {
		return a.seq < b.seq
	}
	return a.nextFire.Before(b.nextFire)
}

func (q *Queue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *Queue) Push(x any) {
	t := x.(*Timer)
	t.index = len(q.items)
	q.items = append(q.items, t)
}

func (q *Queue) Pop() any {
	old := q.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	q.items = old[:n-1]
	return t
}

// Schedule registers a one-shot timer that fires once, after delay.
func (q *Queue) Schedule(now time.Time, delay time.Duration, cb Callback, arg any) *Timer {
	q.seq++
	t := &Timer{oneshot: true, arg: arg, callback: cb, nextFire: now.Add(delay), seq: q.seq}
	heap.Push(q, t)
	return t
}

// SchedulePeriodic registers a timer that fires every period, starting
// after the first period elapses.
func (q *Queue) SchedulePeriodic(now time.Time, period time.Duration, cb Callback, arg any) *Timer {
	q.seq++
	t := &Timer{period: period, arg: arg, callback: cb, nextFire: now.Add(period), seq: q.seq}
	heap.Push(q, t)
	return t
}

// Tick fires every timer whose nextFire is <= now. Periodic timers are
// rescheduled by adding period to their previous nextFire (not to now), so
// they do not drift under scheduling jitter; one-shot timers are consumed.
func (q *Queue) Tick(now time.Time) {
	for q.Len() > 0 {
		t := q.items[0]
		if t.nextFire.After(now) {
			return
		}
		heap.Pop(q)
		if t.canceled {
			continue
		}
		t.callback(t.arg)
		if !t.oneshot {
			t.nextFire = t.nextFire.Add(t.period)
			q.seq++
			t.seq = q.seq
			heap.Push(q, t)
		}
	}
}

// NextFire reports the earliest pending fire time, if any.
func (q *Queue) NextFire() (time.Time, bool) {
	if q.Len() == 0 {
		return time.Time{}, false
	}
	return q.items[0].nextFire, true
}
