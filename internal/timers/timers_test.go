package timers

import (
	"testing"
	"time"
)

func TestQueue_OneshotFiresOnce(t *testing.T) {
	q := NewQueue()
	now := time.Unix(1000, 0)
	fired := 0
	q.Schedule(now, 10*time.Second, func(any) { fired++ }, nil)

	q.Tick(now.Add(5 * time.Second))
	if fired != 0 {
		t.Fatalf("fired = %d before deadline, want 0", fired)
	}

	q.Tick(now.Add(11 * time.Second))
	if fired != 1 {
		t.Fatalf("fired = %d after deadline, want 1", fired)
	}

	q.Tick(now.Add(100 * time.Second))
	if fired != 1 {
		t.Fatalf("fired = %d on later tick, want still 1 (oneshot)", fired)
	}
}

func TestQueue_PeriodicDoesNotDrift(t *testing.T) {
	q := NewQueue()
	now := time.Unix(2000, 0)
	var fires []time.Time
	q.SchedulePeriodic(now, 10*time.Second, func(any) { fires = append(fires, now) }, nil)

	// First fire at t+10, observed late at t+13: next_fire should be
	// t+20, not t+23.
	q.Tick(now.Add(13 * time.Second))
	nf, ok := q.NextFire()
	if !ok {
		t.Fatal("expected a pending periodic timer")
	}
	want := now.Add(20 * time.Second)
	if !nf.Equal(want) {
		t.Fatalf("next fire = %v, want %v (no drift)", nf, want)
	}
}

func TestQueue_InsertionOrderTieBreak(t *testing.T) {
	q := NewQueue()
	now := time.Unix(3000, 0)
	var order []int
	q.Schedule(now, 5*time.Second, func(arg any) { order = append(order, arg.(int)) }, 1)
	q.Schedule(now, 5*time.Second, func(arg any) { order = append(order, arg.(int)) }, 2)
	q.Schedule(now, 5*time.Second, func(arg any) { order = append(order, arg.(int)) }, 3)

	q.Tick(now.Add(5 * time.Second))
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("got %v, want [1 2 3]", order)
	}
}

func TestQueue_Cancel(t *testing.T) {
	q := NewQueue()
	now := time.Unix(4000, 0)
	fired := false
	timer := q.Schedule(now, 5*time.Second, func(any) { fired = true }, nil)
	timer.Cancel()

	q.Tick(now.Add(5 * time.Second))
	if fired {
		t.Fatal("canceled timer fired")
	}
}
