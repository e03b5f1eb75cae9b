package jobs

import (
	"testing"
	"time"

	"github.com/danmuck/liftctl/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	testlog.Start(t)
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return NewRegistry(Options{Logger: log.Logger, Now: clk.now}), clk
}

func drainWake(r *Registry) bool {
	select {
	case <-r.Wake():
		return true
	default:
		return false
	}
}

func TestPutOverwritesInsteadOfDuplicating(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Put(Hall(3), 500*time.Millisecond, true)
	r.Put(Hall(3), 300*time.Millisecond, false)
	if r.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Len())
	}
	e, ok := r.Get(Hall(3))
	if !ok || e.Delay != 300*time.Millisecond || e.Remote {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestPutClampsNegativeDelayAndIgnoresZeroTarget(t *testing.T) {
	r, _ := newTestRegistry(t)
	e := r.Put(Hall(-2), -5*time.Second, true)
	if e.Delay != 0 {
		t.Fatalf("expected negative delay stored as 0, got %s", e.Delay)
	}
	r.Put(Hall(0), time.Second, true)
	if r.Has(Hall(0)) {
		t.Fatalf("zero target must never be stored")
	}
}

func TestEveryMutationWakes(t *testing.T) {
	r, _ := newTestRegistry(t)
	drainWake(r)

	r.Put(Hall(2), time.Second, true)
	if !drainWake(r) {
		t.Fatalf("expected wake after put")
	}
	r.Extend(Hall(2), time.Second)
	if !drainWake(r) {
		t.Fatalf("expected wake after extend")
	}
	r.Recalculate(func(Entry) (time.Duration, bool) { return 0, true })
	if !drainWake(r) {
		t.Fatalf("expected wake after recalculate")
	}
	r.Remove(Hall(2))
	if !drainWake(r) {
		t.Fatalf("expected wake after remove")
	}
	r.Remove(Hall(2))
	if !drainWake(r) {
		t.Fatalf("expected wake after removing an absent key")
	}
}

func TestMinPrefersCabinThenDeadlineThenInsertion(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Put(Hall(4), 200*time.Millisecond, false)
	r.Put(Hall(-4), 200*time.Millisecond, true)
	r.Put(Hall(1), 900*time.Millisecond, true)

	e, ok := r.Min()
	if !ok || e.Key != Hall(4) {
		t.Fatalf("expected first inserted of the tied entries, got %+v", e)
	}

	r.Put(CabinFloor(6), 10*time.Second, false)
	e, ok = r.Min()
	if !ok || e.Key != CabinFloor(6) {
		t.Fatalf("expected cabin command to win, got %+v", e)
	}
	if e.Delay != 0 {
		t.Fatalf("expected cabin delay 0, got %s", e.Delay)
	}
}

func TestMinEmpty(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, ok := r.Min(); ok {
		t.Fatalf("expected no minimum in empty registry")
	}
}

func TestExtendFromZeroEqualsTakeoverTimeout(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Put(Hall(2), 0, false)
	e := r.Extend(Hall(2), 15*time.Second)
	if e.Delay != 15*time.Second || !e.Taken {
		t.Fatalf("unexpected extended entry: %+v", e)
	}

	missing := r.Extend(Hall(-5), 15*time.Second)
	if missing.Delay != 15*time.Second {
		t.Fatalf("missing entry should extend from 0, got %s", missing.Delay)
	}
}

func TestExtendUsesRemainingTime(t *testing.T) {
	r, clk := newTestRegistry(t)
	r.Put(Hall(3), 500*time.Millisecond, true)
	clk.advance(400 * time.Millisecond)
	e := r.Extend(Hall(3), time.Second)
	if e.Delay != 1100*time.Millisecond {
		t.Fatalf("expected remaining+timeout, got %s", e.Delay)
	}

	// duplicate delivery double-extends
	e = r.Extend(Hall(3), time.Second)
	if e.Delay != 2100*time.Millisecond {
		t.Fatalf("expected double extension, got %s", e.Delay)
	}
}

func TestRecalculateSkipsCabinAndTaken(t *testing.T) {
	r, clk := newTestRegistry(t)
	r.Put(Hall(2), 3*time.Second, true)
	r.Put(Hall(-3), 3*time.Second, true)
	r.Extend(Hall(-3), time.Second)
	r.Put(CabinFloor(1), 0, false)

	clk.advance(time.Second)
	n := r.Recalculate(func(e Entry) (time.Duration, bool) {
		return time.Duration(e.Floor()) * 100 * time.Millisecond, true
	})
	if n != 1 {
		t.Fatalf("expected 1 recalculated entry, got %d", n)
	}
	e, _ := r.Get(Hall(2))
	if e.Delay != 200*time.Millisecond || !e.Deadline.Equal(clk.t.Add(200*time.Millisecond)) {
		t.Fatalf("unexpected recalculated entry: %+v", e)
	}
	taken, _ := r.Get(Hall(-3))
	if taken.Delay != 4*time.Second {
		t.Fatalf("taken entry must keep its extended delay, got %s", taken.Delay)
	}
}

func TestClaimRequiresSameMinimum(t *testing.T) {
	r, _ := newTestRegistry(t)
	first := r.Put(Hall(3), 300*time.Millisecond, false)

	// re-inserted with the same key: different insertion, claim must fail
	r.Put(Hall(3), 300*time.Millisecond, false)
	if _, ok := r.Claim(first, func(Entry) bool { return true }); ok {
		t.Fatalf("claim on a stale view must fail")
	}

	cur, _ := r.Min()
	if _, ok := r.Claim(cur, func(Entry) bool { return false }); ok {
		t.Fatalf("claim must fail when act refuses")
	}
	if !r.Has(Hall(3)) {
		t.Fatalf("refused claim must keep the entry")
	}

	got, ok := r.Claim(cur, func(Entry) bool { return true })
	if !ok || got.Key != Hall(3) {
		t.Fatalf("expected claim to succeed, got %+v %v", got, ok)
	}
	if r.Has(Hall(3)) {
		t.Fatalf("claimed entry must be removed")
	}
}

func TestClaimFailsWhenEntryRemoved(t *testing.T) {
	r, _ := newTestRegistry(t)
	e := r.Put(Hall(-2), 100*time.Millisecond, true)
	r.Remove(Hall(-2))
	called := false
	if _, ok := r.Claim(e, func(Entry) bool { called = true; return true }); ok || called {
		t.Fatalf("claim on removed entry must not act")
	}
}

func TestSnapshotNeverHoldsNegativeDelay(t *testing.T) {
	r, clk := newTestRegistry(t)
	r.Put(Hall(1), 100*time.Millisecond, true)
	r.Extend(Hall(1), 50*time.Millisecond)
	r.Put(Hall(-6), -time.Second, true)
	r.Remove(Hall(9))
	clk.advance(time.Hour)
	r.Extend(Hall(1), 0)
	for _, e := range r.Snapshot() {
		if e.Delay < 0 || e.Remaining(clk.t) < 0 {
			t.Fatalf("negative delay in registry: %+v", e)
		}
	}
}

func TestOnChangeObservesCount(t *testing.T) {
	testlog.Start(t)
	var last int
	r := NewRegistry(Options{Logger: log.Logger, OnChange: func(n int) { last = n }})
	r.Put(Hall(2), time.Second, true)
	r.Put(Hall(3), time.Second, true)
	if last != 2 {
		t.Fatalf("expected observed count 2, got %d", last)
	}
	r.Remove(Hall(2))
	if last != 1 {
		t.Fatalf("expected observed count 1, got %d", last)
	}
}
