package dedup

import (
	"fmt"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newWithClock(ttl time.Duration, max int) (*Deduper, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := New(ttl, max)
	d.now = clk.now
	return d, clk
}

func TestShouldProcessDropsDuplicatesWithinTTL(t *testing.T) {
	d, clk := newWithClock(time.Minute, 10)

	if !d.ShouldProcess("rid-1") {
		t.Fatalf("first sighting must be processed")
	}
	if d.ShouldProcess("rid-1") {
		t.Fatalf("duplicate within ttl must be dropped")
	}

	clk.t = clk.t.Add(time.Minute)
	if !d.ShouldProcess("rid-1") {
		t.Fatalf("key must be processed again after ttl")
	}
}

func TestShouldProcessEmptyKeyAndNil(t *testing.T) {
	d := New(0, 0)
	if !d.ShouldProcess("") || !d.ShouldProcess("") {
		t.Fatalf("empty keys are never deduplicated")
	}

	var nilD *Deduper
	if !nilD.ShouldProcess("x") {
		t.Fatalf("nil deduper must let everything through")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	d, clk := newWithClock(time.Hour, 3)

	for i := range 4 {
		clk.t = clk.t.Add(time.Second)
		d.ShouldProcess(fmt.Sprintf("k%d", i))
	}

	if d.Len() != 3 {
		t.Fatalf("expected capacity 3, got %d", d.Len())
	}
	// k0 was the oldest and must have been evicted.
	if !d.ShouldProcess("k0") {
		t.Fatalf("evicted key should be processed again")
	}
	if d.ShouldProcess("k3") {
		t.Fatalf("recent key must still be remembered")
	}
}
