package server

import (
	"testing"
	"time"
)

func TestBlockClock(t *testing.T) {
	clock := NewBlockClock(5 * time.Second)
	clock.now = func() time.Time { return time.Unix(1_000, 0) }
	height, unix := clock.Block()
	if height != 200 || unix != 1_000 {
		t.Fatalf("unexpected block %d at %d", height, unix)
	}
	clock.now = func() time.Time { return time.Unix(1_004, 999_000_000) }
	if height, _ := clock.Block(); height != 200 {
		t.Fatalf("height advanced within a period: %d", height)
	}
	clock.now = func() time.Time { return time.Unix(1_005, 0) }
	if height, _ := clock.Block(); height != 201 {
		t.Fatalf("height did not advance: %d", height)
	}
}

func TestBlockClockDefaultPeriod(t *testing.T) {
	clock := NewBlockClock(0)
	if clock.period != 5*time.Second {
		t.Fatalf("unexpected default period %s", clock.period)
	}
}

func TestManualClockAdvance(t *testing.T) {
	clock := NewManualClock(7, 100)
	clock.Advance(3, 15)
	height, unix := clock.Block()
	if height != 10 || unix != 115 {
		t.Fatalf("unexpected block %d at %d", height, unix)
	}
}
