package lending

import (
	"errors"
	"math/big"
	"testing"
)

func newTestBucket(factor uint64) *CapBucket {
	return &CapBucket{
		Factor:       factor,
		Available:    new(big.Int),
		RefillWindow: DefaultRefillWindow,
		DecayWindow:  DefaultDecayWindow,
	}
}

func TestCapBucketConsumeAndRefill(t *testing.T) {
	b := newTestBucket(50_000_000)
	pool := big.NewInt(1_000)
	if err := b.Consume(big.NewInt(400), pool, 100, ErrLPCapExceeded); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if b.Available.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 100 left, got %s", b.Available)
	}
	if err := b.Consume(big.NewInt(200), pool, 100, ErrLPCapExceeded); !errors.Is(err, ErrLPCapExceeded) {
		t.Fatalf("expected cap error, got %v", err)
	}
	if b.Available.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed consume must not change headroom, got %s", b.Available)
	}

	b.Sync(pool, 100+DefaultRefillWindow/2)
	if b.Available.Cmp(big.NewInt(350)) != 0 {
		t.Fatalf("expected half refill to 350, got %s", b.Available)
	}
	b.Sync(pool, 100+4*DefaultRefillWindow)
	if b.Available.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("refill must stop at the ceiling, got %s", b.Available)
	}
}

func TestCapBucketCreditDecays(t *testing.T) {
	b := newTestBucket(80_000_000)
	b.Credit(big.NewInt(500), big.NewInt(0), 10)
	if b.Available.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("credit into an empty pool should leave 500, got %s", b.Available)
	}
	pool := big.NewInt(500)
	b.Sync(pool, 10+DefaultDecayWindow/2)
	// ceiling 400, excess 100 halves.
	if b.Available.Cmp(big.NewInt(450)) != 0 {
		t.Fatalf("expected 450 after half decay, got %s", b.Available)
	}
	b.Sync(pool, 10+DefaultDecayWindow/2+DefaultDecayWindow)
	if b.Available.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected decay to the ceiling, got %s", b.Available)
	}
}

func TestCapBucketDisabled(t *testing.T) {
	b := newTestBucket(0)
	if err := b.Consume(big.NewInt(1_000_000), big.NewInt(1), 1, ErrDebtCapExceeded); err != nil {
		t.Fatalf("disabled bucket must not throttle: %v", err)
	}
	var nilBucket *CapBucket
	if nilBucket.Enabled() {
		t.Fatalf("nil bucket reported enabled")
	}
}

func TestCapBucketSaturates(t *testing.T) {
	b := newTestBucket(100_000_000)
	huge := new(big.Int).Lsh(big.NewInt(1), 300)
	b.Sync(huge, 1)
	maxValue := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if b.Available.Cmp(maxValue) > 0 {
		t.Fatalf("available exceeded 256 bits: %s", b.Available)
	}
	b.Credit(huge, huge, 2)
	if b.Available.Cmp(maxValue) != 0 {
		t.Fatalf("credit must saturate, got %s", b.Available)
	}

	pool := new(big.Int).Lsh(big.NewInt(1), 65)
	big65 := newTestBucket(50_000_000)
	big65.Sync(pool, 0)
	if err := big65.Consume(new(big.Int).Rsh(pool, 1), pool, 0, ErrLPCapExceeded); err != nil {
		t.Fatalf("consume: %v", err)
	}
	big65.Sync(pool, 5_000_000_000)
	if big65.Available.Cmp(new(big.Int).Rsh(pool, 1)) != 0 {
		t.Fatalf("expected full refill after a long gap, got %s", big65.Available)
	}
}
