package lending

import (
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// DefaultRefillWindow is the time for an emptied bucket to refill fully.
	DefaultRefillWindow uint64 = 86_400
	// DefaultDecayWindow is the time for inflow credit above the cap to decay.
	DefaultDecayWindow uint64 = 10_800
)

// CapResource names a throttled resource.
type CapResource string

const (
	CapLP   CapResource = "lp"
	CapDebt CapResource = "debt"
)

// CollateralCap returns the resource name for a collateral asset.
func CollateralCap(asset string) CapResource {
	return CapResource("collateral:" + asset)
}

// CapBucket throttles outflows of one resource. Available is the headroom
// left for withdrawals; it refills towards Factor × pool over RefillWindow and
// any inflow credit above that ceiling decays back over DecayWindow.
type CapBucket struct {
	// Factor is the share of the pool that may leave per refill window at
	// the 1e8 scale. Zero disables the bucket.
	Factor       uint64
	Available    *big.Int
	LastUpdate   uint64
	RefillWindow uint64
	DecayWindow  uint64
	Initialized  bool
}

// Clone returns a deep copy of the bucket.
func (b *CapBucket) Clone() *CapBucket {
	if b == nil {
		return nil
	}
	out := *b
	out.Available = clone(b.Available)
	return &out
}

// Enabled reports whether the bucket throttles anything.
func (b *CapBucket) Enabled() bool {
	return b != nil && b.Factor > 0
}

var (
	percentScaleU = uint256.NewInt(100_000_000)
	maxU          = new(uint256.Int).SetAllOne()
)

// toU converts to 256 bits, saturating at the maximum.
func toU(v *big.Int) *uint256.Int {
	if v == nil || v.Sign() <= 0 {
		return new(uint256.Int)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return new(uint256.Int).Set(maxU)
	}
	return out
}

func satAdd(a, b *uint256.Int) *uint256.Int {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return new(uint256.Int).Set(maxU)
	}
	return out
}

func satMulDiv(a, b, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		return new(uint256.Int).Set(maxU)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return new(uint256.Int).Set(maxU)
	}
	return out
}

// Ceiling returns Factor × pool / 1e8.
func (b *CapBucket) Ceiling(pool *big.Int) *big.Int {
	if !b.Enabled() {
		return new(big.Int)
	}
	return b.ceilingU(toU(pool)).ToBig()
}

func (b *CapBucket) ceilingU(pool *uint256.Int) *uint256.Int {
	return satMulDiv(uint256.NewInt(b.Factor), pool, percentScaleU)
}

// Sync advances the bucket to now for the given pool size.
func (b *CapBucket) Sync(pool *big.Int, now uint64) {
	if !b.Enabled() {
		return
	}
	ceiling := b.ceilingU(toU(pool))
	if !b.Initialized {
		b.Available = ceiling.ToBig()
		b.LastUpdate = now
		b.Initialized = true
		return
	}
	elapsed := uint64(0)
	if now > b.LastUpdate {
		elapsed = now - b.LastUpdate
	}
	available := toU(b.Available)
	elapsedU := uint256.NewInt(elapsed)

	switch available.Cmp(ceiling) {
	case -1:
		refill := new(uint256.Int).Set(ceiling)
		if b.RefillWindow > 0 && elapsed < b.RefillWindow {
			refill = satMulDiv(ceiling, elapsedU, uint256.NewInt(b.RefillWindow))
		}
		available = satAdd(available, refill)
		if available.Cmp(ceiling) > 0 {
			available.Set(ceiling)
		}
	case 1:
		if b.DecayWindow == 0 || elapsed >= b.DecayWindow {
			available.Set(ceiling)
			break
		}
		excess := new(uint256.Int).Sub(available, ceiling)
		remaining := uint256.NewInt(b.DecayWindow - elapsed)
		excess = satMulDiv(excess, remaining, uint256.NewInt(b.DecayWindow))
		available = satAdd(ceiling, excess)
	}
	b.Available = available.ToBig()
	if now > b.LastUpdate {
		b.LastUpdate = now
	}
}

// Consume syncs the bucket and removes amount from the headroom, returning
// capErr when the amount does not fit.
func (b *CapBucket) Consume(amount, pool *big.Int, now uint64, capErr error) error {
	if !b.Enabled() {
		return nil
	}
	b.Sync(pool, now)
	need := toU(amount)
	available := toU(b.Available)
	if need.Cmp(available) > 0 {
		return capErr
	}
	b.Available = new(uint256.Int).Sub(available, need).ToBig()
	return nil
}

// Credit syncs the bucket against the pool size before the inflow and adds
// the inflow to the headroom.
func (b *CapBucket) Credit(amount, pool *big.Int, now uint64) {
	if !b.Enabled() || !isPositive(amount) {
		return
	}
	b.Sync(pool, now)
	b.Available = satAdd(toU(b.Available), toU(amount)).ToBig()
}
