package server

import (
	"sync"
	"time"
)

// Clock supplies the block context for each call.
type Clock interface {
	Block() (height, unix uint64)
}

// BlockClock derives the height from wall-clock time as whole periods since
// the unix epoch, so heights keep increasing across restarts.
type BlockClock struct {
	period time.Duration
	now    func() time.Time
}

func NewBlockClock(period time.Duration) *BlockClock {
	if period <= 0 {
		period = 5 * time.Second
	}
	return &BlockClock{period: period, now: time.Now}
}

func (c *BlockClock) Block() (uint64, uint64) {
	t := c.now()
	return uint64(t.UnixNano() / int64(c.period)), uint64(t.Unix())
}

// ManualClock is advanced explicitly.
type ManualClock struct {
	mu     sync.Mutex
	height uint64
	unix   uint64
}

func NewManualClock(height, unix uint64) *ManualClock {
	return &ManualClock{height: height, unix: unix}
}

func (c *ManualClock) Block() (uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, c.unix
}

// Advance moves the clock forward.
func (c *ManualClock) Advance(blocks, seconds uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += blocks
	c.unix += seconds
}
