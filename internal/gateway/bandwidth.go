package gateway

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// BandwidthMeter applies per-user rate limiting on inbound gateway
// traffic. Backpressure, not disconnection: Wait blocks until the
// limiter admits the bytes.
type BandwidthMeter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     int
	burst    int
}

// NewBandwidthMeter creates a meter with the given sustained rate
// (bytes/sec) and burst (bytes). A zero rate disables metering.
func NewBandwidthMeter(bytesPerSec, burst int) *BandwidthMeter {
	if burst < bytesPerSec {
		burst = bytesPerSec
	}
	return &BandwidthMeter{
		limiters: make(map[string]*rate.Limiter),
		rate:     bytesPerSec,
		burst:    burst,
	}
}

func (b *BandwidthMeter) limiter(userID string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	lim, ok := b.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(b.rate), b.burst)
		b.limiters[userID] = lim
	}
	return lim
}

// Wait blocks until the user's rate limiter allows n bytes, or ctx is
// done.
func (b *BandwidthMeter) Wait(ctx context.Context, userID string, n int) error {
	if b == nil || b.rate <= 0 {
		return nil
	}
	lim := b.limiter(userID)
	if n <= b.burst {
		return lim.WaitN(ctx, n)
	}
	// Chunk large messages so WaitN doesn't reject (n > burst).
	for n > 0 {
		chunk := n
		if chunk > b.burst {
			chunk = b.burst
		}
		if err := lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
