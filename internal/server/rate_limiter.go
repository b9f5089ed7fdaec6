package server

import (
	"sync"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
)

// signalingBurstFactor sizes the signaling bucket relative to the chat
// bucket. Browsers emit ICE candidates in bursts during call setup.
const signalingBurstFactor = 5

// tokenBucket holds up to burst tokens, refilled continuously at perSecond.
type tokenBucket struct {
	burst     float64
	perSecond float64
	available float64
	updated   time.Time
}

func newTokenBucket(burst int, interval time.Duration, now time.Time) *tokenBucket {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &tokenBucket{
		burst:     float64(burst),
		perSecond: float64(burst) / interval.Seconds(),
		available: float64(burst),
		updated:   now,
	}
}

func (b *tokenBucket) take(now time.Time) bool {
	if elapsed := now.Sub(b.updated).Seconds(); elapsed > 0 {
		b.available = min(b.burst, b.available+elapsed*b.perSecond)
	}
	b.updated = now

	if b.available < 1 {
		return false
	}
	b.available--
	return true
}

// frameLimiter meters one connection's inbound frames. WebRTC signaling is
// charged to its own bucket so a call setup cannot starve chat traffic and
// chat traffic cannot stall a call setup.
type frameLimiter struct {
	mu        sync.Mutex
	chat      *tokenBucket
	signaling *tokenBucket
	now       func() time.Time
}

func newFrameLimiter(cfg RateLimitConfig) *frameLimiter {
	now := time.Now()
	return &frameLimiter{
		chat:      newTokenBucket(cfg.Burst, cfg.RefillInterval, now),
		signaling: newTokenBucket(cfg.Burst*signalingBurstFactor, cfg.RefillInterval, now),
		now:       time.Now,
	}
}

// allow spends one token for a frame of the given kind.
func (l *frameLimiter) allow(kind protocol.Kind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.chat
	if kind.IsSignaling() {
		bucket = l.signaling
	}
	return bucket.take(l.now())
}
