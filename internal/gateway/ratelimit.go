package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-sender events-per-minute cap. Entries idle for
// an hour are evicted so the map does not grow with one-off senders.
type RateLimiter struct {
	rpm   int
	burst int

	mu      sync.Mutex
	senders map[string]*senderLimiter
}

type senderLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter. rpm <= 0 disables limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		rpm:     rpm,
		burst:   burst,
		senders: make(map[string]*senderLimiter),
	}
	if rl.Enabled() {
		go rl.evictLoop()
	}
	return rl
}

func (rl *RateLimiter) Enabled() bool { return rl.rpm > 0 }

// Allow reports whether one more event from sender fits the budget.
func (rl *RateLimiter) Allow(sender string) bool {
	if !rl.Enabled() {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.senders[sender]
	if !ok {
		entry = &senderLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.rpm)/60.0), rl.burst),
		}
		rl.senders[sender] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-time.Hour)
		rl.mu.Lock()
		for sender, entry := range rl.senders {
			if entry.lastSeen.Before(cutoff) {
				delete(rl.senders, sender)
			}
		}
		rl.mu.Unlock()
	}
}
