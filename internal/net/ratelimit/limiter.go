// Package ratelimit provides per-endpoint token-bucket limiting for
// market-data fetches. Delayed-quote endpoints tolerate low request rates;
// the limiter keeps a burst of cache refreshes from tripping upstream
// throttling.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter rate-limits requests per endpoint host. Each host gets its own
// token bucket, created on first use.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
	rps     float64
	burst   int
}

// NewLimiter builds a limiter with the given steady rate and burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     rps,
		burst:   burst,
	}
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[host]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[host]; ok {
		return b
	}
	b = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.buckets[host] = b
	return b
}

// Allow reports whether a request to host may proceed now.
func (l *Limiter) Allow(host string) bool {
	return l.bucket(host).Allow()
}

// Wait blocks until a request to host is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.bucket(host).Wait(ctx)
}

// SetRPS retunes the steady rate on every existing bucket.
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps = rps
	for _, b := range l.buckets {
		b.SetLimit(rate.Limit(rps))
	}
}

// SetBurst retunes the burst capacity on every existing bucket.
func (l *Limiter) SetBurst(burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.burst = burst
	for _, b := range l.buckets {
		b.SetBurst(burst)
	}
}

// Stats snapshots every endpoint bucket for the diagnostics surface.
func (l *Limiter) Stats() map[string]EndpointStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]EndpointStats, len(l.buckets))
	now := time.Now()
	for host, b := range l.buckets {
		res := b.Reserve()
		delay := res.Delay()
		res.Cancel()

		stats[host] = EndpointStats{
			Host:            host,
			RPS:             float64(b.Limit()),
			Burst:           b.Burst(),
			TokensAvailable: b.Tokens(),
			NextAllowedAt:   now.Add(delay),
			Delay:           delay,
		}
	}
	return stats
}

// Reset drops every bucket; the next request per host starts fresh.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*rate.Limiter)
}

// EndpointStats is the point-in-time view of one endpoint bucket.
type EndpointStats struct {
	Host            string        `json:"host"`
	RPS             float64       `json:"rps"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	NextAllowedAt   time.Time     `json:"next_allowed_at"`
	Delay           time.Duration `json:"delay"`
}

// IsThrottled reports whether the next request would be delayed.
func (s *EndpointStats) IsThrottled() bool {
	return s.Delay > 0
}
