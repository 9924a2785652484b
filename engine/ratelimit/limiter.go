// Package ratelimit provides an adaptive token-bucket limiter with a
// per-key circuit breaker, keyed by broker consumer/decoder name. It backs
// the backoff-and-continue policy for transient broker errors: an open
// circuit trips Allow to fail fast instead of piling up retries against a
// broker that is already struggling.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow while a domain's circuit is tripped.
var ErrCircuitOpen = errors.New("ratelimit: circuit open")

// Permit is the receipt for one acquired token; Report closes the loop so
// the limiter can adapt its breaker state to observed success/failure.
type Permit struct {
	Domain string
	Issued time.Time
}

// Feedback reports the outcome of the operation a Permit gated.
type Feedback struct {
	Success    bool
	RetryAfter time.Duration // optional override for the breaker cooldown
}

// DomainSummary is a point-in-time view of one bucket's state.
type DomainSummary struct {
	Domain              string
	Tokens              float64
	Capacity            float64
	CircuitOpen         bool
	ConsecutiveFailures int
}

// LimiterSnapshot is the aggregate view across every bucket touched so far.
type LimiterSnapshot struct {
	Domains []DomainSummary
}

// RateLimiter gates work per domain (consumer/decoder key) and adapts to
// reported failures.
type RateLimiter interface {
	Allow(ctx context.Context, domain string) (Permit, error)
	Report(permit Permit, fb Feedback)
	Snapshot() LimiterSnapshot
}

type bucketState struct {
	tokens              float64
	lastRefill          time.Time
	consecutiveFailures int
	circuitOpenUntil    time.Time
}

// AdaptiveRateLimiter implements RateLimiter with a token bucket per domain
// and a consecutive-failure circuit breaker.
type AdaptiveRateLimiter struct {
	mu               sync.Mutex
	clock            Clock
	capacity         float64
	refillPerSecond  float64
	failureThreshold int
	cooldown         time.Duration
	buckets          map[string]*bucketState
}

// NewAdaptiveRateLimiter constructs a limiter. capacity/refillPerSecond
// define the token bucket; failureThreshold consecutive Report(false)
// calls on a domain trip its circuit for cooldown. A nil clock uses
// wall-clock time.
func NewAdaptiveRateLimiter(capacity, refillPerSecond float64, failureThreshold int, cooldown time.Duration, clock Clock) *AdaptiveRateLimiter {
	if clock == nil {
		clock = realClock{}
	}
	if capacity <= 0 {
		capacity = 1
	}
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	return &AdaptiveRateLimiter{
		clock:            clock,
		capacity:         capacity,
		refillPerSecond:  refillPerSecond,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		buckets:          make(map[string]*bucketState),
	}
}

func (l *AdaptiveRateLimiter) bucket(domain string) *bucketState {
	b, ok := l.buckets[domain]
	if !ok {
		b = &bucketState{tokens: l.capacity, lastRefill: l.clock.Now()}
		l.buckets[domain] = b
	}
	return b
}

func (b *bucketState) refill(now time.Time, capacity, perSecond float64) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * perSecond
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastRefill = now
}

// Allow blocks, polling in small increments, until a token is available for
// domain or ctx is cancelled; it returns ErrCircuitOpen immediately if the
// domain's breaker is tripped.
func (l *AdaptiveRateLimiter) Allow(ctx context.Context, domain string) (Permit, error) {
	key, err := normalizeDomain(domain)
	if err != nil {
		key = domain
	}
	for {
		if err := ctx.Err(); err != nil {
			return Permit{}, err
		}
		l.mu.Lock()
		b := l.bucket(key)
		now := l.clock.Now()
		if !b.circuitOpenUntil.IsZero() && now.Before(b.circuitOpenUntil) {
			l.mu.Unlock()
			return Permit{}, ErrCircuitOpen
		}
		b.refill(now, l.capacity, l.refillPerSecond)
		if b.tokens >= 1 {
			b.tokens -= 1
			l.mu.Unlock()
			return Permit{Domain: key, Issued: now}, nil
		}
		wait := time.Duration(0)
		if l.refillPerSecond > 0 {
			wait = time.Duration((1 - b.tokens) / l.refillPerSecond * float64(time.Second))
		} else {
			wait = 50 * time.Millisecond
		}
		l.mu.Unlock()
		if wait <= 0 {
			wait = time.Millisecond
		}
		l.clock.Sleep(wait)
	}
}

// Report closes the loop on a Permit, adapting the breaker for its domain.
func (l *AdaptiveRateLimiter) Report(permit Permit, fb Feedback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucket(permit.Domain)
	if fb.Success {
		b.consecutiveFailures = 0
		b.circuitOpenUntil = time.Time{}
		return
	}
	b.consecutiveFailures++
	if b.consecutiveFailures >= l.failureThreshold {
		cooldown := l.cooldown
		if fb.RetryAfter > 0 {
			cooldown = fb.RetryAfter
		}
		b.circuitOpenUntil = l.clock.Now().Add(cooldown)
	}
}

// Snapshot returns the current state of every bucket touched so far.
func (l *AdaptiveRateLimiter) Snapshot() LimiterSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	snap := LimiterSnapshot{Domains: make([]DomainSummary, 0, len(l.buckets))}
	for domain, b := range l.buckets {
		snap.Domains = append(snap.Domains, DomainSummary{
			Domain:              domain,
			Tokens:              b.tokens,
			Capacity:            l.capacity,
			CircuitOpen:         !b.circuitOpenUntil.IsZero() && now.Before(b.circuitOpenUntil),
			ConsecutiveFailures: b.consecutiveFailures,
		})
	}
	return snap
}
