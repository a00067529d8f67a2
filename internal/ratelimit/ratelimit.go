// Package ratelimit implements the ingress-layer token buckets of
// spec.md §5: global, per-IP, and per-principal requests-per-minute
// quotas, rejecting with an immediate signal rather than queuing.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a single token bucket: capacity tokens, refilled at
// refillRate tokens/sec, never exceeding capacity.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewBucket creates a Bucket holding ratePerMinute tokens, fully
// refilling over one minute.
func NewBucket(ratePerMinute int) *Bucket {
	rate := float64(ratePerMinute) / 60.0
	return &Bucket{
		capacity:   float64(ratePerMinute),
		tokens:     float64(ratePerMinute),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// Allow attempts to consume one token, returning false if none are
// available (TooManyRequests, per spec.md §5).
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Limiter composes a global bucket with per-IP and per-principal
// buckets; a request must clear all three applicable gates.
type Limiter struct {
	global       *Bucket
	perIPRate    int
	perPrincRate int

	mu         sync.Mutex
	perIP      map[string]*Bucket
	perPrincip map[string]*Bucket
}

// NewLimiter creates a Limiter with the given requests-per-minute quotas.
func NewLimiter(globalRate, perIPRate, perPrincipalRate int) *Limiter {
	return &Limiter{
		global:       NewBucket(globalRate),
		perIPRate:    perIPRate,
		perPrincRate: perPrincipalRate,
		perIP:        make(map[string]*Bucket),
		perPrincip:   make(map[string]*Bucket),
	}
}

func (l *Limiter) bucketFor(m map[string]*Bucket, key string, rate int) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := m[key]
	if !ok {
		b = NewBucket(rate)
		m[key] = b
	}
	return b
}

// Allow checks the global, per-IP, and per-principal gates in order,
// short-circuiting on the first exhausted bucket. Evaluation order does
// not affect which requests are ultimately rejected since every gate
// must pass, but it does avoid consuming tokens from buckets downstream
// of an already-failed gate.
func (l *Limiter) Allow(ip, principal string) bool {
	if !l.global.Allow() {
		return false
	}
	if ip != "" {
		if !l.bucketFor(l.perIP, ip, l.perIPRate).Allow() {
			return false
		}
	}
	if principal != "" {
		if !l.bucketFor(l.perPrincip, principal, l.perPrincRate).Allow() {
			return false
		}
	}
	return true
}
