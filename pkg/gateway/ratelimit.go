package gateway

import (
	"sync"
	"time"
)

// TokenBucket is a sliding-window token accountant shared process-wide.
// Admission checks use estimated costs; Record settles actual usage reported
// by the provider. A refused request records nothing.
type TokenBucket struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events []usageEvent

	now func() time.Time
}

type usageEvent struct {
	at     time.Time
	tokens int
}

// NewTokenBucket creates a bucket admitting up to tokensPerMinute within any
// sliding one-minute window.
func NewTokenBucket(tokensPerMinute int) *TokenBucket {
	return &TokenBucket{
		limit:  tokensPerMinute,
		window: time.Minute,
		now:    time.Now,
	}
}

// Acquire admits a request of estimated cost, or returns RateLimitedError
// with the time until the request would fit. Nothing is recorded on either
// path; callers settle real usage with Record.
func (b *TokenBucket) Acquire(estimated int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.prune(now)

	used := b.used()
	if used+estimated <= b.limit {
		return nil
	}
	return &RateLimitedError{RetryAfter: b.timeUntilAvailable(now, estimated)}
}

// Record settles tokens actually consumed by a completed request.
func (b *TokenBucket) Record(tokens int) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.prune(now)
	b.events = append(b.events, usageEvent{at: now, tokens: tokens})
}

// Used returns the tokens consumed in the current window.
func (b *TokenBucket) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.now())
	return b.used()
}

func (b *TokenBucket) used() int {
	total := 0
	for _, e := range b.events {
		total += e.tokens
	}
	return total
}

func (b *TokenBucket) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.events) && !b.events[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		b.events = append(b.events[:0], b.events[i:]...)
	}
}

// timeUntilAvailable walks the window's events oldest-first and returns how
// long until enough of them expire for a request of cost t to fit.
func (b *TokenBucket) timeUntilAvailable(now time.Time, t int) time.Duration {
	if t > b.limit {
		// Can never fit; the best hint is a full window.
		return b.window
	}
	used := b.used()
	for _, e := range b.events {
		used -= e.tokens
		if used+t <= b.limit {
			return e.at.Add(b.window).Sub(now)
		}
	}
	return 0
}
