// Package ratelimit implements fixed-window admission control keyed on
// identity plus action. Counters are ephemeral: they may live in process
// memory or in redis, and losing them on restart only under-counts, which is
// acceptable for admission control.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Policy is one window constraint. An action typically checks two policies at
// once (per-minute and per-hour); all of them must pass.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// Result reports the admission decision. RetryAfter is only set on denial.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
	Count      int
}

// WindowStore increments and reads the counter for one (key, window) bucket.
// It returns the count after increment and how long the bucket has left.
type WindowStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int, remaining time.Duration, err error)
}

// Limiter evaluates policies against a WindowStore.
type Limiter struct {
	store WindowStore
}

// New creates a Limiter over the given window store.
func New(store WindowStore) *Limiter {
	return &Limiter{store: store}
}

// Allow checks every policy for the key and admits the request only if all
// pass. On denial RetryAfter carries the longest wait among the violated
// windows. Counters are incremented even on denial so a hammering client
// keeps being counted.
func (l *Limiter) Allow(ctx context.Context, key string, policies ...Policy) (Result, error) {
	out := Result{Allowed: true}
	for _, policy := range policies {
		if policy.MaxRequests <= 0 || policy.Window <= 0 {
			continue
		}
		bucketKey := fmt.Sprintf("%s:%d", key, policy.Window.Milliseconds())
		count, remaining, err := l.store.Incr(ctx, bucketKey, policy.Window)
		if err != nil {
			return Result{}, err
		}
		if count > out.Count {
			out.Count = count
		}
		if count > policy.MaxRequests {
			out.Allowed = false
			if remaining > out.RetryAfter {
				out.RetryAfter = remaining
			}
		}
	}
	return out, nil
}
