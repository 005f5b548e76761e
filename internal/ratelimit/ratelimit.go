// Package ratelimit implements the adaptive token bucket described by spec
// §4.3: a single persisted, congestion-reactive rate limiter shared by every
// worker. golang.org/x/time/rate has no notion of persisted state or
// feedback-driven rate adjustment, so this is a hand-written implementation
// following the spec's refill/acquire/feedback formulas directly, in the
// style of the teacher's other hand-rolled concurrency primitives.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/waylight/kestrel/internal/store"
)

// Limiter is one process-wide adaptive token bucket.
type Limiter struct {
	mu sync.Mutex

	tokens             float64
	rate               float64 // tokens/sec
	bucketSize         float64
	lastCongestionRate *float64
	jitter             time.Duration
	lastUsedAt         time.Time

	minRate             float64
	maxRate             float64
	successStreakToGrow int
	successStreak       int

	totalAcquired         int64
	totalCongestionEvents int64
}

// Config seeds a fresh Limiter when no persisted state exists.
type Config struct {
	InitialTokens       float64
	InitialRate         float64
	BucketSize          float64
	MinRate             float64
	MaxRate             float64
	Jitter              time.Duration
	SuccessStreakToGrow int
}

// New builds a Limiter from persisted state if present, or seeds one from
// cfg otherwise.
func New(cfg Config, persisted *store.RateLimiterState) *Limiter {
	l := &Limiter{
		minRate:             cfg.MinRate,
		maxRate:             cfg.MaxRate,
		successStreakToGrow: cfg.SuccessStreakToGrow,
	}
	if persisted != nil {
		l.tokens = persisted.Tokens
		l.rate = persisted.Rate
		l.bucketSize = persisted.BucketSize
		l.lastCongestionRate = persisted.LastCongestionRate
		l.jitter = persisted.Jitter
		l.lastUsedAt = persisted.LastUsedAt
		l.totalAcquired = persisted.TotalAcquired
		l.totalCongestionEvents = persisted.TotalCongestionEvents
		return l
	}
	l.tokens = cfg.InitialTokens
	l.rate = cfg.InitialRate
	l.bucketSize = cfg.BucketSize
	l.jitter = cfg.Jitter
	l.lastUsedAt = time.Now()
	return l
}

// Acquire blocks until a token is available, following the spec's
// refill-then-decrement-then-jitter algorithm. It is the only suspension
// point workers use before calling the Fetcher.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, acquired := l.tryAcquire()
		if acquired {
			if wait > 0 {
				return sleepCtx(ctx, wait)
			}
			return nil
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAcquire refills, and if a token is available decrements it and returns
// the jitter sleep duration with acquired=true; otherwise it returns the
// wait-for-next-token duration with acquired=false.
func (l *Limiter) tryAcquire() (wait time.Duration, acquired bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastUsedAt).Seconds()
	if elapsed > 0 {
		l.tokens = min(l.bucketSize, l.tokens+elapsed*l.rate)
		l.lastUsedAt = now
	}

	if l.tokens >= 1 {
		l.tokens--
		l.totalAcquired++
		if l.jitter <= 0 {
			return 0, true
		}
		return time.Duration(rand.Int63n(int64(l.jitter) + 1)), true
	}

	waitSeconds := (1 - l.tokens) / l.rate
	return time.Duration(waitSeconds * float64(time.Second)), false
}

// OnResponse applies congestion feedback per spec §4.3. statusCode 429/503
// (or isConnectionCongestion) halves the rate; a success streak of
// successStreakToGrow consecutive good responses grows the rate back
// towards 90% of the rate that last caused congestion.
func (l *Limiter) OnResponse(statusCode int, isConnectionCongestion bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if statusCode == 429 || statusCode == 503 || isConnectionCongestion {
		rate := l.rate
		l.lastCongestionRate = &rate
		l.rate = max(l.minRate, l.rate*0.5)
		l.jitter += l.jitter / 4
		l.successStreak = 0
		l.totalCongestionEvents++
		return
	}

	l.successStreak++
	if l.successStreakToGrow <= 0 || l.successStreak < l.successStreakToGrow {
		return
	}
	l.successStreak = 0

	ceiling := l.maxRate
	if l.lastCongestionRate != nil {
		softCeiling := 0.9 * (*l.lastCongestionRate)
		if softCeiling < ceiling {
			ceiling = softCeiling
		}
	}
	l.rate = min(ceiling, l.rate*1.05)
	if l.rate < l.minRate {
		l.rate = l.minRate
	}
}

// Snapshot returns the current state for persistence.
func (l *Limiter) Snapshot() *store.RateLimiterState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &store.RateLimiterState{
		Tokens:                l.tokens,
		Rate:                  l.rate,
		BucketSize:            l.bucketSize,
		LastCongestionRate:    l.lastCongestionRate,
		Jitter:                l.jitter,
		LastUsedAt:            l.lastUsedAt,
		TotalAcquired:         l.totalAcquired,
		TotalCongestionEvents: l.totalCongestionEvents,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
