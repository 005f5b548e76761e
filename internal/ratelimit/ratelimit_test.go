package ratelimit

import (
	"context"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		InitialTokens:       1,
		InitialRate:         1000, // fast refill so tests don't sleep long
		BucketSize:          4,
		MinRate:             0.01,
		MaxRate:             10000,
		Jitter:              0,
		SuccessStreakToGrow: 3,
	}
}

func TestAcquireConsumesToken(t *testing.T) {
	l := New(testConfig(), nil)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	snap := l.Snapshot()
	if snap.Tokens >= 1 {
		t.Errorf("expected token to be consumed, got %f", snap.Tokens)
	}
}

func TestAcquireWaitsForRefillWhenStarved(t *testing.T) {
	cfg := testConfig()
	cfg.InitialTokens = 0
	cfg.InitialRate = 100 // 10ms per token
	l := New(cfg, nil)

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("acquire took too long: %v", elapsed)
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.InitialTokens = 0
	cfg.InitialRate = 0.001 // effectively never refills within test timeout
	l := New(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx); err == nil {
		t.Errorf("expected context deadline error, got nil")
	}
}

func TestOnResponseCongestionHalvesRate(t *testing.T) {
	l := New(testConfig(), nil)
	before := l.Snapshot().Rate

	l.OnResponse(429, false)

	after := l.Snapshot()
	if after.Rate != before*0.5 {
		t.Errorf("expected rate halved to %f, got %f", before*0.5, after.Rate)
	}
	if after.LastCongestionRate == nil || *after.LastCongestionRate != before {
		t.Errorf("expected last_congestion_rate recorded as %f, got %v", before, after.LastCongestionRate)
	}
}

func TestOnResponseSuccessStreakGrowsRate(t *testing.T) {
	l := New(testConfig(), nil)
	before := l.Snapshot().Rate

	for i := 0; i < 3; i++ {
		l.OnResponse(200, false)
	}

	after := l.Snapshot().Rate
	if after <= before {
		t.Errorf("expected rate to grow after success streak, before=%f after=%f", before, after)
	}
}

func TestOnResponseDoesNotExceedNinetyPercentOfCongestionRate(t *testing.T) {
	cfg := testConfig()
	cfg.InitialRate = 100
	cfg.MaxRate = 100000
	l := New(cfg, nil)

	l.OnResponse(429, false) // last_congestion_rate = 100, rate -> 50

	for i := 0; i < 200; i++ {
		l.OnResponse(200, false)
	}

	rate := l.Snapshot().Rate
	if rate > 90 {
		t.Errorf("expected rate capped near 90%% of congestion rate (90), got %f", rate)
	}
}
