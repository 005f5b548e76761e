package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RateLimiterState is the single persisted row backing the adaptive token
// bucket.
type RateLimiterState struct {
	Tokens                float64
	Rate                  float64
	BucketSize            float64
	LastCongestionRate    *float64
	Jitter                time.Duration
	LastUsedAt            time.Time
	TotalAcquired         int64
	TotalCongestionEvents int64
}

// SaveRateLimiterState upserts the single rate limiter row.
func (s *Store) SaveRateLimiterState(ctx context.Context, st *RateLimiterState) error {
	var lastCongestion sql.NullFloat64
	if st.LastCongestionRate != nil {
		lastCongestion = sql.NullFloat64{Float64: *st.LastCongestionRate, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limiter_state (id, tokens, rate, bucket_size, last_congestion_rate, jitter_ns, last_used_at_ns, total_acquired, total_congestion_events)
		VALUES (1,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			tokens = excluded.tokens,
			rate = excluded.rate,
			bucket_size = excluded.bucket_size,
			last_congestion_rate = excluded.last_congestion_rate,
			jitter_ns = excluded.jitter_ns,
			last_used_at_ns = excluded.last_used_at_ns,
			total_acquired = excluded.total_acquired,
			total_congestion_events = excluded.total_congestion_events`,
		st.Tokens, st.Rate, st.BucketSize, lastCongestion, st.Jitter.Nanoseconds(), st.LastUsedAt.UnixNano(),
		st.TotalAcquired, st.TotalCongestionEvents)
	if err != nil {
		return fmt.Errorf("store: save_rate_limiter_state: %w", err)
	}
	return nil
}

// LoadRateLimiterState loads the single rate limiter row, or (nil, nil) if
// it has never been saved.
func (s *Store) LoadRateLimiterState(ctx context.Context) (*RateLimiterState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tokens, rate, bucket_size, last_congestion_rate, jitter_ns, last_used_at_ns, total_acquired, total_congestion_events
		FROM rate_limiter_state WHERE id = 1`)
	var st RateLimiterState
	var lastCongestion sql.NullFloat64
	var jitterNS, lastUsedNS int64
	err := row.Scan(&st.Tokens, &st.Rate, &st.BucketSize, &lastCongestion, &jitterNS, &lastUsedNS, &st.TotalAcquired, &st.TotalCongestionEvents)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load_rate_limiter_state: %w", err)
	}
	if lastCongestion.Valid {
		st.LastCongestionRate = &lastCongestion.Float64
	}
	st.Jitter = time.Duration(jitterNS)
	st.LastUsedAt = timeFromNS(lastUsedNS)
	return &st, nil
}
