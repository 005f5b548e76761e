package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/waylight/kestrel/internal/types"
)

// InitRunMetadata creates the single run_metadata row if absent, or leaves
// an existing row untouched (rehydrate-on-resume semantics).
func (s *Store) InitRunMetadata(ctx context.Context, m *types.RunMetadata) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_metadata WHERE id = 1`).Scan(&exists); err != nil {
		return fmt.Errorf("store: checking run_metadata: %w", err)
	}
	if exists > 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_metadata (
			id, scraper_name, scraper_version, status, created_at,
			params_json, seed_params_json, base_delay_ns, jitter_ns, num_workers, max_backoff_ns,
			speculation_config_json, browser_config_json
		) VALUES (1,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ScraperName, m.ScraperVersion, types.RunCreated, nowNS(),
		orEmptyJSON(m.ParamsJSON), orEmptyJSON(m.SeedParamsJSON), m.BaseDelay.Nanoseconds(), m.Jitter.Nanoseconds(), m.NumWorkers, m.MaxBackoffTime.Nanoseconds(),
		orEmptyJSON(m.SpeculationConfigJSON), orEmptyJSON(m.BrowserConfigJSON),
	)
	if err != nil {
		return fmt.Errorf("store: init_run_metadata: %w", err)
	}
	return nil
}

func orEmptyJSON(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

// SetRunStatus transitions the run's status, stamping started_at/ended_at as
// appropriate.
func (s *Store) SetRunStatus(ctx context.Context, status types.RunStatus, errMsg string) error {
	now := nowNS()
	switch status {
	case types.RunRunning:
		_, err := s.db.ExecContext(ctx, `UPDATE run_metadata SET status = ?, started_at = ? WHERE id = 1`, status, now)
		return err
	case types.RunCompleted, types.RunInterrupted, types.RunFailed:
		_, err := s.db.ExecContext(ctx, `UPDATE run_metadata SET status = ?, ended_at = ?, error_message = ? WHERE id = 1`, status, now, errMsg)
		return err
	default:
		_, err := s.db.ExecContext(ctx, `UPDATE run_metadata SET status = ? WHERE id = 1`, status)
		return err
	}
}

// LoadRunMetadata loads the single run_metadata row.
func (s *Store) LoadRunMetadata(ctx context.Context) (*types.RunMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scraper_name, scraper_version, status, created_at, started_at, ended_at, error_message,
		       params_json, seed_params_json, base_delay_ns, jitter_ns, num_workers, max_backoff_ns,
		       speculation_config_json, browser_config_json
		FROM run_metadata WHERE id = 1`)

	var m types.RunMetadata
	var createdAtNS int64
	var startedAtNS, endedAtNS sql.NullInt64
	var baseDelayNS, jitterNS, maxBackoffNS int64

	err := row.Scan(&m.ScraperName, &m.ScraperVersion, &m.Status, &createdAtNS, &startedAtNS, &endedAtNS, &m.ErrorMessage,
		&m.ParamsJSON, &m.SeedParamsJSON, &baseDelayNS, &jitterNS, &m.NumWorkers, &maxBackoffNS,
		&m.SpeculationConfigJSON, &m.BrowserConfigJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("store: load_run_metadata: %w", err)
	}
	m.CreatedAt = timeFromNS(createdAtNS)
	m.BaseDelay = time.Duration(baseDelayNS)
	m.Jitter = time.Duration(jitterNS)
	m.MaxBackoffTime = time.Duration(maxBackoffNS)
	if startedAtNS.Valid {
		t := timeFromNS(startedAtNS.Int64)
		m.StartedAt = &t
	}
	if endedAtNS.Valid {
		t := timeFromNS(endedAtNS.Int64)
		m.EndedAt = &t
	}
	return &m, nil
}
