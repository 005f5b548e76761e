package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/waylight/kestrel/internal/types"
)

// StoreError persists a classified Error.
func (s *Store) StoreError(ctx context.Context, e *types.Error) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO errors (
			request_id, error_type, error_class, message, request_url,
			selector, selector_type, expected_min, expected_max, actual_count,
			model_name, validation_errors_json, failed_doc_json,
			status_code, timeout_seconds, traceback, is_resolved, resolution_notes, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		nullInt64(e.RequestID), e.ErrorType, e.ErrorClass, e.Message, e.RequestURL,
		nullString(e.Selector), nullString(e.SelectorType), nullIntPtr(e.ExpectedMin), nullIntPtr(e.ExpectedMax), nullIntPtr(e.ActualCount),
		nullString(e.ModelName), nullString(e.ValidationErrorsJSON), nullString(e.FailedDocJSON),
		nullIntPtr(e.StatusCode), nullFloatPtr(e.TimeoutSeconds), e.Traceback, e.IsResolved, e.ResolutionNotes, nowNS(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: store_error(%s): %w", e.ErrorType, err)
	}
	return res.LastInsertId()
}

// ResolveError marks an error resolved, recording operator notes.
func (s *Store) ResolveError(ctx context.Context, id int64, notes string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE errors SET is_resolved = 1, resolved_at = ?, resolution_notes = ? WHERE id = ?`,
		nowNS(), notes, id)
	if err != nil {
		return fmt.Errorf("store: resolve_error(%d): %w", id, err)
	}
	return nil
}

// ErrorTypeCounts reports resolved/unresolved counts per error_type.
func (s *Store) ErrorTypeCounts(ctx context.Context) (map[types.ErrorType]types.ErrorTypeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT error_type, is_resolved, COUNT(*) FROM errors GROUP BY error_type, is_resolved`)
	if err != nil {
		return nil, fmt.Errorf("store: error_type_counts: %w", err)
	}
	defer rows.Close()

	out := map[types.ErrorType]types.ErrorTypeCount{}
	for rows.Next() {
		var errType types.ErrorType
		var resolved bool
		var count int
		if err := rows.Scan(&errType, &resolved, &count); err != nil {
			return nil, err
		}
		c := out[errType]
		if resolved {
			c.Resolved = count
		} else {
			c.Unresolved = count
		}
		out[errType] = c
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullIntPtr(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloatPtr(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
