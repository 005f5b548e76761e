package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/waylight/kestrel/internal/types"
)

// StoreEstimate records a step's prediction of subtree yield counts.
func (s *Store) StoreEstimate(ctx context.Context, requestID int64, expectedTypes []string, minCount int, maxCount *int) (int64, error) {
	typesJSON, err := marshalJSON(expectedTypes)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO estimates (request_id, expected_types_json, min_count, max_count)
		VALUES (?,?,?,?)`, requestID, typesJSON, minCount, nullIntPtr(maxCount))
	if err != nil {
		return 0, fmt.Errorf("store: store_estimate(%d): %w", requestID, err)
	}
	return res.LastInsertId()
}

// AllEstimates loads every stored Estimate, for the integrity checker.
func (s *Store) AllEstimates(ctx context.Context) ([]*types.Estimate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, request_id, expected_types_json, min_count, max_count FROM estimates`)
	if err != nil {
		return nil, fmt.Errorf("store: loading estimates: %w", err)
	}
	defer rows.Close()

	var out []*types.Estimate
	for rows.Next() {
		var e types.Estimate
		var typesJSON string
		var maxCount sql.NullInt64
		if err := rows.Scan(&e.ID, &e.RequestID, &typesJSON, &e.MinCount, &maxCount); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(typesJSON), &e.ExpectedTypes); err != nil {
			return nil, err
		}
		if maxCount.Valid {
			v := int(maxCount.Int64)
			e.MaxCount = &v
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
