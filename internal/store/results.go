package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/waylight/kestrel/internal/types"
)

// StoreResult persists an extracted Result.
func (s *Store) StoreResult(ctx context.Context, requestID *int64, resultType, dataJSON string, isValid bool, validationErrorsJSON string) (int64, error) {
	var vErrs sql.NullString
	if validationErrorsJSON != "" {
		vErrs = sql.NullString{String: validationErrorsJSON, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO results (request_id, result_type, data_json, is_valid, validation_errors_json, created_at)
		VALUES (?,?,?,?,?,?)`, nullInt64(requestID), resultType, dataJSON, isValid, vErrs, nowNS())
	if err != nil {
		return 0, fmt.Errorf("store: store_result(%s): %w", resultType, err)
	}
	return res.LastInsertId()
}

// CountResultsByTypeInSubtree counts Results whose result_type is in
// expectedTypes, across the closure of requestID under parent_request_id
// (including requestID itself).
func (s *Store) CountResultsByTypeInSubtree(ctx context.Context, requestID int64, expectedTypes []string) (int, error) {
	ids, err := s.subtreeIDs(ctx, requestID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 || len(expectedTypes) == 0 {
		return 0, nil
	}

	placeholdersIDs := placeholders(len(ids))
	placeholdersTypes := placeholders(len(expectedTypes))
	args := make([]any, 0, len(ids)+len(expectedTypes))
	for _, id := range ids {
		args = append(args, id)
	}
	for _, t := range expectedTypes {
		args = append(args, t)
	}

	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM results
		WHERE request_id IN (%s) AND result_type IN (%s)`, placeholdersIDs, placeholdersTypes)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: counting results in subtree(%d): %w", requestID, err)
	}
	return count, nil
}

func (s *Store) subtreeIDs(ctx context.Context, root int64) ([]int64, error) {
	ids := []int64{root}
	frontier := []int64{root}
	for len(frontier) > 0 {
		var next []int64
		for _, parent := range frontier {
			rows, err := s.db.QueryContext(ctx, `SELECT id FROM requests WHERE parent_request_id = ?`, parent)
			if err != nil {
				return nil, err
			}
			for rows.Next() {
				var childID int64
				if err := rows.Scan(&childID); err != nil {
					rows.Close()
					return nil, err
				}
				ids = append(ids, childID)
				next = append(next, childID)
			}
			rows.Close()
		}
		frontier = next
	}
	return ids, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

// ResultTypeCounts reports, for every result_type, the valid and invalid
// Result counts seen so far.
func (s *Store) ResultTypeCounts(ctx context.Context) (map[string]types.ResultTypeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT result_type, is_valid, COUNT(*) FROM results GROUP BY result_type, is_valid`)
	if err != nil {
		return nil, fmt.Errorf("store: result_type_counts: %w", err)
	}
	defer rows.Close()

	out := map[string]types.ResultTypeCount{}
	for rows.Next() {
		var resultType string
		var isValid bool
		var count int
		if err := rows.Scan(&resultType, &isValid, &count); err != nil {
			return nil, err
		}
		c := out[resultType]
		if isValid {
			c.Valid = count
		} else {
			c.Invalid = count
		}
		out[resultType] = c
	}
	return out, rows.Err()
}
