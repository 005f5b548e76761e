package store

import (
	"context"
	"fmt"

	"github.com/waylight/kestrel/internal/types"
)

// OrphanedCompletedRequests returns completed requests with no matching
// response row.
func (s *Store) OrphanedCompletedRequests(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id FROM requests r
		LEFT JOIN responses resp ON resp.request_id = r.id
		WHERE r.status = ? AND resp.id IS NULL AND r.kind != ?`, types.StatusCompleted, types.KindArchive)
	if err != nil {
		return nil, fmt.Errorf("store: orphaned_completed_requests: %w", err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

// OrphanedResponses returns responses whose request row no longer exists.
// With ON DELETE CASCADE this set is normally empty; it is retained as a
// read-only sanity check against manual database surgery.
func (s *Store) OrphanedResponses(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resp.request_id FROM responses resp
		LEFT JOIN requests r ON r.id = resp.request_id
		WHERE r.id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: orphaned_responses: %w", err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

// GhostRequests returns completed requests with neither child requests nor
// results, grouped implicitly by the caller via Continuation on each row.
func (s *Store) GhostRequests(ctx context.Context) ([]types.GhostReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.continuation FROM requests r
		WHERE r.status = ?
		  AND NOT EXISTS (SELECT 1 FROM requests c WHERE c.parent_request_id = r.id)
		  AND NOT EXISTS (SELECT 1 FROM results res WHERE res.request_id = r.id)`, types.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("store: ghost_requests: %w", err)
	}
	defer rows.Close()

	var out []types.GhostReport
	for rows.Next() {
		var g types.GhostReport
		if err := rows.Scan(&g.RequestID, &g.Continuation); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// QueueStatusCounts reports request counts by (status, continuation).
func (s *Store) QueueStatusCounts(ctx context.Context) ([]types.QueueStatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT continuation, status, COUNT(*) FROM requests GROUP BY continuation, status`)
	if err != nil {
		return nil, fmt.Errorf("store: queue_status_counts: %w", err)
	}
	defer rows.Close()

	var out []types.QueueStatusCount
	for rows.Next() {
		var c types.QueueStatusCount
		if err := rows.Scan(&c.Continuation, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CompressionRatioByContinuation reports total original/compressed bytes per
// continuation.
func (s *Store) CompressionRatioByContinuation(ctx context.Context) (map[string][2]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT continuation, SUM(content_size_original), SUM(content_size_compressed)
		FROM responses GROUP BY continuation`)
	if err != nil {
		return nil, fmt.Errorf("store: compression_ratio_by_continuation: %w", err)
	}
	defer rows.Close()

	out := map[string][2]int64{}
	for rows.Next() {
		var continuation string
		var orig, comp int64
		if err := rows.Scan(&continuation, &orig, &comp); err != nil {
			return nil, err
		}
		out[continuation] = [2]int64{orig, comp}
	}
	return out, rows.Err()
}

func scanInt64s(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
