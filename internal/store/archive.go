package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/waylight/kestrel/internal/types"
)

// StoreArchivedFile persists a completed archive download.
func (s *Store) StoreArchivedFile(ctx context.Context, f *types.ArchivedFile) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO archived_files (request_id, file_path, original_url, expected_type, file_size, content_hash, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		f.RequestID, f.FilePath, f.OriginalURL, f.ExpectedType, f.FileSize, f.ContentHash, nowNS())
	if err != nil {
		return 0, fmt.Errorf("store: store_archived_file(%d): %w", f.RequestID, err)
	}
	return res.LastInsertId()
}

// GetArchivedFile loads the archived file for a request.
func (s *Store) GetArchivedFile(ctx context.Context, requestID int64) (*types.ArchivedFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, file_path, original_url, expected_type, file_size, content_hash, created_at
		FROM archived_files WHERE request_id = ?`, requestID)
	var f types.ArchivedFile
	var createdAtNS int64
	err := row.Scan(&f.ID, &f.RequestID, &f.FilePath, &f.OriginalURL, &f.ExpectedType, &f.FileSize, &f.ContentHash, &createdAtNS)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("store: get_archived_file(%d): %w", requestID, err)
	}
	f.CreatedAt = timeFromNS(createdAtNS)
	return &f, nil
}

// StoreIncidentalRequest persists one browser-driven sub-resource fetch.
func (s *Store) StoreIncidentalRequest(ctx context.Context, ir *types.IncidentalRequest) (int64, error) {
	headersJSON, err := marshalJSON(ir.Headers)
	if err != nil {
		return 0, err
	}
	respHeadersJSON, err := marshalJSON(ir.ResponseHeaders)
	if err != nil {
		return 0, err
	}
	var fromCache sql.NullBool
	if ir.FromCache != nil {
		fromCache = sql.NullBool{Bool: *ir.FromCache, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO incidental_requests (
			parent_request_id, resource_type, method, url, headers_json, body,
			status_code, response_headers_json, content_compressed, content_size_original,
			content_size_compressed, compression_dict_id, started_at_ns, completed_at_ns,
			from_cache, failure_reason, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ir.ParentRequestID, ir.ResourceType, ir.Method, ir.URL, headersJSON, ir.Body,
		nullIntPtr(ir.StatusCode), respHeadersJSON, ir.ContentCompressed, ir.ContentSizeOriginal,
		ir.ContentSizeCompressed, nullInt64(ir.CompressionDictID), ir.StartedAtNS, ir.CompletedAtNS,
		fromCache, ir.FailureReason, nowNS(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: store_incidental_request(%d): %w", ir.ParentRequestID, err)
	}
	return res.LastInsertId()
}
