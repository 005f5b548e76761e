package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/waylight/kestrel/internal/types"
)

// StoreResponse persists a Response row for requestID. Responses are never
// modified after creation.
func (s *Store) StoreResponse(ctx context.Context, resp *types.Response) (int64, error) {
	headersJSON, err := marshalJSON(resp.Headers)
	if err != nil {
		return 0, err
	}

	var outcome sql.NullString
	if resp.SpeculationOutcome != nil {
		outcome = sql.NullString{String: string(*resp.SpeculationOutcome), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO responses (
			request_id, status_code, headers_json, url, content_compressed,
			content_size_original, content_size_compressed, compression_dict_id,
			continuation, created_at, warc_record_id, speculation_outcome
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		resp.RequestID, resp.StatusCode, headersJSON, resp.URL, resp.ContentCompressed,
		resp.ContentSizeOriginal, resp.ContentSizeCompressed, nullInt64(resp.CompressionDictID),
		resp.Continuation, nowNS(), resp.WARCRecordID, outcome,
	)
	if err != nil {
		return 0, fmt.Errorf("store: store_response(%d): %w", resp.RequestID, err)
	}
	return res.LastInsertId()
}

// GetResponse loads the response for a request.
func (s *Store) GetResponse(ctx context.Context, requestID int64) (*types.Response, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, status_code, headers_json, url, content_compressed,
		       content_size_original, content_size_compressed, compression_dict_id,
		       continuation, created_at, warc_record_id, speculation_outcome
		FROM responses WHERE request_id = ?`, requestID)
	return scanResponse(row)
}

func scanResponse(row *sql.Row) (*types.Response, error) {
	var r types.Response
	var headersJSON string
	var dictID sql.NullInt64
	var createdAtNS int64
	var outcome sql.NullString

	err := row.Scan(&r.ID, &r.RequestID, &r.StatusCode, &headersJSON, &r.URL, &r.ContentCompressed,
		&r.ContentSizeOriginal, &r.ContentSizeCompressed, &dictID,
		&r.Continuation, &createdAtNS, &r.WARCRecordID, &outcome)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("store: scanning response: %w", err)
	}
	if err := json.Unmarshal([]byte(headersJSON), &r.Headers); err != nil {
		return nil, err
	}
	if dictID.Valid {
		r.CompressionDictID = &dictID.Int64
	}
	r.CreatedAt = timeFromNS(createdAtNS)
	if outcome.Valid {
		o := types.SpeculationOutcome(outcome.String)
		r.SpeculationOutcome = &o
	}
	return &r, nil
}

// SampleResponsesByContinuation loads up to limit responses for a
// continuation, most recent first, for dictionary training.
func (s *Store) SampleResponsesByContinuation(ctx context.Context, continuation string, limit int) ([]*types.Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, status_code, headers_json, url, content_compressed,
		       content_size_original, content_size_compressed, compression_dict_id,
		       continuation, created_at, warc_record_id, speculation_outcome
		FROM responses WHERE continuation = ? ORDER BY created_at DESC LIMIT ?`, continuation, limit)
	if err != nil {
		return nil, fmt.Errorf("store: sampling responses for %s: %w", continuation, err)
	}
	defer rows.Close()

	var out []*types.Response
	for rows.Next() {
		var r types.Response
		var headersJSON string
		var dictID sql.NullInt64
		var createdAtNS int64
		var outcome sql.NullString
		if err := rows.Scan(&r.ID, &r.RequestID, &r.StatusCode, &headersJSON, &r.URL, &r.ContentCompressed,
			&r.ContentSizeOriginal, &r.ContentSizeCompressed, &dictID,
			&r.Continuation, &createdAtNS, &r.WARCRecordID, &outcome); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(headersJSON), &r.Headers)
		if dictID.Valid {
			r.CompressionDictID = &dictID.Int64
		}
		r.CreatedAt = timeFromNS(createdAtNS)
		if outcome.Valid {
			o := types.SpeculationOutcome(outcome.String)
			r.SpeculationOutcome = &o
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// AllResponsesByContinuation loads every response for a continuation, for
// bulk re-compression.
func (s *Store) AllResponsesByContinuation(ctx context.Context, continuation string) ([]*types.Response, error) {
	return s.SampleResponsesByContinuation(ctx, continuation, -1)
}

// UpdateResponseCompression rewrites a response's compressed bytes, size
// fields, and dictionary reference (used by recompression).
func (s *Store) UpdateResponseCompression(ctx context.Context, responseID int64, compressed []byte, sizeCompressed int, dictID *int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE responses SET content_compressed = ?, content_size_compressed = ?, compression_dict_id = ?
		WHERE id = ?`, compressed, sizeCompressed, nullInt64(dictID), responseID)
	if err != nil {
		return fmt.Errorf("store: updating response compression(%d): %w", responseID, err)
	}
	return nil
}

// InsertCompressionDict appends a new dictionary version for a continuation.
func (s *Store) InsertCompressionDict(ctx context.Context, continuation string, data []byte, sampleCount int) (*types.CompressionDict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxVersion sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM compression_dicts WHERE continuation = ?`, continuation).Scan(&maxVersion); err != nil {
		return nil, fmt.Errorf("store: reading dict version for %s: %w", continuation, err)
	}
	version := int(maxVersion.Int64) + 1

	now := nowNS()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO compression_dicts (continuation, version, dictionary_data, sample_count, created_at)
		VALUES (?,?,?,?,?)`, continuation, version, data, sampleCount, now)
	if err != nil {
		return nil, fmt.Errorf("store: inserting dict for %s: %w", continuation, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &types.CompressionDict{
		ID: id, Continuation: continuation, Version: version,
		DictionaryData: data, SampleCount: sampleCount, CreatedAt: timeFromNS(now),
	}, nil
}

// LatestCompressionDict returns the highest-version dictionary for a
// continuation, or types.ErrNotFound if none exists.
func (s *Store) LatestCompressionDict(ctx context.Context, continuation string) (*types.CompressionDict, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, continuation, version, dictionary_data, sample_count, created_at
		FROM compression_dicts WHERE continuation = ? ORDER BY version DESC LIMIT 1`, continuation)
	var d types.CompressionDict
	var createdAtNS int64
	err := row.Scan(&d.ID, &d.Continuation, &d.Version, &d.DictionaryData, &d.SampleCount, &createdAtNS)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("store: loading latest dict for %s: %w", continuation, err)
	}
	d.CreatedAt = timeFromNS(createdAtNS)
	return &d, nil
}

// GetCompressionDict loads a dictionary by id.
func (s *Store) GetCompressionDict(ctx context.Context, id int64) (*types.CompressionDict, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, continuation, version, dictionary_data, sample_count, created_at
		FROM compression_dicts WHERE id = ?`, id)
	var d types.CompressionDict
	var createdAtNS int64
	err := row.Scan(&d.ID, &d.Continuation, &d.Version, &d.DictionaryData, &d.SampleCount, &createdAtNS)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("store: loading dict(%d): %w", id, err)
	}
	d.CreatedAt = timeFromNS(createdAtNS)
	return &d, nil
}
