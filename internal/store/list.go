package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/waylight/kestrel/internal/types"
)

// ListRequests returns up to limit requests, most recently created first,
// optionally filtered by status and/or continuation. A limit <= 0 means no
// cap. Used by the operator CLI's "requests list" view.
func (s *Store) ListRequests(ctx context.Context, status *types.Status, continuation string, limit int) ([]*types.Request, error) {
	query := `
		SELECT id, status, priority, queue_counter, kind, method, url, headers_json, cookies_json, body,
		       continuation, current_location, accumulated_json, aux_json, permanent_json, dedup_key,
		       parent_request_id, is_speculative, speculation_key, speculation_int, expected_type,
		       retry_count, cumulative_backoff_ns, next_retry_delay_ns, last_error, not_before_ns,
		       created_at_ns, started_at_ns, completed_at_ns
		FROM requests WHERE 1=1`
	var args []any
	if status != nil {
		query += " AND status = ?"
		args = append(args, *status)
	}
	if continuation != "" {
		query += " AND continuation = ?"
		args = append(args, continuation)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list_requests: %w", err)
	}
	defer rows.Close()

	var out []*types.Request
	for rows.Next() {
		r, err := scanRequestRowsNext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequestRowsNext(rows *sql.Rows) (*types.Request, error) {
	var r types.Request
	var headersJSON, cookiesJSON, accJSON, auxJSON, permJSON string
	var dedupKey sql.NullString
	var parentID sql.NullInt64
	var specKey sql.NullString
	var specInt sql.NullInt64
	var notBefore, startedAt, completedAt sql.NullInt64

	err := rows.Scan(
		&r.ID, &r.Status, &r.Priority, &r.QueueCounter, &r.Kind, &r.Method, &r.URL, &headersJSON, &cookiesJSON, &r.Body,
		&r.Continuation, &r.CurrentLocation, &accJSON, &auxJSON, &permJSON, &dedupKey,
		&parentID, &r.IsSpeculative, &specKey, &specInt, &r.ExpectedType,
		&r.RetryCount, &r.CumulativeBackoff, &r.NextRetryDelay, &r.LastError, &notBefore,
		&r.CreatedAtNS, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scanning request row: %w", err)
	}
	if err := unmarshalInto(headersJSON, &r.Headers); err != nil {
		return nil, err
	}
	if err := unmarshalInto(cookiesJSON, &r.Cookies); err != nil {
		return nil, err
	}
	r.AccumulatedData, err = unmarshalJSONMap(accJSON)
	if err != nil {
		return nil, err
	}
	r.AuxData, err = unmarshalJSONMap(auxJSON)
	if err != nil {
		return nil, err
	}
	r.Permanent, err = unmarshalJSONMap(permJSON)
	if err != nil {
		return nil, err
	}
	if dedupKey.Valid {
		r.DedupKey = dedupKey.String
	}
	if parentID.Valid {
		r.ParentRequestID = &parentID.Int64
	}
	if specKey.Valid {
		r.SpeculationID = &types.SpeculationID{FunctionName: specKey.String, Integer: int(specInt.Int64)}
	}
	r.NotBefore = timePtrFromNullNS(notBefore)
	r.StartedAt = timePtrFromNullNS(startedAt)
	r.CompletedAt = timePtrFromNullNS(completedAt)
	r.CreatedAt = timeFromNS(r.CreatedAtNS)
	return &r, nil
}

func unmarshalInto(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// ListErrors returns up to limit Error rows, most recent first, optionally
// restricted to unresolved ones.
func (s *Store) ListErrors(ctx context.Context, onlyUnresolved bool, limit int) ([]*types.Error, error) {
	query := `
		SELECT id, request_id, error_type, error_class, message, request_url,
		       selector, selector_type, expected_min, expected_max, actual_count,
		       model_name, validation_errors_json, failed_doc_json,
		       status_code, timeout_seconds, traceback, is_resolved, resolved_at, resolution_notes, created_at
		FROM errors WHERE 1=1`
	var args []any
	if onlyUnresolved {
		query += " AND is_resolved = 0"
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list_errors: %w", err)
	}
	defer rows.Close()

	var out []*types.Error
	for rows.Next() {
		e, err := scanErrorRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetError loads a single Error by id.
func (s *Store) GetError(ctx context.Context, id int64) (*types.Error, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, error_type, error_class, message, request_url,
		       selector, selector_type, expected_min, expected_max, actual_count,
		       model_name, validation_errors_json, failed_doc_json,
		       status_code, timeout_seconds, traceback, is_resolved, resolved_at, resolution_notes, created_at
		FROM errors WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get_error(%d): %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, types.ErrNotFound
	}
	return scanErrorRow(rows)
}

func scanErrorRow(rows *sql.Rows) (*types.Error, error) {
	var e types.Error
	var requestID sql.NullInt64
	var selector, selectorType sql.NullString
	var expectedMin, expectedMax, actualCount sql.NullInt64
	var modelName sql.NullString
	var validationErrs, failedDoc sql.NullString
	var statusCode sql.NullInt64
	var timeoutSeconds sql.NullFloat64
	var resolvedAt sql.NullInt64
	var createdAtNS int64

	err := rows.Scan(
		&e.ID, &requestID, &e.ErrorType, &e.ErrorClass, &e.Message, &e.RequestURL,
		&selector, &selectorType, &expectedMin, &expectedMax, &actualCount,
		&modelName, &validationErrs, &failedDoc,
		&statusCode, &timeoutSeconds, &e.Traceback, &e.IsResolved, &resolvedAt, &e.ResolutionNotes, &createdAtNS,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scanning error row: %w", err)
	}
	if requestID.Valid {
		e.RequestID = &requestID.Int64
	}
	e.Selector = selector.String
	e.SelectorType = selectorType.String
	if expectedMin.Valid {
		v := int(expectedMin.Int64)
		e.ExpectedMin = &v
	}
	if expectedMax.Valid {
		v := int(expectedMax.Int64)
		e.ExpectedMax = &v
	}
	if actualCount.Valid {
		v := int(actualCount.Int64)
		e.ActualCount = &v
	}
	e.ModelName = modelName.String
	e.ValidationErrorsJSON = validationErrs.String
	e.FailedDocJSON = failedDoc.String
	if statusCode.Valid {
		v := int(statusCode.Int64)
		e.StatusCode = &v
	}
	if timeoutSeconds.Valid {
		v := timeoutSeconds.Float64
		e.TimeoutSeconds = &v
	}
	e.ResolvedAt = timePtrFromNullNS(resolvedAt)
	e.CreatedAt = timeFromNS(createdAtNS)
	return &e, nil
}

// ListResults returns up to limit Result rows, most recent first,
// optionally filtered by result_type and/or restricted to invalid ones.
func (s *Store) ListResults(ctx context.Context, resultType string, onlyInvalid bool, limit int) ([]*types.Result, error) {
	query := `SELECT id, request_id, result_type, data_json, is_valid, validation_errors_json, created_at FROM results WHERE 1=1`
	var args []any
	if resultType != "" {
		query += " AND result_type = ?"
		args = append(args, resultType)
	}
	if onlyInvalid {
		query += " AND is_valid = 0"
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list_results: %w", err)
	}
	defer rows.Close()

	var out []*types.Result
	for rows.Next() {
		r, err := scanResultRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetResult loads a single Result by id.
func (s *Store) GetResult(ctx context.Context, id int64) (*types.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, result_type, data_json, is_valid, validation_errors_json, created_at
		FROM results WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get_result(%d): %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, types.ErrNotFound
	}
	return scanResultRow(rows)
}

func scanResultRow(rows *sql.Rows) (*types.Result, error) {
	var r types.Result
	var requestID sql.NullInt64
	var validationErrs sql.NullString
	var createdAtNS int64

	err := rows.Scan(&r.ID, &requestID, &r.ResultType, &r.DataJSON, &r.IsValid, &validationErrs, &createdAtNS)
	if err != nil {
		return nil, fmt.Errorf("store: scanning result row: %w", err)
	}
	if requestID.Valid {
		r.RequestID = &requestID.Int64
	}
	r.ValidationErrorsJSON = validationErrs.String
	r.CreatedAt = timeFromNS(createdAtNS)
	return &r, nil
}

// ListResponses returns up to limit responses, most recent first, optionally
// filtered by continuation.
func (s *Store) ListResponses(ctx context.Context, continuation string, limit int) ([]*types.Response, error) {
	query := `
		SELECT id, request_id, status_code, headers_json, url, content_compressed,
		       content_size_original, content_size_compressed, compression_dict_id,
		       continuation, created_at, warc_record_id, speculation_outcome
		FROM responses WHERE 1=1`
	var args []any
	if continuation != "" {
		query += " AND continuation = ?"
		args = append(args, continuation)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list_responses: %w", err)
	}
	defer rows.Close()

	var out []*types.Response
	for rows.Next() {
		r, err := scanResponseRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanResponseRow(rows *sql.Rows) (*types.Response, error) {
	var r types.Response
	var headersJSON string
	var dictID sql.NullInt64
	var createdAtNS int64
	var outcome sql.NullString

	err := rows.Scan(&r.ID, &r.RequestID, &r.StatusCode, &headersJSON, &r.URL, &r.ContentCompressed,
		&r.ContentSizeOriginal, &r.ContentSizeCompressed, &dictID,
		&r.Continuation, &createdAtNS, &r.WARCRecordID, &outcome)
	if err != nil {
		return nil, fmt.Errorf("store: scanning response row: %w", err)
	}
	if err := unmarshalInto(headersJSON, &r.Headers); err != nil {
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
