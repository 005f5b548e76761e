package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/waylight/kestrel/internal/types"
)

// InsertRequest assigns the next queue_counter and inserts a new pending
// request. If fields.DedupKey is non-empty and a row already carries it,
// the existing row's id is returned and no insert happens.
func (s *Store) InsertRequest(ctx context.Context, fields *types.Request) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fields.DedupKey != "" {
		var existing int64
		err := s.db.QueryRowContext(ctx, `SELECT id FROM requests WHERE dedup_key = ?`, fields.DedupKey).Scan(&existing)
		if err == nil {
			return existing, nil
		}
		if err != sql.ErrNoRows {
			return 0, fmt.Errorf("store: checking dedup_key: %w", err)
		}
	}

	headersJSON, err := marshalJSON(fields.Headers)
	if err != nil {
		return 0, err
	}
	cookiesJSON, err := marshalJSON(fields.Cookies)
	if err != nil {
		return 0, err
	}
	accJSON, err := marshalJSON(fields.AccumulatedData)
	if err != nil {
		return 0, err
	}
	auxJSON, err := marshalJSON(fields.AuxData)
	if err != nil {
		return 0, err
	}
	permJSON, err := marshalJSON(fields.Permanent)
	if err != nil {
		return 0, err
	}

	priority := fields.Priority
	if priority == 0 {
		priority = types.DefaultPriority
	}
	kind := fields.Kind
	if kind == "" {
		kind = types.KindNavigating
	}
	method := fields.Method
	if method == "" {
		method = "GET"
	}

	s.queueCounter++
	qc := s.queueCounter

	var dedupKey sql.NullString
	if fields.DedupKey != "" {
		dedupKey = sql.NullString{String: fields.DedupKey, Valid: true}
	}

	var specKey sql.NullString
	var specInt sql.NullInt64
	if fields.SpeculationID != nil {
		specKey = sql.NullString{String: fields.SpeculationID.FunctionName, Valid: true}
		specInt = sql.NullInt64{Int64: int64(fields.SpeculationID.Integer), Valid: true}
	}

	now := nowNS()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (
			status, priority, queue_counter, kind, method, url, headers_json, cookies_json, body,
			continuation, current_location, accumulated_json, aux_json, permanent_json, dedup_key,
			parent_request_id, is_speculative, speculation_key, speculation_int, expected_type,
			not_before_ns, created_at_ns
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		types.StatusPending, priority, qc, kind, method, fields.URL, headersJSON, cookiesJSON, fields.Body,
		fields.Continuation, fields.CurrentLocation, accJSON, auxJSON, permJSON, dedupKey,
		nullInt64(fields.ParentRequestID), fields.IsSpeculative, specKey, specInt, fields.ExpectedType,
		nullTimeNS(fields.NotBefore), now,
	)
	if err != nil {
		return 0, fmt.Errorf("store: inserting request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: reading inserted request id: %w", err)
	}
	return id, nil
}

// DequeueNext atomically selects the lowest-(priority, queue_counter) pending
// row that is not scheduled for the future, promotes it to in_progress, and
// returns it. Returns types.ErrNotFound if no eligible row exists.
func (s *Store) DequeueNext(ctx context.Context) (*types.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The DSN carries _txlock=immediate, so this BeginTx issues a real
	// BEGIN IMMEDIATE and takes the write lock up front.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: dequeue: begin: %w", err)
	}
	defer tx.Rollback()

	now := nowNS()
	row := tx.QueryRowContext(ctx, `
		SELECT id FROM requests
		WHERE status = ? AND (not_before_ns IS NULL OR not_before_ns <= ?)
		ORDER BY priority ASC, queue_counter ASC
		LIMIT 1`, types.StatusPending, now)

	var id int64
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("store: dequeue: select: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE requests SET status = ?, started_at_ns = ? WHERE id = ?`,
		types.StatusInProgress, now, id); err != nil {
		return nil, fmt.Errorf("store: dequeue: update: %w", err)
	}

	req, err := scanRequestTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: dequeue: commit: %w", err)
	}
	return req, nil
}

// MarkCompleted stamps a request completed.
func (s *Store) MarkCompleted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = ?, completed_at_ns = ? WHERE id = ?`,
		types.StatusCompleted, nowNS(), id)
	if err != nil {
		return fmt.Errorf("store: mark_completed(%d): %w", id, err)
	}
	return nil
}

// MarkFailed stamps a request failed, recording the terminal error message.
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = ?, completed_at_ns = ?, last_error = ? WHERE id = ?`,
		types.StatusFailed, nowNS(), errMsg, id)
	if err != nil {
		return fmt.Errorf("store: mark_failed(%d): %w", id, err)
	}
	return nil
}

// ScheduleRetry re-enqueues a request as pending with a future not_before.
func (s *Store) ScheduleRetry(ctx context.Context, id int64, cumulativeBackoff, nextDelay time.Duration, errMsg string) error {
	notBefore := nowNS() + nextDelay.Nanoseconds()
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET status = ?, retry_count = retry_count + 1,
		    cumulative_backoff_ns = ?, next_retry_delay_ns = ?,
		    last_error = ?, not_before_ns = ?, started_at_ns = NULL
		WHERE id = ?`,
		types.StatusPending, cumulativeBackoff.Nanoseconds(), nextDelay.Nanoseconds(), errMsg, notBefore, id)
	if err != nil {
		return fmt.Errorf("store: schedule_retry(%d): %w", id, err)
	}
	return nil
}

// PauseStep moves every pending request with the given continuation to held.
func (s *Store) PauseStep(ctx context.Context, continuation string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = ? WHERE status = ? AND continuation = ?`,
		types.StatusHeld, types.StatusPending, continuation)
	if err != nil {
		return fmt.Errorf("store: pause_step(%s): %w", continuation, err)
	}
	return nil
}

// ResumeStep moves every held request with the given continuation back to pending.
func (s *Store) ResumeStep(ctx context.Context, continuation string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = ? WHERE status = ? AND continuation = ?`,
		types.StatusPending, types.StatusHeld, continuation)
	if err != nil {
		return fmt.Errorf("store: resume_step(%s): %w", continuation, err)
	}
	return nil
}

// GetRequest loads a single request by id.
func (s *Store) GetRequest(ctx context.Context, id int64) (*types.Request, error) {
	return scanRequestTx(ctx, s.db, id)
}

// RequeueRequest inserts a new pending request copying the fields of id,
// linked to it via parent_request_id. If clearDownstream, the Results,
// Response, and descendant Requests rooted at id are deleted first.
func (s *Store) RequeueRequest(ctx context.Context, id int64, clearDownstream bool) (int64, error) {
	orig, err := s.GetRequest(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("store: requeue_request(%d): loading original: %w", id, err)
	}

	if clearDownstream {
		if err := s.clearDownstream(ctx, id); err != nil {
			return 0, fmt.Errorf("store: requeue_request(%d): clearing downstream: %w", id, err)
		}
	}

	copyReq := *orig
	copyReq.ParentRequestID = &id
	copyReq.RetryCount = 0
	copyReq.CumulativeBackoff = 0
	copyReq.NextRetryDelay = 0
	copyReq.LastError = ""
	copyReq.NotBefore = nil
	copyReq.DedupKey = "" // a requeue must not be silently deduped against itself

	return s.InsertRequest(ctx, &copyReq)
}

// clearDownstream deletes the Response, Results, and descendant requests
// rooted at id (but not id itself).
func (s *Store) clearDownstream(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	descendants, err := collectDescendants(ctx, tx, id)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM responses WHERE request_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE request_id = ?`, id); err != nil {
		return err
	}
	// Delete deepest descendants first: a child row still referencing its
	// parent via parent_request_id would fail the foreign-key check.
	for i := len(descendants) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, descendants[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func collectDescendants(ctx context.Context, tx *sql.Tx, root int64) ([]int64, error) {
	var out []int64
	frontier := []int64{root}
	for len(frontier) > 0 {
		var next []int64
		for _, parent := range frontier {
			rows, err := tx.QueryContext(ctx, `SELECT id FROM requests WHERE parent_request_id = ?`, parent)
			if err != nil {
				return nil, err
			}
			for rows.Next() {
				var childID int64
				if err := rows.Scan(&childID); err != nil {
					rows.Close()
					return nil, err
				}
				out = append(out, childID)
				next = append(next, childID)
			}
			rows.Close()
		}
		frontier = next
	}
	return out, nil
}

type queryRowContexter interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanRequestTx(ctx context.Context, q queryRowContexter, id int64) (*types.Request, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, status, priority, queue_counter, kind, method, url, headers_json, cookies_json, body,
		       continuation, current_location, accumulated_json, aux_json, permanent_json, dedup_key,
		       parent_request_id, is_speculative, speculation_key, speculation_int, expected_type,
		       retry_count, cumulative_backoff_ns, next_retry_delay_ns, last_error, not_before_ns,
		       created_at_ns, started_at_ns, completed_at_ns
		FROM requests WHERE id = ?`, id)
	return scanRequestRow(row)
}

func scanRequestRow(row *sql.Row) (*types.Request, error) {
	var r types.Request
	var headersJSON, cookiesJSON, accJSON, auxJSON, permJSON string
	var dedupKey sql.NullString
	var parentID sql.NullInt64
	var specKey sql.NullString
	var specInt sql.NullInt64
	var notBefore, startedAt, completedAt sql.NullInt64

	err := row.Scan(
		&r.ID, &r.Status, &r.Priority, &r.QueueCounter, &r.Kind, &r.Method, &r.URL, &headersJSON, &cookiesJSON, &r.Body,
		&r.Continuation, &r.CurrentLocation, &accJSON, &auxJSON, &permJSON, &dedupKey,
		&parentID, &r.IsSpeculative, &specKey, &specInt, &r.ExpectedType,
		&r.RetryCount, &r.CumulativeBackoff, &r.NextRetryDelay, &r.LastError, &notBefore,
		&r.CreatedAtNS, &startedAt, &completedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("store: scanning request: %w", err)
	}

	if err := json.Unmarshal([]byte(headersJSON), &r.Headers); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cookiesJSON), &r.Cookies); err != nil {
		return nil, err
	}
	if r.AccumulatedData, err = unmarshalJSONMap(accJSON); err != nil {
		return nil, err
	}
	if r.AuxData, err = unmarshalJSONMap(auxJSON); err != nil {
		return nil, err
	}
	if r.Permanent, err = unmarshalJSONMap(permJSON); err != nil {
		return nil, err
	}
	if dedupKey.Valid {
		r.DedupKey = dedupKey.String
	}
	if parentID.Valid {
		r.ParentRequestID = &parentID.Int64
	}
	if specKey.Valid && specInt.Valid {
		r.SpeculationID = &types.SpeculationID{FunctionName: specKey.String, Integer: int(specInt.Int64)}
	}
	r.NotBefore = timePtrFromNullNS(notBefore)
	r.StartedAtNS = startedAt.Int64
	r.CompletedAtNS = completedAt.Int64
	r.CreatedAt = timeFromNS(r.CreatedAtNS)
	if startedAt.Valid {
		t := timeFromNS(startedAt.Int64)
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t := timeFromNS(completedAt.Int64)
		r.CompletedAt = &t
	}
	return &r, nil
}
