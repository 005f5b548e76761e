package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SpeculationState is the persisted row for one speculation slot.
type SpeculationState struct {
	SlotKey              string
	HighestSuccessfulID  int
	ConsecutiveFailures  int
	CurrentCeiling       int
	Stopped              bool
}

// SaveSpeculationState upserts a slot's state.
func (s *Store) SaveSpeculationState(ctx context.Context, st *SpeculationState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO speculation_state (slot_key, highest_successful_id, consecutive_failures, current_ceiling, stopped)
		VALUES (?,?,?,?,?)
		ON CONFLICT(slot_key) DO UPDATE SET
			highest_successful_id = excluded.highest_successful_id,
			consecutive_failures  = excluded.consecutive_failures,
			current_ceiling       = excluded.current_ceiling,
			stopped               = excluded.stopped`,
		st.SlotKey, st.HighestSuccessfulID, st.ConsecutiveFailures, st.CurrentCeiling, st.Stopped)
	if err != nil {
		return fmt.Errorf("store: save_speculation_state(%s): %w", st.SlotKey, err)
	}
	return nil
}

// LoadSpeculationState loads a single slot's state, or (nil, nil) if absent
// — an unseen slot is not an error, the caller seeds it from defaults.
func (s *Store) LoadSpeculationState(ctx context.Context, slotKey string) (*SpeculationState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT slot_key, highest_successful_id, consecutive_failures, current_ceiling, stopped
		FROM speculation_state WHERE slot_key = ?`, slotKey)
	var st SpeculationState
	err := row.Scan(&st.SlotKey, &st.HighestSuccessfulID, &st.ConsecutiveFailures, &st.CurrentCeiling, &st.Stopped)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load_speculation_state(%s): %w", slotKey, err)
	}
	return &st, nil
}

// LoadAllSpeculationStates loads every slot's persisted state.
func (s *Store) LoadAllSpeculationStates(ctx context.Context) (map[string]*SpeculationState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slot_key, highest_successful_id, consecutive_failures, current_ceiling, stopped
		FROM speculation_state`)
	if err != nil {
		return nil, fmt.Errorf("store: load_all_speculation_states: %w", err)
	}
	defer rows.Close()

	out := map[string]*SpeculationState{}
	for rows.Next() {
		var st SpeculationState
		if err := rows.Scan(&st.SlotKey, &st.HighestSuccessfulID, &st.ConsecutiveFailures, &st.CurrentCeiling, &st.Stopped); err != nil {
			return nil, err
		}
		out[st.SlotKey] = &st
	}
	return out, rows.Err()
}
