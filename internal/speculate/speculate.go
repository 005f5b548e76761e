// Package speculate implements the Speculation Engine (spec §4.6): adaptive
// enumeration over an integer id space for entry points marked speculative.
// Grounded directly on the Python original's SpeculationMixin
// (_examples/original_source/kent/driver/dev_driver/_speculation.py):
// seed/extend/track-outcome share its shape, translated from asyncio
// per-slot locks to Go per-slot mutexes.
package speculate

import (
	"context"
	"fmt"
	"sync"

	"github.com/waylight/kestrel/internal/store"
	"github.com/waylight/kestrel/internal/types"
)

// EntryFunc builds a Request for one candidate id (and, for yearly slots,
// one year). It is the user scraper's speculative entry point.
type EntryFunc func(year *int, id int) (*types.Request, error)

// FailsSuccessfullyFunc is consulted for a 2xx Response: it returns true for
// a genuine hit and false for a soft failure (e.g. a "not found" page served
// with 200 OK). Default behavior (nil) treats every 2xx as a genuine hit.
type FailsSuccessfullyFunc func(resp *types.Response) bool

// Partition is one declared sub-range of a yearly slot's id space.
type Partition struct {
	Year        int
	Start       int
	End         int
	Frozen      bool
}

// SlotConfig is the per-slot configuration supplied by the scraper.
type SlotConfig struct {
	FunctionName       string
	Yearly             bool
	HighestObserved    int
	LargestObservedGap int // "plus": max tolerated consecutive-failure run
	Partitions         []Partition // yearly mode only
	Entry              EntryFunc
	FailsSuccessfully  FailsSuccessfullyFunc
}

func (c SlotConfig) plus() int {
	if c.LargestObservedGap <= 0 {
		return 1
	}
	return c.LargestObservedGap
}

// slotStore is the subset of *store.Store the engine needs.
type slotStore interface {
	LoadSpeculationState(ctx context.Context, slotKey string) (*store.SpeculationState, error)
	LoadAllSpeculationStates(ctx context.Context) (map[string]*store.SpeculationState, error)
	SaveSpeculationState(ctx context.Context, st *store.SpeculationState) error
	InsertRequest(ctx context.Context, fields *types.Request) (int64, error)
}

var _ slotStore = (*store.Store)(nil)

// Engine tracks every declared speculative slot and serialises state updates
// per slot, matching the per-slot asyncio.Lock in the Python original.
type Engine struct {
	s     slotStore
	slots map[string]SlotConfig

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds an Engine over the given slot declarations, keyed by
// FunctionName (simple mode) or FunctionName (yearly mode; the year is
// folded into the slot key at runtime).
func New(s slotStore, slots []SlotConfig) *Engine {
	byName := make(map[string]SlotConfig, len(slots))
	locks := make(map[string]*sync.Mutex, len(slots))
	for _, sl := range slots {
		byName[sl.FunctionName] = sl
		locks[sl.FunctionName] = &sync.Mutex{}
	}
	return &Engine{s: s, slots: byName, locks: locks}
}

func slotKey(functionName string, year *int) string {
	if year == nil {
		return functionName
	}
	return fmt.Sprintf("%s:%d", functionName, *year)
}

func (e *Engine) lockFor(functionName string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[functionName]
	if !ok {
		l = &sync.Mutex{}
		e.locks[functionName] = l
	}
	return l
}

// Seed runs the seeding pass over every non-stopped declared slot, per spec
// §4.6 "Seeding (on start / resume)". It is idempotent across restarts: each
// slot resumes from its persisted current_ceiling.
func (e *Engine) Seed(ctx context.Context) error {
	for name, cfg := range e.slots {
		if !cfg.Yearly {
			if err := e.seedSimple(ctx, name, cfg); err != nil {
				return err
			}
			continue
		}
		for _, part := range cfg.Partitions {
			if err := e.seedPartition(ctx, name, cfg, part); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) seedSimple(ctx context.Context, name string, cfg SlotConfig) error {
	key := slotKey(name, nil)
	lock := e.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	st, err := e.loadOrInit(ctx, key)
	if err != nil {
		return err
	}
	if st.Stopped {
		return nil
	}

	start := 1
	end := cfg.HighestObserved
	if start < st.CurrentCeiling+1 {
		start = st.CurrentCeiling + 1
	}
	for id := start; id <= end; id++ {
		req, err := cfg.Entry(nil, id)
		if err != nil {
			return fmt.Errorf("speculate: seeding %s id %d: %w", name, id, err)
		}
		if err := e.insertSpeculative(ctx, req, key, id); err != nil {
			return err
		}
	}
	if end >= st.CurrentCeiling {
		st.CurrentCeiling = end
	}
	return e.s.SaveSpeculationState(ctx, st)
}

func (e *Engine) seedPartition(ctx context.Context, name string, cfg SlotConfig, part Partition) error {
	year := part.Year
	key := slotKey(name, &year)
	lock := e.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	st, err := e.loadOrInit(ctx, key)
	if err != nil {
		return err
	}
	if st.Stopped {
		return nil
	}

	start := part.Start
	if start < st.CurrentCeiling+1 {
		start = st.CurrentCeiling + 1
	}
	end := part.End
	for id := start; id <= end; id++ {
		req, err := cfg.Entry(&year, id)
		if err != nil {
			return fmt.Errorf("speculate: seeding %s id %d: %w", key, id, err)
		}
		if err := e.insertSpeculative(ctx, req, key, id); err != nil {
			return err
		}
	}
	if end >= st.CurrentCeiling {
		st.CurrentCeiling = end
	}
	if part.Frozen {
		st.Stopped = true
	}
	return e.s.SaveSpeculationState(ctx, st)
}

func (e *Engine) loadOrInit(ctx context.Context, key string) (*store.SpeculationState, error) {
	st, err := e.s.LoadSpeculationState(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("speculate: loading state for %s: %w", key, err)
	}
	if st == nil {
		st = &store.SpeculationState{SlotKey: key}
	}
	return st, nil
}

func (e *Engine) insertSpeculative(ctx context.Context, req *types.Request, key string, id int) error {
	req.IsSpeculative = true
	req.SpeculationID = &types.SpeculationID{FunctionName: key, Integer: id}
	_, err := e.s.InsertRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("speculate: inserting speculative request %s/%d: %w", key, id, err)
	}
	return nil
}

// TrackOutcome classifies a persisted response for a speculative request and
// updates (and persists) the slot's state, extending the ceiling when the
// slot's extension condition is met. The scheduler calls it once a
// speculative fetch succeeds, before the response row is written.
func (e *Engine) TrackOutcome(ctx context.Context, specID types.SpeculationID, resp *types.Response, httpStatus int) error {
	cfg, functionName, year := e.resolveSlot(specID.FunctionName)
	lock := e.lockFor(specID.FunctionName)
	lock.Lock()
	defer lock.Unlock()

	st, err := e.loadOrInit(ctx, specID.FunctionName)
	if err != nil {
		return err
	}

	hit := httpStatus >= 200 && httpStatus < 300
	if hit && cfg.FailsSuccessfully != nil {
		hit = cfg.FailsSuccessfully(resp)
	}

	if hit {
		if specID.Integer > st.HighestSuccessfulID {
			st.HighestSuccessfulID = specID.Integer
		}
		st.ConsecutiveFailures = 0
		if err := e.maybeExtend(ctx, cfg, functionName, year, st); err != nil {
			return err
		}
	} else {
		if specID.Integer > st.HighestSuccessfulID {
			st.ConsecutiveFailures++
			if st.ConsecutiveFailures >= cfg.plus() {
				st.Stopped = true
			}
		}
	}

	return e.s.SaveSpeculationState(ctx, st)
}

func (e *Engine) resolveSlot(slotKey string) (SlotConfig, string, *int) {
	for name, cfg := range e.slots {
		if !cfg.Yearly {
			if slotKey == name {
				return cfg, name, nil
			}
			continue
		}
		for _, p := range cfg.Partitions {
			if fmt.Sprintf("%s:%d", name, p.Year) == slotKey {
				year := p.Year
				return cfg, name, &year
			}
		}
	}
	return SlotConfig{}, slotKey, nil
}

// maybeExtend enqueues the next plus ids once a hit brings
// highest_successful_id within plus of current_ceiling, per spec §4.6
// "Extension". Frozen partitions never extend.
func (e *Engine) maybeExtend(ctx context.Context, cfg SlotConfig, functionName string, year *int, st *store.SpeculationState) error {
	plus := cfg.plus()
	if st.ConsecutiveFailures >= plus {
		return nil
	}
	if st.HighestSuccessfulID < st.CurrentCeiling-plus {
		return nil
	}
	if cfg.Yearly {
		for _, p := range cfg.Partitions {
			if year != nil && p.Year == *year && p.Frozen {
				return nil
			}
		}
	}

	start := st.CurrentCeiling + 1
	end := st.CurrentCeiling + plus
	key := slotKey(functionName, year)
	for id := start; id <= end; id++ {
		req, err := cfg.Entry(year, id)
		if err != nil {
			return fmt.Errorf("speculate: extending %s id %d: %w", key, id, err)
		}
		if err := e.insertSpeculative(ctx, req, key, id); err != nil {
			return err
		}
	}
	st.CurrentCeiling = end
	return nil
}

// Progress returns a read-only snapshot of every known slot's state, for the
// "doctor"/stats views.
func (e *Engine) Progress(ctx context.Context) ([]types.SpeculationProgress, error) {
	states, err := e.s.LoadAllSpeculationStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("speculate: loading progress: %w", err)
	}
	out := make([]types.SpeculationProgress, 0, len(states))
	for _, st := range states {
		out = append(out, types.SpeculationProgress{
			SlotKey:             st.SlotKey,
			HighestSuccessfulID: st.HighestSuccessfulID,
			ConsecutiveFailures: st.ConsecutiveFailures,
			CurrentCeiling:      st.CurrentCeiling,
			Stopped:             st.Stopped,
		})
	}
	return out, nil
}
