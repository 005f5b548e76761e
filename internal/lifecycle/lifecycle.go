// Package lifecycle implements the open/run/shutdown sequence described by
// spec §4.8: opening the Store and rehydrating run state, seeding direct
// entries and speculative slots, running the Scheduler's worker pool to
// drain, and restoring signal handlers on the way out. Grounded on the
// teacher's cmd/webstalk/main.go signal-handling/engine-lifecycle shape
// (runCrawl's SIGINT/SIGTERM goroutine calling eng.Stop(), then eng.Wait()).
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/waylight/kestrel/internal/ratelimit"
	"github.com/waylight/kestrel/internal/scheduler"
	"github.com/waylight/kestrel/internal/speculate"
	"github.com/waylight/kestrel/internal/store"
	"github.com/waylight/kestrel/internal/types"
)

// DirectEntry produces a seed Request for a non-speculative entry point,
// given the operator-supplied parameter bundle for that invocation.
type DirectEntry func(params map[string]any) (*types.Request, error)

// SeedInvocation names one entry point and its parameters, taken from the
// operator's seed params list (spec §4.8 run sequence, step 2).
type SeedInvocation struct {
	EntryFunctionName string
	Params            map[string]any
}

// Runtime bundles every collaborator Open/Run/Shutdown coordinate.
type Runtime struct {
	Store       *store.Store
	Scheduler   *scheduler.Scheduler
	Speculation *speculate.Engine // nil if the scraper declares no speculative entries
	Limiter     *ratelimit.Limiter
	Logger      *slog.Logger

	directEntries map[string]DirectEntry
}

// Options configures Open.
type Options struct {
	DBPath         string
	Resume         bool
	ScraperName    string
	ScraperVersion string
	DirectEntries  map[string]DirectEntry
	InstallSignals bool // false lets the caller opt out of SIGINT/SIGTERM handling
}

// Open runs the open sequence (spec §4.8): open/migrate the Store,
// initialise or rehydrate RunMetadata, and convert in_progress rows back to
// pending when resuming. It does not load persisted speculation or
// rate-limiter state; the returned Runtime has no Scheduler, Speculation
// engine or Limiter set.
// The returned restoreSignals func must be deferred by the caller; it is a
// no-op when InstallSignals is false.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (rt *Runtime, stopEvent <-chan struct{}, restoreSignals func(), err error) {
	s, err := store.Open(ctx, opts.DBPath, opts.Resume)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("lifecycle: opening store: %w", err)
	}

	if err := s.InitRunMetadata(ctx, &types.RunMetadata{
		ScraperName:    opts.ScraperName,
		ScraperVersion: opts.ScraperVersion,
	}); err != nil {
		s.Close()
		return nil, nil, nil, fmt.Errorf("lifecycle: initialising run metadata: %w", err)
	}

	rt = &Runtime{Store: s, Logger: logger, directEntries: opts.DirectEntries}

	stopCh := make(chan struct{})
	restore := func() {}
	if opts.InstallSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig, ok := <-sigCh
			if !ok {
				return
			}
			logger.Info("received signal, stopping", "signal", sig)
			close(stopCh)
		}()
		restore = func() { signal.Stop(sigCh); close(sigCh) }
	}

	return rt, stopCh, restore, nil
}

// Seed dispatches the operator's seed params (spec §4.8 run sequence, step
// 2). A nil seedParams dispatches every direct entry and every speculation
// slot; an empty (non-nil) slice dispatches nothing; otherwise only the
// named entries run.
func (rt *Runtime) Seed(ctx context.Context, seedParams []SeedInvocation) error {
	if seedParams == nil {
		for name, entry := range rt.directEntries {
			if err := rt.dispatchEntry(ctx, name, entry, nil); err != nil {
				return err
			}
		}
		if rt.Speculation != nil {
			return rt.Speculation.Seed(ctx)
		}
		return nil
	}

	for _, inv := range seedParams {
		entry, ok := rt.directEntries[inv.EntryFunctionName]
		if !ok {
			return fmt.Errorf("lifecycle: seed: unknown entry function %q", inv.EntryFunctionName)
		}
		if err := rt.dispatchEntry(ctx, inv.EntryFunctionName, entry, inv.Params); err != nil {
			return err
		}
	}
	return nil
}

func (rt *Runtime) dispatchEntry(ctx context.Context, name string, entry DirectEntry, params map[string]any) error {
	req, err := entry(params)
	if err != nil {
		return fmt.Errorf("lifecycle: seed: entry %q: %w", name, err)
	}
	if req == nil {
		return nil
	}
	_, err = rt.Store.InsertRequest(ctx, req)
	return err
}

// Run executes the run sequence (spec §4.8 steps 1-4): mark the run
// running, seed, spawn the Scheduler's worker pool, wait for drain or
// stopEvent, and set the final run status.
func (rt *Runtime) Run(ctx context.Context, seedParams []SeedInvocation, stopEvent <-chan struct{}) error {
	if err := rt.Store.SetRunStatus(ctx, types.RunRunning, ""); err != nil {
		return fmt.Errorf("lifecycle: setting run status to running: %w", err)
	}

	if err := rt.Seed(ctx, seedParams); err != nil {
		_ = rt.Store.SetRunStatus(ctx, types.RunFailed, err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-stopEvent:
			rt.Scheduler.Stop()
		case <-runCtx.Done():
		}
	}()

	rt.Scheduler.Run(runCtx)

	select {
	case <-stopEvent:
		return rt.Store.SetRunStatus(ctx, types.RunInterrupted, "")
	default:
		return rt.Store.SetRunStatus(ctx, types.RunCompleted, "")
	}
}

// Shutdown persists the rate limiter's final state and closes the store
// (spec §4.8 run sequence, step 5).
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if rt.Limiter != nil {
		if err := rt.Store.SaveRateLimiterState(ctx, rt.Limiter.Snapshot()); err != nil {
			rt.Logger.Error("saving rate limiter state failed", "error", err)
		}
	}
	return rt.Store.Close()
}
