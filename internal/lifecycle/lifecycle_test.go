package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/waylight/kestrel/internal/codec"
	"github.com/waylight/kestrel/internal/ratelimit"
	"github.com/waylight/kestrel/internal/scheduler"
	"github.com/waylight/kestrel/internal/step"
	"github.com/waylight/kestrel/internal/store"
	"github.com/waylight/kestrel/internal/types"
	"log/slog"
)

type fakeFetcher struct{}

func (fakeFetcher) Execute(ctx context.Context, req *types.Request) (*scheduler.FetchResult, error) {
	return &scheduler.FetchResult{StatusCode: 200, FinalURL: req.URL, Body: []byte("<html></html>")}, nil
}

func parseNoop(resp *types.Response, accumulatedData map[string]any) ([]types.Yield, error) {
	return []types.Yield{{Kind: types.YieldParsedData, ParsedData: &types.ParsedData{ResultType: "Item", Data: accumulatedData, Valid: true}}}, nil
}

func newTestRuntime(t *testing.T) (*Runtime, *store.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "kestrel.db"), false)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	registry := step.NewRegistry()
	st, err := step.Register(step.Metadata{Name: "parse_home"}, parseNoop, []string{"response", "accumulated_data"})
	if err != nil {
		t.Fatalf("registering step: %v", err)
	}
	if err := registry.Add(st); err != nil {
		t.Fatalf("adding step: %v", err)
	}

	c, err := codec.New(4)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		InitialTokens:       10,
		InitialRate:         1000,
		BucketSize:          10,
		MinRate:             1,
		MaxRate:             1000,
		SuccessStreakToGrow: 1000,
	}, nil)

	sch := scheduler.New(s, fakeFetcher{}, limiter, c, registry, nil, nil, scheduler.Config{
		NumWorkers:      1,
		BaseDelay:       time.Millisecond,
		MaxBackoff:      10 * time.Millisecond,
		MaxTotalBackoff: time.Second,
		MaxRetries:      3,
		DrainPollEvery:  10 * time.Millisecond,
	}, slog.Default())

	rt := &Runtime{Store: s, Scheduler: sch, Limiter: limiter, Logger: slog.Default(), directEntries: map[string]DirectEntry{
		"seed_home": func(params map[string]any) (*types.Request, error) {
			return &types.Request{URL: "https://example.com", Continuation: "parse_home"}, nil
		},
	}}
	return rt, s
}

func TestSeedNilRunsAllDirectEntries(t *testing.T) {
	rt, s := newTestRuntime(t)
	ctx := context.Background()

	if err := rt.Seed(ctx, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req, err := s.DequeueNext(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if req.URL != "https://example.com" {
		t.Errorf("expected seeded request, got %+v", req)
	}
}

func TestSeedEmptySliceRunsNothing(t *testing.T) {
	rt, s := newTestRuntime(t)
	ctx := context.Background()

	if err := rt.Seed(ctx, []SeedInvocation{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := s.DequeueNext(ctx)
	if err != types.ErrNotFound {
		t.Errorf("expected no requests queued, got err=%v", err)
	}
}

func TestRunDrainsAndMarksCompleted(t *testing.T) {
	rt, s := newTestRuntime(t)
	ctx := context.Background()
	stopEvent := make(chan struct{})

	err := rt.Run(ctx, nil, stopEvent)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	meta, err := s.LoadRunMetadata(ctx)
	if err != nil {
		t.Fatalf("load run metadata: %v", err)
	}
	if meta.Status != types.RunCompleted {
		t.Errorf("expected status completed, got %s", meta.Status)
	}
}
