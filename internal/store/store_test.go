package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/waylight/kestrel/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kestrel.db")
	s, err := Open(context.Background(), path, false)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndDequeue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InsertRequest(ctx, &types.Request{URL: "https://example.com/a", Continuation: "parse_home"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}

	req, err := s.DequeueNext(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if req.Status != types.StatusInProgress {
		t.Errorf("expected in_progress, got %s", req.Status)
	}
	if req.StartedAt == nil {
		t.Errorf("expected started_at to be set")
	}

	if _, err := s.DequeueNext(ctx); err != types.ErrNotFound {
		t.Errorf("expected ErrNotFound on empty queue, got %v", err)
	}
}

func TestDequeueOrdersByPriorityThenQueueCounter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	lowID, _ := s.InsertRequest(ctx, &types.Request{URL: "https://example.com/low", Priority: 5})
	_, _ = s.InsertRequest(ctx, &types.Request{URL: "https://example.com/high", Priority: 9})

	req, err := s.DequeueNext(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if req.ID != lowID {
		t.Errorf("expected lowest-priority request (%d) first, got %d", lowID, req.ID)
	}
}

func TestDedupKeySilentlyReturnsExistingID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.InsertRequest(ctx, &types.Request{URL: "https://example.com/a", DedupKey: "a"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := s.InsertRequest(ctx, &types.Request{URL: "https://example.com/a-again", DedupKey: "a"})
	if err != nil {
		t.Fatalf("insert dup: %v", err)
	}
	if first != second {
		t.Errorf("expected duplicate insert to return existing id %d, got %d", first, second)
	}
}

func TestScheduledRequestNotDequeuedEarly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	_, err := s.InsertRequest(ctx, &types.Request{URL: "https://example.com/later", NotBefore: &future})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := s.DequeueNext(ctx); err != types.ErrNotFound {
		t.Errorf("expected scheduled request to be invisible, got err=%v", err)
	}
}

func TestResumeConvertsInProgressToPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kestrel.db")
	ctx := context.Background()

	s1, err := Open(ctx, path, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, _ := s1.InsertRequest(ctx, &types.Request{URL: "https://example.com/crash"})
	if _, err := s1.DequeueNext(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	s1.Close()

	s2, err := Open(ctx, path, true)
	if err != nil {
		t.Fatalf("reopen with resume: %v", err)
	}
	defer s2.Close()

	req, err := s2.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.Status != types.StatusPending {
		t.Errorf("expected resumed request to be pending, got %s", req.Status)
	}
	if req.StartedAt != nil {
		t.Errorf("expected started_at cleared on resume")
	}
}

func TestPauseAndResumeStep(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.InsertRequest(ctx, &types.Request{URL: "https://example.com/a", Continuation: "parse_home"})

	if err := s.PauseStep(ctx, "parse_home"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	req, _ := s.GetRequest(ctx, id)
	if req.Status != types.StatusHeld {
		t.Errorf("expected held after pause, got %s", req.Status)
	}
	if _, err := s.DequeueNext(ctx); err != types.ErrNotFound {
		t.Errorf("expected held request to be invisible to dequeue, got %v", err)
	}

	if err := s.ResumeStep(ctx, "parse_home"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	req, _ = s.GetRequest(ctx, id)
	if req.Status != types.StatusPending {
		t.Errorf("expected pending after resume, got %s", req.Status)
	}
}

func TestRequeueRequestWithClearDownstream(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rootID, _ := s.InsertRequest(ctx, &types.Request{URL: "https://example.com/root", Continuation: "parse_home"})
	childID, _ := s.InsertRequest(ctx, &types.Request{URL: "https://example.com/child", ParentRequestID: &rootID})
	if _, err := s.StoreResult(ctx, &rootID, "Item", `{"x":1}`, true, ""); err != nil {
		t.Fatalf("store_result: %v", err)
	}

	newID, err := s.RequeueRequest(ctx, rootID, true)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if newID == rootID {
		t.Fatalf("expected a new request id")
	}

	if _, err := s.GetRequest(ctx, childID); err != types.ErrNotFound {
		t.Errorf("expected child request deleted by clear_downstream, got err=%v", err)
	}

	count, err := s.CountResultsByTypeInSubtree(ctx, rootID, []string{"Item"})
	if err != nil {
		t.Fatalf("count results: %v", err)
	}
	if count != 0 {
		t.Errorf("expected results cleared, found %d", count)
	}
}

func TestSpeculationStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if st, err := s.LoadSpeculationState(ctx, "fetch_record"); err != nil || st != nil {
		t.Fatalf("expected nil state for unseen slot, got %v, %v", st, err)
	}

	want := &SpeculationState{SlotKey: "fetch_record", HighestSuccessfulID: 42, ConsecutiveFailures: 3, CurrentCeiling: 50}
	if err := s.SaveSpeculationState(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadSpeculationState(ctx, "fetch_record")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *got != *want {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestRateLimiterStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if st, err := s.LoadRateLimiterState(ctx); err != nil || st != nil {
		t.Fatalf("expected nil state before first save, got %v, %v", st, err)
	}

	cr := 0.5
	want := &RateLimiterState{Tokens: 1, Rate: 0.1, BucketSize: 4, LastCongestionRate: &cr, Jitter: 2 * time.Second, LastUsedAt: time.Now()}
	if err := s.SaveRateLimiterState(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadRateLimiterState(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Rate != want.Rate || got.BucketSize != want.BucketSize || *got.LastCongestionRate != *want.LastCongestionRate {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestGhostAndOrphanChecksAreReadOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.InsertRequest(ctx, &types.Request{URL: "https://example.com/ghost", Continuation: "parse_home"})
	req, _ := s.DequeueNext(ctx)
	if req.ID != id {
		t.Fatalf("unexpected dequeue order")
	}
	if err := s.MarkCompleted(ctx, id); err != nil {
		t.Fatalf("mark_completed: %v", err)
	}

	ghosts, err := s.GhostRequests(ctx)
	if err != nil {
		t.Fatalf("ghost_requests: %v", err)
	}
	if len(ghosts) != 1 || ghosts[0].RequestID != id {
		t.Errorf("expected exactly one ghost for id %d, got %+v", id, ghosts)
	}

	orphans, err := s.OrphanedCompletedRequests(ctx)
	if err != nil {
		t.Fatalf("orphaned_completed_requests: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != id {
		t.Errorf("expected exactly one orphan for id %d, got %+v", id, orphans)
	}
}
