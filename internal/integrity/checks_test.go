package integrity

import (
	"context"
	"testing"

	"github.com/waylight/kestrel/internal/types"
)

type fakeIntegrityStore struct {
	orphanedCompleted []int64
	orphanedResponses []int64
	ghosts            []types.GhostReport
	queueStatus       []types.QueueStatusCount
	ratios            map[string][2]int64
	estimates         []*types.Estimate
	subtreeCounts     map[int64]int
	resultCounts      map[string]types.ResultTypeCount
	errorCounts       map[types.ErrorType]types.ErrorTypeCount
}

func (f *fakeIntegrityStore) OrphanedCompletedRequests(ctx context.Context) ([]int64, error) {
	return f.orphanedCompleted, nil
}
func (f *fakeIntegrityStore) OrphanedResponses(ctx context.Context) ([]int64, error) {
	return f.orphanedResponses, nil
}
func (f *fakeIntegrityStore) GhostRequests(ctx context.Context) ([]types.GhostReport, error) {
	return f.ghosts, nil
}
func (f *fakeIntegrityStore) QueueStatusCounts(ctx context.Context) ([]types.QueueStatusCount, error) {
	return f.queueStatus, nil
}
func (f *fakeIntegrityStore) CompressionRatioByContinuation(ctx context.Context) (map[string][2]int64, error) {
	return f.ratios, nil
}
func (f *fakeIntegrityStore) AllEstimates(ctx context.Context) ([]*types.Estimate, error) {
	return f.estimates, nil
}
func (f *fakeIntegrityStore) CountResultsByTypeInSubtree(ctx context.Context, requestID int64, expectedTypes []string) (int, error) {
	return f.subtreeCounts[requestID], nil
}
func (f *fakeIntegrityStore) ResultTypeCounts(ctx context.Context) (map[string]types.ResultTypeCount, error) {
	return f.resultCounts, nil
}
func (f *fakeIntegrityStore) ErrorTypeCounts(ctx context.Context) (map[types.ErrorType]types.ErrorTypeCount, error) {
	return f.errorCounts, nil
}

func TestOrphansReportsBothKinds(t *testing.T) {
	fs := &fakeIntegrityStore{orphanedCompleted: []int64{1, 2}, orphanedResponses: []int64{3}}
	c := NewChecker(fs, nil)

	reports, err := c.Orphans(context.Background())
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("expected 3 orphan reports, got %d", len(reports))
	}
	var completedCount, responseCount int
	for _, r := range reports {
		switch r.Kind {
		case "completed_without_response":
			completedCount++
		case "response_without_request":
			responseCount++
		}
	}
	if completedCount != 2 || responseCount != 1 {
		t.Errorf("unexpected kind split: completed=%d response=%d", completedCount, responseCount)
	}
}

func TestEstimatesPassAndFail(t *testing.T) {
	max3 := 3
	fs := &fakeIntegrityStore{
		estimates: []*types.Estimate{
			{RequestID: 1, ExpectedTypes: []string{"Item"}, MinCount: 1, MaxCount: &max3},
			{RequestID: 2, ExpectedTypes: []string{"Item"}, MinCount: 5},
		},
		subtreeCounts: map[int64]int{1: 2, 2: 1},
	}
	c := NewChecker(fs, nil)

	results, err := c.Estimates(context.Background())
	if err != nil {
		t.Fatalf("estimates: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Passed {
		t.Errorf("expected request 1's estimate to pass (2 within [1,3])")
	}
	if results[1].Passed {
		t.Errorf("expected request 2's estimate to fail (1 < min 5)")
	}
}

func TestSummaryGathersAllComponents(t *testing.T) {
	fs := &fakeIntegrityStore{
		queueStatus:  []types.QueueStatusCount{{Continuation: "parse_home", Status: types.StatusPending, Count: 4}},
		ratios:       map[string][2]int64{"parse_home": {1000, 250}},
		resultCounts: map[string]types.ResultTypeCount{"Item": {Valid: 10, Invalid: 1}},
		errorCounts:  map[types.ErrorType]types.ErrorTypeCount{types.ErrorTransient: {Resolved: 2, Unresolved: 1}},
	}
	c := NewChecker(fs, nil)

	stats, err := c.Summary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(stats.QueueStatus) != 1 || stats.QueueStatus[0].Count != 4 {
		t.Errorf("unexpected queue status: %+v", stats.QueueStatus)
	}
	if stats.ResultTypeCounts["Item"].Valid != 10 {
		t.Errorf("unexpected result counts: %+v", stats.ResultTypeCounts)
	}
}
