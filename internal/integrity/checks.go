// Package integrity implements the read-only operator checks described by
// spec §4.7: orphan/ghost/estimate validation and summary stats, all built
// atop internal/store's read queries, plus a Prometheus collector exposing
// them as gauges. Grounded on the teacher's internal/observability/
// metrics.go ("operational metrics for the crawler") translated from its
// hand-rolled text exposition into a real prometheus/client_golang
// Collector — client_golang already sits in the teacher's go.mod but was
// never imported by any package, so this is the first component to wire it.
package integrity

import (
	"context"
	"fmt"

	"github.com/waylight/kestrel/internal/store"
	"github.com/waylight/kestrel/internal/types"
)

// Store is the subset of *store.Store the integrity checks read from.
type Store interface {
	OrphanedCompletedRequests(ctx context.Context) ([]int64, error)
	OrphanedResponses(ctx context.Context) ([]int64, error)
	GhostRequests(ctx context.Context) ([]types.GhostReport, error)
	QueueStatusCounts(ctx context.Context) ([]types.QueueStatusCount, error)
	CompressionRatioByContinuation(ctx context.Context) (map[string][2]int64, error)
	AllEstimates(ctx context.Context) ([]*types.Estimate, error)
	CountResultsByTypeInSubtree(ctx context.Context, requestID int64, expectedTypes []string) (int, error)
	ResultTypeCounts(ctx context.Context) (map[string]types.ResultTypeCount, error)
	ErrorTypeCounts(ctx context.Context) (map[types.ErrorType]types.ErrorTypeCount, error)
}

var _ Store = (*store.Store)(nil)

// SpeculationProgress is the narrow slice of speculate.Engine the Checker
// consults for the speculation-progress summary stat.
type SpeculationProgress interface {
	Progress(ctx context.Context) ([]types.SpeculationProgress, error)
}

// Checker runs the three read-only integrity checks and the summary stats
// view (spec §4.7). All methods are safe to call concurrently with an
// active scrape or an active run — they issue plain SELECTs.
type Checker struct {
	store Store
	spec  SpeculationProgress // nil if the scraper declares no speculative entries
}

// NewChecker builds a Checker. spec may be nil.
func NewChecker(s Store, spec SpeculationProgress) *Checker {
	return &Checker{store: s, spec: spec}
}

// Orphans reports completed requests with no response, and responses whose
// request no longer exists (spec §4.7 "Orphan check").
func (c *Checker) Orphans(ctx context.Context) ([]types.OrphanReport, error) {
	var out []types.OrphanReport

	completed, err := c.store.OrphanedCompletedRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: orphans: %w", err)
	}
	for _, id := range completed {
		out = append(out, types.OrphanReport{Kind: "completed_without_response", RequestID: id})
	}

	responses, err := c.store.OrphanedResponses(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: orphans: %w", err)
	}
	for _, id := range responses {
		out = append(out, types.OrphanReport{Kind: "response_without_request", RequestID: id})
	}

	return out, nil
}

// Ghosts reports completed requests with neither children nor results
// (spec §4.7 "Ghost check").
func (c *Checker) Ghosts(ctx context.Context) ([]types.GhostReport, error) {
	reports, err := c.store.GhostRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: ghosts: %w", err)
	}
	return reports, nil
}

// Estimates walks every stored Estimate's subtree (via parent_request_id)
// and reports whether the Result counts it predicted actually held (spec
// §4.7 "Estimate check").
func (c *Checker) Estimates(ctx context.Context) ([]types.EstimateCheckResult, error) {
	estimates, err := c.store.AllEstimates(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: estimates: %w", err)
	}

	out := make([]types.EstimateCheckResult, 0, len(estimates))
	for _, e := range estimates {
		actual, err := c.store.CountResultsByTypeInSubtree(ctx, e.RequestID, e.ExpectedTypes)
		if err != nil {
			return nil, fmt.Errorf("integrity: estimates: counting subtree for request %d: %w", e.RequestID, err)
		}
		passed := actual >= e.MinCount && (e.MaxCount == nil || actual <= *e.MaxCount)
		out = append(out, types.EstimateCheckResult{
			RequestID:     e.RequestID,
			ExpectedTypes: e.ExpectedTypes,
			MinCount:      e.MinCount,
			MaxCount:      e.MaxCount,
			ActualCount:   actual,
			Passed:        passed,
		})
	}
	return out, nil
}

// Stats is the summary view spec §4.7 describes: queue counts by status x
// continuation, compression ratios, per-type Result/Error counts, and a
// speculation progress snapshot.
type Stats struct {
	QueueStatus        []types.QueueStatusCount
	CompressionRatios  map[string][2]int64
	ResultTypeCounts   map[string]types.ResultTypeCount
	ErrorTypeCounts    map[types.ErrorType]types.ErrorTypeCount
	Speculation        []types.SpeculationProgress
}

// Summary gathers every component of the Stats view in one call.
func (c *Checker) Summary(ctx context.Context) (*Stats, error) {
	queueStatus, err := c.store.QueueStatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: summary: %w", err)
	}
	ratios, err := c.store.CompressionRatioByContinuation(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: summary: %w", err)
	}
	resultCounts, err := c.store.ResultTypeCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: summary: %w", err)
	}
	errorCounts, err := c.store.ErrorTypeCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: summary: %w", err)
	}

	var specProgress []types.SpeculationProgress
	if c.spec != nil {
		specProgress, err = c.spec.Progress(ctx)
		if err != nil {
			return nil, fmt.Errorf("integrity: summary: speculation progress: %w", err)
		}
	}

	return &Stats{
		QueueStatus:       queueStatus,
		CompressionRatios: ratios,
		ResultTypeCounts:  resultCounts,
		ErrorTypeCounts:   errorCounts,
		Speculation:       specProgress,
	}, nil
}
