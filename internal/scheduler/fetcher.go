// Package scheduler implements the N-worker Scheduler described by spec
// §4.5: cooperating workers with no shared in-memory queue, pulling work
// from the Store, applying the Rate Limiter, invoking the Fetcher and Step
// Runtime, and dispatching yields back into Store writes. Grounded on the
// teacher's internal/engine/{engine,scheduler}.go worker-pool shape,
// adapted so the Store (not an in-memory frontier) is the single source of
// queue truth.
package scheduler

import (
	"context"

	"github.com/waylight/kestrel/internal/types"
)

// FetchResult is a successful Fetcher execution (spec §6.1).
type FetchResult struct {
	StatusCode  int
	Headers     map[string][]string
	FinalURL    string
	Body        []byte
	Incidentals []*types.IncidentalRequest
}

// Fetcher executes a prepared Request. Implementations (HTTP, browser) both
// satisfy this one contract; errors must be one of *types.TransientError,
// *types.StructuralAssumptionError, or *types.FatalError so the Retry Policy
// can classify them without a type assertion on an unknown type.
type Fetcher interface {
	Execute(ctx context.Context, req *types.Request) (*FetchResult, error)
}
