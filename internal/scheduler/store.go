package scheduler

import (
	"context"
	"time"

	"github.com/waylight/kestrel/internal/store"
	"github.com/waylight/kestrel/internal/types"
)

// Store is the subset of *store.Store the Scheduler needs, so tests can
// supply a fake. Its method set is a superset of codec's dictStore, so a
// Store value can be passed directly wherever the codec package expects one.
type Store interface {
	DequeueNext(ctx context.Context) (*types.Request, error)
	GetRequest(ctx context.Context, id int64) (*types.Request, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	ScheduleRetry(ctx context.Context, id int64, cumulativeBackoff, nextDelay time.Duration, errMsg string) error
	InsertRequest(ctx context.Context, fields *types.Request) (int64, error)

	StoreResponse(ctx context.Context, resp *types.Response) (int64, error)
	StoreResult(ctx context.Context, requestID *int64, resultType, dataJSON string, isValid bool, validationErrorsJSON string) (int64, error)
	StoreEstimate(ctx context.Context, requestID int64, expectedTypes []string, minCount int, maxCount *int) (int64, error)
	StoreError(ctx context.Context, e *types.Error) (int64, error)
	StoreIncidentalRequest(ctx context.Context, ir *types.IncidentalRequest) (int64, error)

	LatestCompressionDict(ctx context.Context, continuation string) (*types.CompressionDict, error)
	GetCompressionDict(ctx context.Context, id int64) (*types.CompressionDict, error)
	InsertCompressionDict(ctx context.Context, continuation string, data []byte, sampleCount int) (*types.CompressionDict, error)
	SampleResponsesByContinuation(ctx context.Context, continuation string, limit int) ([]*types.Response, error)
	AllResponsesByContinuation(ctx context.Context, continuation string) ([]*types.Response, error)
	UpdateResponseCompression(ctx context.Context, responseID int64, compressed []byte, sizeCompressed int, dictID *int64) error
}

var _ Store = (*store.Store)(nil)
