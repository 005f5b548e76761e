package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/waylight/kestrel/internal/codec"
	"github.com/waylight/kestrel/internal/ratelimit"
	"github.com/waylight/kestrel/internal/speculate"
	"github.com/waylight/kestrel/internal/step"
	"github.com/waylight/kestrel/internal/types"
)

// Archiver persists archival downloads to disk and records an ArchivedFile
// row, satisfied by internal/archive.Writer. Declared here rather than
// imported directly so the scheduler's tests can supply a fake.
type Archiver interface {
	Save(ctx context.Context, requestID int64, originalURL, expectedType string, content []byte) (*types.ArchivedFile, error)
	FullPath(af *types.ArchivedFile) string
}

// Config mirrors config.SchedulerConfig's retry-policy knobs, kept separate
// from the config package so this package has no import-cycle dependency on
// it.
type Config struct {
	NumWorkers      int
	BaseDelay       time.Duration
	Jitter          float64
	MaxBackoff      time.Duration
	MaxTotalBackoff time.Duration
	MaxRetries      int
	DrainPollEvery  time.Duration
	CodecLevel      int
}

// Scheduler is the N-worker pool described by spec §4.5. Workers share no
// in-memory queue; the Store is the only coordination point.
type Scheduler struct {
	store    Store
	fetcher  Fetcher
	limiter  *ratelimit.Limiter
	codec    *codec.Codec
	registry *step.Registry
	spec     *speculate.Engine // nil if the scraper declares no speculative entries
	archiver Archiver          // nil if the scraper never yields an archive request
	cfg      Config
	logger   *slog.Logger

	stopped     atomic.Bool
	idleWorkers atomic.Int32
	wg          sync.WaitGroup
}

// New builds a Scheduler wired to its collaborators. spec may be nil for
// scrapers with no speculative entries; archiver may be nil for scrapers
// that never yield a Kind-archive request.
func New(s Store, fetcher Fetcher, limiter *ratelimit.Limiter, c *codec.Codec, registry *step.Registry, spec *speculate.Engine, archiver Archiver, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.DrainPollEvery <= 0 {
		cfg.DrainPollEvery = 100 * time.Millisecond
	}
	return &Scheduler{
		store: s, fetcher: fetcher, limiter: limiter, codec: c,
		registry: registry, spec: spec, archiver: archiver, cfg: cfg,
		logger: logger.With("component", "scheduler"),
	}
}

// Stop requests every worker to exit after finishing its current request
// (spec §4.5: "Workers finish their current request... then exit").
func (sch *Scheduler) Stop() {
	sch.stopped.Store(true)
}

// Run spawns cfg.NumWorkers workers and blocks until the queue drains (no
// worker finds work for a sustained period) or Stop is called.
func (sch *Scheduler) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < sch.cfg.NumWorkers; i++ {
		sch.wg.Add(1)
		go sch.worker(ctx, i)
	}

	sch.drainMonitor(ctx, cancel)
	sch.wg.Wait()
}

// drainMonitor cancels the worker context once every worker has reported
// idle (found no dequeueable work) for three consecutive polls, mirroring
// the teacher's idle-streak confirmation in internal/engine/scheduler.go.
func (sch *Scheduler) drainMonitor(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(sch.cfg.DrainPollEvery)
	defer ticker.Stop()
	idleStreak := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sch.stopped.Load() {
				cancel()
				return
			}
			if int(sch.idleWorkers.Load()) >= sch.cfg.NumWorkers {
				idleStreak++
				if idleStreak >= 3 {
					sch.logger.Info("queue drained")
					cancel()
					return
				}
			} else {
				idleStreak = 0
			}
		}
	}
}

func (sch *Scheduler) worker(ctx context.Context, id int) {
	defer sch.wg.Done()
	logger := sch.logger.With("worker_id", id)

	for {
		if sch.stopped.Load() {
			return
		}

		req, err := sch.store.DequeueNext(ctx)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				sch.idleWorkers.Add(1)
				select {
				case <-ctx.Done():
					sch.idleWorkers.Add(-1)
					return
				case <-time.After(sch.cfg.DrainPollEvery):
				}
				sch.idleWorkers.Add(-1)
				continue
			}
			logger.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(sch.cfg.DrainPollEvery):
			}
			continue
		}

		sch.processRequest(ctx, logger, req)
	}
}

// processRequest runs one full iteration of the worker loop body (spec
// §4.5 steps 3-10) for a single dequeued request.
func (sch *Scheduler) processRequest(ctx context.Context, logger *slog.Logger, req *types.Request) {
	logger = logger.With("request_id", req.ID, "url", req.URL)

	if err := sch.limiter.Acquire(ctx); err != nil {
		logger.Warn("rate limiter acquire interrupted", "error", err)
		return
	}

	result, fetchErr := sch.fetcher.Execute(ctx, req)

	statusCode := 0
	if result != nil {
		statusCode = result.StatusCode
	}
	sch.limiter.OnResponse(statusCode, isConnectionCongestion(fetchErr))

	if fetchErr != nil {
		sch.handleError(ctx, logger, req, fetchErr)
		return
	}

	if req.IsSpeculative && sch.spec != nil && req.SpeculationID != nil {
		resp := &types.Response{StatusCode: result.StatusCode}
		if err := sch.spec.TrackOutcome(ctx, *req.SpeculationID, resp, result.StatusCode); err != nil {
			logger.Warn("speculation outcome tracking failed", "error", err)
		}
	}

	respID, err := sch.persistResponse(ctx, req, result)
	if err != nil {
		logger.Error("persisting response failed", "error", err)
		sch.failFatal(ctx, req, &types.FatalError{Message: err.Error()})
		return
	}

	for _, ir := range result.Incidentals {
		ir.ParentRequestID = req.ID
		if _, err := sch.store.StoreIncidentalRequest(ctx, ir); err != nil {
			logger.Warn("storing incidental request failed", "error", err)
		}
	}

	// Archive requests stream the response body to disk rather than into
	// the Response row (spec §4.4.6); the step registered for this
	// continuation receives the saved file's path as local_filepath.
	var localFilepath string
	if req.Kind == types.KindArchive {
		if sch.archiver == nil {
			sch.failFatal(ctx, req, &types.FatalError{Message: "scheduler: request is kind=archive but no archiver is configured"})
			return
		}
		af, err := sch.archiver.Save(ctx, req.ID, req.URL, req.ExpectedType, result.Body)
		if err != nil {
			logger.Error("archiving response body failed", "error", err)
			sch.failFatal(ctx, req, &types.FatalError{Message: err.Error()})
			return
		}
		localFilepath = sch.archiver.FullPath(af)
	}

	if err := sch.runStep(ctx, logger, req, respID, result, localFilepath); err != nil {
		sch.handleError(ctx, logger, req, err)
		return
	}

	if err := sch.store.MarkCompleted(ctx, req.ID); err != nil {
		logger.Error("mark_completed failed", "error", err)
	}
}

// persistResponse stores the response's metadata and, for non-archive
// requests, its compressed body. Archive requests' bodies are instead
// streamed to disk by the archiver (spec §4.4.6), so the Response row
// carries no content for them.
func (sch *Scheduler) persistResponse(ctx context.Context, req *types.Request, result *FetchResult) (int64, error) {
	var compressed []byte
	var dictID *int64
	if req.Kind != types.KindArchive {
		var err error
		compressed, dictID, err = sch.codec.CompressResponse(ctx, sch.store, result.Body, req.Continuation, sch.cfg.CodecLevel)
		if err != nil {
			return 0, fmt.Errorf("scheduler: compressing response: %w", err)
		}
	}

	resp := &types.Response{
		RequestID:             req.ID,
		StatusCode:            result.StatusCode,
		Headers:               result.Headers,
		URL:                   result.FinalURL,
		ContentCompressed:     compressed,
		ContentSizeOriginal:   len(result.Body),
		ContentSizeCompressed: len(compressed),
		CompressionDictID:     dictID,
		Continuation:          req.Continuation,
	}
	id, err := sch.store.StoreResponse(ctx, resp)
	if err != nil {
		return 0, fmt.Errorf("scheduler: storing response: %w", err)
	}
	return id, nil
}

// runStep invokes the step registered for req's continuation and dispatches
// every yield into a Store write (spec §4.5 step 8). localFilepath is
// non-empty only for a completed archive request.
func (sch *Scheduler) runStep(ctx context.Context, logger *slog.Logger, req *types.Request, respID int64, result *FetchResult, localFilepath string) error {
	s, ok := sch.registry.Get(req.Continuation)
	if !ok {
		return fmt.Errorf("scheduler: no step registered for continuation %q", req.Continuation)
	}

	var previous *types.Request
	if req.ParentRequestID != nil {
		parent, err := sch.store.GetRequest(ctx, *req.ParentRequestID)
		if err != nil {
			logger.Warn("loading previous_request failed", "parent_request_id", *req.ParentRequestID, "error", err)
		} else {
			previous = parent
		}
	}

	resp := &types.Response{ID: respID, RequestID: req.ID, StatusCode: result.StatusCode, Headers: result.Headers, URL: result.FinalURL}
	yields, err := s.Invoke(ctx, step.Args{
		Response:        resp,
		Request:         req,
		PreviousRequest: previous,
		AccumulatedData: req.AccumulatedData,
		AuxData:         req.AuxData,
		Content:         result.Body,
		LocalFilepath:   localFilepath,
	})
	if err != nil {
		return err
	}

	for _, y := range yields {
		if err := sch.dispatchYield(ctx, logger, req, y); err != nil {
			logger.Warn("dispatching yield failed", "error", err)
		}
	}
	return nil
}

func (sch *Scheduler) dispatchYield(ctx context.Context, logger *slog.Logger, parent *types.Request, y types.Yield) error {
	switch y.Kind {
	case types.YieldRequest, types.YieldArchiveRequest:
		child := y.Request
		name, priority, err := sch.registry.ResolveContinuation(child.Continuation, child.Priority)
		if err != nil {
			return err
		}
		child.Continuation = name
		child.Priority = priority
		child.ParentRequestID = &parent.ID
		_, err = sch.store.InsertRequest(ctx, child)
		return err

	case types.YieldParsedData:
		pd := y.ParsedData
		// Target non-nil means the step deferred validation to the runtime
		// (spec §4.4.5); ApplyDeferredValidation overwrites Valid/Data/
		// ValidationErrors with the outcome before this result is persisted.
		step.ApplyDeferredValidation(pd)
		dataJSON, err := json.Marshal(pd.Data)
		if err != nil {
			return fmt.Errorf("scheduler: marshaling parsed data: %w", err)
		}
		validationJSON, err := json.Marshal(pd.ValidationErrors)
		if err != nil {
			validationJSON = []byte("[]")
		}
		_, err = sch.store.StoreResult(ctx, &parent.ID, pd.ResultType, string(dataJSON), pd.Valid, string(validationJSON))
		return err

	case types.YieldEstimate:
		est := y.Estimate
		_, err := sch.store.StoreEstimate(ctx, parent.ID, est.ExpectedTypes, est.MinCount, est.MaxCount)
		return err

	case types.YieldResume:
		// A ResumeSignal recovers a speculative step whose generator context
		// was lost across a restart. Go steps are not resumable generators —
		// each Invoke call runs to completion and returns its full yield
		// list — so there is no generator state to recover here; the signal
		// is logged for operator visibility and otherwise dropped.
		logger.Info("resume signal received for completed-invocation runtime, ignoring", "step", y.Resume.StepName)
		return nil

	default:
		return fmt.Errorf("scheduler: unknown yield kind %d", y.Kind)
	}
}

// handleError runs the Retry Policy (spec §4.5 "Retry policy") for a
// classified error surfaced anywhere in steps 4-8 of the worker loop.
func (sch *Scheduler) handleError(ctx context.Context, logger *slog.Logger, req *types.Request, err error) {
	var transient *types.TransientError
	var structural *types.StructuralAssumptionError
	var fatal *types.FatalError

	switch {
	case errors.As(err, &transient):
		sch.retryTransient(ctx, logger, req, transient)
	case errors.As(err, &structural):
		sch.handleStructural(ctx, logger, req, structural)
	case errors.As(err, &fatal):
		sch.failFatal(ctx, req, fatal)
	default:
		sch.failFatal(ctx, req, &types.FatalError{Message: err.Error()})
	}
}

func (sch *Scheduler) retryTransient(ctx context.Context, logger *slog.Logger, req *types.Request, te *types.TransientError) {
	delay := backoffDelay(sch.cfg.BaseDelay, sch.cfg.MaxBackoff, req.RetryCount, sch.cfg.Jitter)
	cumulative := req.CumulativeBackoff + delay

	if cumulative > sch.cfg.MaxTotalBackoff || req.RetryCount >= sch.cfg.MaxRetries {
		sch.fail(ctx, req, te)
		return
	}

	if err := sch.store.ScheduleRetry(ctx, req.ID, cumulative, delay, te.Error()); err != nil {
		logger.Error("schedule_retry failed", "error", err)
	}
}

// handleStructural applies a step's auto_await_timeout (browser mode): a
// structural miss is retried after the configured delay, up to the step's
// auto_await_limit, before falling back to a stored failure (spec §4.5,
// §4.4.4).
func (sch *Scheduler) handleStructural(ctx context.Context, logger *slog.Logger, req *types.Request, sae *types.StructuralAssumptionError) {
	if s, ok := sch.registry.Get(req.Continuation); ok && s.Meta.AutoAwaitTimeout > 0 && req.RetryCount < s.Meta.AutoAwaitLimit {
		if err := sch.store.ScheduleRetry(ctx, req.ID, req.CumulativeBackoff+s.Meta.AutoAwaitTimeout, s.Meta.AutoAwaitTimeout, sae.Error()); err != nil {
			logger.Error("schedule_retry for auto_await failed", "error", err)
		}
		return
	}
	sch.failStructural(ctx, req, sae)
}

func (sch *Scheduler) failStructural(ctx context.Context, req *types.Request, sae *types.StructuralAssumptionError) {
	_, _ = sch.store.StoreError(ctx, &types.Error{
		RequestID:   &req.ID,
		ErrorType:   types.ErrorStructural,
		ErrorClass:  "StructuralAssumptionError",
		Message:     sae.Error(),
		RequestURL:  sae.URL,
		Selector:    sae.Selector,
		ExpectedMin: &sae.ExpectedMin,
		ExpectedMax: sae.ExpectedMax,
		ActualCount: &sae.ActualCount,
	})
	_ = sch.store.MarkFailed(ctx, req.ID, sae.Error())
}

func (sch *Scheduler) failFatal(ctx context.Context, req *types.Request, fe *types.FatalError) {
	_, _ = sch.store.StoreError(ctx, &types.Error{
		RequestID:  &req.ID,
		ErrorType:  types.ErrorFatal,
		ErrorClass: "FatalError",
		Message:    fe.Error(),
		RequestURL: req.URL,
		Traceback:  fe.Traceback,
	})
	_ = sch.store.MarkFailed(ctx, req.ID, fe.Error())
}

func (sch *Scheduler) fail(ctx context.Context, req *types.Request, te *types.TransientError) {
	_, _ = sch.store.StoreError(ctx, &types.Error{
		RequestID:  &req.ID,
		ErrorType:  types.ErrorTransient,
		ErrorClass: "TransientError",
		Message:    te.Error(),
		RequestURL: req.URL,
		StatusCode: statusCodePtr(te.StatusCode),
	})
	_ = sch.store.MarkFailed(ctx, req.ID, te.Error())
}

// backoffDelay computes min(maxBackoff, base*2^retryCount) * (1 + rand(-jitter, jitter)).
func backoffDelay(base, maxBackoff time.Duration, retryCount int, jitter float64) time.Duration {
	backoff := float64(base)
	for i := 0; i < retryCount; i++ {
		backoff *= 2
		if backoff > float64(maxBackoff) {
			backoff = float64(maxBackoff)
			break
		}
	}
	j := (rand.Float64()*2 - 1) * jitter
	d := time.Duration(backoff * (1 + j))
	if d < 0 {
		d = 0
	}
	return d
}

func isConnectionCongestion(err error) bool {
	var te *types.TransientError
	if errors.As(err, &te) {
		return te.StatusCode == 0 // connection reset/timeout carry no HTTP status
	}
	return false
}

func statusCodePtr(code int) *int {
	if code == 0 {
		return nil
	}
	return &code
}
