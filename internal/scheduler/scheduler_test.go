package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/waylight/kestrel/internal/codec"
	"github.com/waylight/kestrel/internal/ratelimit"
	"github.com/waylight/kestrel/internal/step"
	"github.com/waylight/kestrel/internal/types"
)

type fakeStore struct {
	mu sync.Mutex

	pending    []*types.Request
	nextID     int64
	completed  map[int64]bool
	failed     map[int64]string
	retries    map[int64]int
	errors     []*types.Error
	results    []*types.Result
	inserted   []*types.Request
	responses  []*types.Response
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		completed: map[int64]bool{},
		failed:    map[int64]string{},
		retries:   map[int64]int{},
	}
}

func (f *fakeStore) DequeueNext(ctx context.Context) (*types.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, types.ErrNotFound
	}
	req := f.pending[0]
	f.pending = f.pending[1:]
	return req, nil
}

func (f *fakeStore) GetRequest(ctx context.Context, id int64) (*types.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.inserted {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, types.ErrNotFound
}

func (f *fakeStore) MarkCompleted(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = true
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = errMsg
	return nil
}

func (f *fakeStore) ScheduleRetry(ctx context.Context, id int64, cumulativeBackoff, nextDelay time.Duration, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries[id]++
	return nil
}

func (f *fakeStore) InsertRequest(ctx context.Context, fields *types.Request) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	fields.ID = f.nextID
	f.inserted = append(f.inserted, fields)
	return fields.ID, nil
}

func (f *fakeStore) StoreResponse(ctx context.Context, resp *types.Response) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return int64(len(f.responses)), nil
}

func (f *fakeStore) StoreResult(ctx context.Context, requestID *int64, resultType, dataJSON string, isValid bool, validationErrorsJSON string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, &types.Result{RequestID: requestID, ResultType: resultType, DataJSON: dataJSON, IsValid: isValid})
	return int64(len(f.results)), nil
}

func (f *fakeStore) StoreEstimate(ctx context.Context, requestID int64, expectedTypes []string, minCount int, maxCount *int) (int64, error) {
	return 1, nil
}

func (f *fakeStore) StoreError(ctx context.Context, e *types.Error) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, e)
	return int64(len(f.errors)), nil
}

func (f *fakeStore) StoreIncidentalRequest(ctx context.Context, ir *types.IncidentalRequest) (int64, error) {
	return 1, nil
}

func (f *fakeStore) LatestCompressionDict(ctx context.Context, continuation string) (*types.CompressionDict, error) {
	return nil, types.ErrNotFound
}

func (f *fakeStore) GetCompressionDict(ctx context.Context, id int64) (*types.CompressionDict, error) {
	return nil, types.ErrNotFound
}

func (f *fakeStore) InsertCompressionDict(ctx context.Context, continuation string, data []byte, sampleCount int) (*types.CompressionDict, error) {
	return &types.CompressionDict{ID: 1, Continuation: continuation, DictionaryData: data}, nil
}

func (f *fakeStore) SampleResponsesByContinuation(ctx context.Context, continuation string, limit int) ([]*types.Response, error) {
	return nil, nil
}

func (f *fakeStore) AllResponsesByContinuation(ctx context.Context, continuation string) ([]*types.Response, error) {
	return nil, nil
}

func (f *fakeStore) UpdateResponseCompression(ctx context.Context, responseID int64, compressed []byte, sizeCompressed int, dictID *int64) error {
	return nil
}

type fakeFetcher struct {
	result *FetchResult
	err    error
}

func (f *fakeFetcher) Execute(ctx context.Context, req *types.Request) (*FetchResult, error) {
	return f.result, f.err
}

func testLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{InitialTokens: 1000, InitialRate: 1000, BucketSize: 1000, MinRate: 1, MaxRate: 1000}, nil)
}

func parseOK(resp *types.Response, accumulatedData map[string]any) ([]types.Yield, error) {
	return []types.Yield{{Kind: types.YieldParsedData, ParsedData: &types.ParsedData{ResultType: "Item", Data: map[string]any{"ok": true}, Valid: true}}}, nil
}

func newTestRegistry(t *testing.T) *step.Registry {
	t.Helper()
	reg := step.NewRegistry()
	s, err := step.Register(step.Metadata{Name: "parse_home"}, parseOK, []string{"response", "accumulated_data"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Add(s); err != nil {
		t.Fatalf("add: %v", err)
	}
	return reg
}

func TestProcessRequestHappyPathMarksCompleted(t *testing.T) {
	fs := newFakeStore()
	req := &types.Request{ID: 1, URL: "https://example.com", Continuation: "parse_home"}
	c, err := codec.New(8)
	if err != nil {
		t.Fatalf("codec.New: %v", err)
	}
	sch := New(fs, &fakeFetcher{result: &FetchResult{StatusCode: 200, Body: []byte("hello")}},
		testLimiter(), c, newTestRegistry(t), nil, nil,
		Config{NumWorkers: 1, BaseDelay: time.Millisecond, MaxBackoff: time.Second, MaxTotalBackoff: time.Minute, MaxRetries: 3},
		slog.Default())

	sch.processRequest(context.Background(), slog.Default(), req)

	if !fs.completed[1] {
		t.Errorf("expected request 1 marked completed")
	}
	if len(fs.results) != 1 || fs.results[0].ResultType != "Item" {
		t.Errorf("expected one Item result, got %+v", fs.results)
	}
}

func TestProcessRequestTransientErrorSchedulesRetry(t *testing.T) {
	fs := newFakeStore()
	req := &types.Request{ID: 1, URL: "https://example.com", Continuation: "parse_home", RetryCount: 0}
	c, _ := codec.New(8)
	sch := New(fs, &fakeFetcher{err: &types.TransientError{StatusCode: 503, Message: "service unavailable"}},
		testLimiter(), c, newTestRegistry(t), nil, nil,
		Config{NumWorkers: 1, BaseDelay: time.Millisecond, MaxBackoff: time.Second, MaxTotalBackoff: time.Minute, MaxRetries: 3},
		slog.Default())

	sch.processRequest(context.Background(), slog.Default(), req)

	if fs.retries[1] != 1 {
		t.Errorf("expected one scheduled retry, got %d", fs.retries[1])
	}
	if fs.completed[1] || fs.failed[1] != "" {
		t.Errorf("request should be neither completed nor failed while retries remain")
	}
}

func TestProcessRequestTransientErrorFailsAfterMaxRetries(t *testing.T) {
	fs := newFakeStore()
	req := &types.Request{ID: 1, URL: "https://example.com", Continuation: "parse_home", RetryCount: 5}
	c, _ := codec.New(8)
	sch := New(fs, &fakeFetcher{err: &types.TransientError{StatusCode: 503, Message: "service unavailable"}},
		testLimiter(), c, newTestRegistry(t), nil, nil,
		Config{NumWorkers: 1, BaseDelay: time.Millisecond, MaxBackoff: time.Second, MaxTotalBackoff: time.Minute, MaxRetries: 3},
		slog.Default())

	sch.processRequest(context.Background(), slog.Default(), req)

	if fs.failed[1] == "" {
		t.Errorf("expected request marked failed after exceeding max_retries")
	}
	if len(fs.errors) != 1 || fs.errors[0].ErrorType != types.ErrorTransient {
		t.Errorf("expected one transient Error stored, got %+v", fs.errors)
	}
}

func TestProcessRequestStructuralErrorFailsWithoutAutoAwait(t *testing.T) {
	fs := newFakeStore()
	reg := step.NewRegistry()
	failing := func(resp *types.Response, accumulatedData map[string]any) ([]types.Yield, error) {
		return nil, &types.StructuralAssumptionError{Selector: "div.missing", ExpectedMin: 1, ActualCount: 0}
	}
	s, _ := step.Register(step.Metadata{Name: "parse_home"}, failing, []string{"response", "accumulated_data"})
	reg.Add(s)

	req := &types.Request{ID: 1, URL: "https://example.com", Continuation: "parse_home"}
	c, _ := codec.New(8)
	sch := New(fs, &fakeFetcher{result: &FetchResult{StatusCode: 200, Body: []byte("x")}},
		testLimiter(), c, reg, nil, nil,
		Config{NumWorkers: 1, BaseDelay: time.Millisecond, MaxBackoff: time.Second, MaxTotalBackoff: time.Minute, MaxRetries: 3},
		slog.Default())

	sch.processRequest(context.Background(), slog.Default(), req)

	if fs.failed[1] == "" {
		t.Errorf("expected request marked failed for structural assumption error")
	}
	if len(fs.errors) != 1 || fs.errors[0].ErrorType != types.ErrorStructural {
		t.Errorf("expected one structural Error stored, got %+v", fs.errors)
	}
}

func TestProcessRequestYieldedRequestInheritsPriority(t *testing.T) {
	fs := newFakeStore()
	reg := step.NewRegistry()
	detail, _ := step.Register(step.Metadata{Name: "parse_detail", Priority: 4}, parseOK, []string{"response", "accumulated_data"})
	reg.Add(detail)
	yielder := func(resp *types.Response, accumulatedData map[string]any) ([]types.Yield, error) {
		return []types.Yield{{Kind: types.YieldRequest, Request: &types.Request{
			URL: "https://example.com/detail", Continuation: "parse_detail", Priority: types.DefaultPriority,
		}}}, nil
	}
	home, _ := step.Register(step.Metadata{Name: "parse_home"}, yielder, []string{"response", "accumulated_data"})
	reg.Add(home)

	req := &types.Request{ID: 1, URL: "https://example.com", Continuation: "parse_home"}
	c, _ := codec.New(8)
	sch := New(fs, &fakeFetcher{result: &FetchResult{StatusCode: 200, Body: []byte("x")}},
		testLimiter(), c, reg, nil, nil,
		Config{NumWorkers: 1, BaseDelay: time.Millisecond, MaxBackoff: time.Second, MaxTotalBackoff: time.Minute, MaxRetries: 3},
		slog.Default())

	sch.processRequest(context.Background(), slog.Default(), req)

	if len(fs.inserted) != 1 {
		t.Fatalf("expected one inserted child request, got %d", len(fs.inserted))
	}
	if fs.inserted[0].Priority != 4 {
		t.Errorf("expected inherited priority 4, got %d", fs.inserted[0].Priority)
	}
	if fs.inserted[0].ParentRequestID == nil || *fs.inserted[0].ParentRequestID != 1 {
		t.Errorf("expected parent_request_id 1, got %v", fs.inserted[0].ParentRequestID)
	}
}

func TestRunDrainsWhenQueueEmpty(t *testing.T) {
	fs := newFakeStore()
	fs.pending = []*types.Request{{ID: 1, URL: "https://example.com", Continuation: "parse_home"}}
	c, _ := codec.New(8)
	sch := New(fs, &fakeFetcher{result: &FetchResult{StatusCode: 200, Body: []byte("x")}},
		testLimiter(), c, newTestRegistry(t), nil, nil,
		Config{NumWorkers: 2, BaseDelay: time.Millisecond, MaxBackoff: time.Second, MaxTotalBackoff: time.Minute, MaxRetries: 3, DrainPollEvery: 10 * time.Millisecond},
		slog.Default())

	done := make(chan struct{})
	go func() {
		sch.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not drain within timeout")
	}

	if !fs.completed[1] {
		t.Errorf("expected the single queued request to complete before drain")
	}
}

type fakeArchiver struct {
	saved []byte
	af    *types.ArchivedFile
}

func (f *fakeArchiver) Save(ctx context.Context, requestID int64, originalURL, expectedType string, content []byte) (*types.ArchivedFile, error) {
	f.saved = content
	f.af = &types.ArchivedFile{ID: 1, RequestID: requestID, FilePath: "ab/cd/abcd", OriginalURL: originalURL, ExpectedType: expectedType, FileSize: int64(len(content))}
	return f.af, nil
}

func (f *fakeArchiver) FullPath(af *types.ArchivedFile) string {
	return "/archives/" + af.FilePath
}

func TestProcessRequestArchiveKindSavesFileAndInjectsLocalFilepath(t *testing.T) {
	fs := newFakeStore()
	reg := step.NewRegistry()
	var gotLocalFilepath string
	archiveStep := func(resp *types.Response, localFilepath string) ([]types.Yield, error) {
		gotLocalFilepath = localFilepath
		return []types.Yield{{Kind: types.YieldParsedData, ParsedData: &types.ParsedData{ResultType: "Opinion", Data: map[string]any{"path": localFilepath}, Valid: true}}}, nil
	}
	s, _ := step.Register(step.Metadata{Name: "archive_opinion"}, archiveStep, []string{"response", "local_filepath"})
	reg.Add(s)

	archiver := &fakeArchiver{}
	req := &types.Request{ID: 1, URL: "https://example.com/opinion.pdf", Continuation: "archive_opinion", Kind: types.KindArchive, ExpectedType: "pdf"}
	c, _ := codec.New(8)
	sch := New(fs, &fakeFetcher{result: &FetchResult{StatusCode: 200, Body: []byte("%PDF-1.4 fake")}},
		testLimiter(), c, reg, nil, archiver,
		Config{NumWorkers: 1, BaseDelay: time.Millisecond, MaxBackoff: time.Second, MaxTotalBackoff: time.Minute, MaxRetries: 3},
		slog.Default())

	sch.processRequest(context.Background(), slog.Default(), req)

	if !fs.completed[1] {
		t.Fatalf("expected archive request marked completed, failed=%q", fs.failed[1])
	}
	if string(archiver.saved) != "%PDF-1.4 fake" {
		t.Errorf("expected archiver to receive the fetched body, got %q", archiver.saved)
	}
	if gotLocalFilepath != "/archives/ab/cd/abcd" {
		t.Errorf("expected step to receive the archiver's full path, got %q", gotLocalFilepath)
	}
	if len(fs.responses) != 1 || fs.responses[0].ContentCompressed != nil {
		t.Errorf("expected archive response to carry no compressed content, got %+v", fs.responses)
	}
}

func TestProcessRequestArchiveKindWithoutArchiverFails(t *testing.T) {
	fs := newFakeStore()
	req := &types.Request{ID: 1, URL: "https://example.com/opinion.pdf", Continuation: "archive_opinion", Kind: types.KindArchive}
	c, _ := codec.New(8)
	sch := New(fs, &fakeFetcher{result: &FetchResult{StatusCode: 200, Body: []byte("x")}},
		testLimiter(), c, newTestRegistry(t), nil, nil,
		Config{NumWorkers: 1, BaseDelay: time.Millisecond, MaxBackoff: time.Second, MaxTotalBackoff: time.Minute, MaxRetries: 3},
		slog.Default())

	sch.processRequest(context.Background(), slog.Default(), req)

	if fs.failed[1] == "" {
		t.Errorf("expected request to fail fatally when kind=archive but no archiver is configured")
	}
}

func TestRunStepPopulatesPreviousRequestFromParent(t *testing.T) {
	fs := newFakeStore()
	parent := &types.Request{ID: 1, URL: "https://example.com/list", Continuation: "parse_home"}
	fs.inserted = append(fs.inserted, parent)

	reg := step.NewRegistry()
	var gotPrevious *types.Request
	detail := func(resp *types.Response, previousRequest *types.Request) ([]types.Yield, error) {
		gotPrevious = previousRequest
		return nil, nil
	}
	s, _ := step.Register(step.Metadata{Name: "parse_detail"}, detail, []string{"response", "previous_request"})
	reg.Add(s)

	parentID := int64(1)
	req := &types.Request{ID: 2, URL: "https://example.com/detail", Continuation: "parse_detail", ParentRequestID: &parentID}
	c, _ := codec.New(8)
	sch := New(fs, &fakeFetcher{result: &FetchResult{StatusCode: 200, Body: []byte("x")}},
		testLimiter(), c, reg, nil, nil,
		Config{NumWorkers: 1, BaseDelay: time.Millisecond, MaxBackoff: time.Second, MaxTotalBackoff: time.Minute, MaxRetries: 3},
		slog.Default())

	sch.processRequest(context.Background(), slog.Default(), req)

	if gotPrevious == nil || gotPrevious.ID != 1 {
		t.Errorf("expected previous_request to resolve to parent request 1, got %+v", gotPrevious)
	}
}
