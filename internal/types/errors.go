package types

import "errors"

// Sentinel errors for common store/driver failure modes.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateDedupKey = errors.New("duplicate dedup_key")
	ErrSchemaTooNew      = errors.New("database schema version is newer than this binary supports")
	ErrQueueDrained      = errors.New("queue drained")
	ErrRunStopped        = errors.New("run has been stopped")
	ErrUnknownParameter  = errors.New("unknown step parameter name")
	ErrSlotStopped       = errors.New("speculation slot is stopped")
)

// StructuralAssumptionError is raised when a counted selector's match count
// falls outside [min, max]. It carries the ancestry chain composed by the
// SelectorObserver.
type StructuralAssumptionError struct {
	Selector    string
	Ancestry    string
	ExpectedMin int
	ExpectedMax *int
	ActualCount int
	Sample      string
	URL         string
}

func (e *StructuralAssumptionError) Error() string {
	return "structural assumption violated: " + e.Selector + " (" + e.Ancestry + ")"
}

// ValidationAssumptionError is raised when a ParsedData bundle fails model
// validation. It is not fatal to the Request — the Scheduler records the
// raw fields as an invalid Result instead of failing the request.
type ValidationAssumptionError struct {
	ModelName string
	Errors    []string
	RawFields map[string]any
}

func (e *ValidationAssumptionError) Error() string {
	return "validation failed for " + e.ModelName
}

// TransientError is raised by a Fetcher for retryable network/5xx/429/408/
// timeout conditions.
type TransientError struct {
	StatusCode int
	Message    string
	RetryAfter *int // seconds, from a Retry-After header, if present
}

func (e *TransientError) Error() string { return e.Message }

// FatalError is a non-retryable failure: an unexpected crash inside a step,
// or a fetch failure the Fetcher does not classify as transient.
type FatalError struct {
	Message   string
	Traceback string
}

func (e *FatalError) Error() string { return e.Message }
