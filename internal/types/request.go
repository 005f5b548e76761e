// Package types defines the core entities persisted by the driver: requests,
// responses, results, errors, estimates, and the speculation/rate-limiter
// state rows described by the store schema.
package types

import "time"

// Status is the lifecycle state of a Request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusHeld       Status = "held"
)

// Kind controls how a Request's response is stored/processed.
type Kind string

const (
	KindNavigating    Kind = "navigating"
	KindNonNavigating Kind = "non_navigating"
	KindArchive       Kind = "archive"
	KindResume        Kind = "resume"
)

// DefaultPriority is the priority assigned to a request unless a step
// overrides it. Smaller values are dequeued earlier.
const DefaultPriority = 9

// SpeculationID links a Request to a speculation slot.
type SpeculationID struct {
	FunctionName string
	Integer      int
}

// Request is the unit of work dequeued by a worker and handed to the Fetcher.
type Request struct {
	ID           int64
	Status       Status
	Priority     int
	QueueCounter int64
	Kind         Kind

	Method  string
	URL     string
	Headers map[string][]string
	Cookies map[string]string
	Body    []byte

	Continuation    string
	CurrentLocation string
	AccumulatedData map[string]any
	AuxData         map[string]any
	Permanent       map[string]any
	DedupKey        string
	ParentRequestID *int64
	IsSpeculative   bool
	SpeculationID   *SpeculationID
	ExpectedType    string

	RetryCount        int
	CumulativeBackoff time.Duration
	NextRetryDelay    time.Duration
	LastError         string
	NotBefore         *time.Time

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	CreatedAtNS   int64
	StartedAtNS   int64
	CompletedAtNS int64
}

// IsScheduled reports whether the request's not_before lies in the future.
func (r *Request) IsScheduled(now time.Time) bool {
	return r.NotBefore != nil && r.NotBefore.After(now)
}
