package types

// YieldKind discriminates the tagged union a step's yield stream produces.
type YieldKind int

const (
	YieldRequest YieldKind = iota
	YieldParsedData
	YieldEstimate
	YieldArchiveRequest
	YieldResume
)

// ParsedData is a yielded extraction: either a fully-validated model, or a
// deferred-validation bundle of raw fields plus a target model (spec
// §4.4.5). A step that has already validated its own result sets Valid
// directly and leaves Target nil; a step that wants the runtime to validate
// sets Data to the raw field map and Target to a pointer to a struct
// carrying `validate:"..."` tags — the scheduler runs that validation before
// the result is persisted and overwrites Valid/ValidationErrors/Data with
// the outcome.
type ParsedData struct {
	ResultType string
	// Data holds the validated value when Valid is true, or the raw field
	// map when Valid is false (deferred validation failed) or when Target
	// is set and validation has not yet run.
	Data             any
	Valid            bool
	ValidationErrors []string
	// Target, if non-nil, is a pointer to a validate-tagged struct the
	// runtime should populate from Data and validate before Valid is
	// considered authoritative (deferred validation, spec §4.4.5).
	Target any
}

// Yield is one item emitted by a step's lazy sequence. Exactly one of the
// typed fields is populated, selected by Kind.
type Yield struct {
	Kind        YieldKind
	Request     *Request
	ParsedData  *ParsedData
	Estimate    *Estimate
	Resume      *ResumeSignal
}

// ResumeSignal is an internal yield used to recover a speculative step whose
// generator context was lost across a restart.
type ResumeSignal struct {
	StepName           string
	CurrentSpeculative int
}
