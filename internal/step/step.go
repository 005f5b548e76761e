// Package step implements the Step Runtime (spec §4.4): step discovery and
// metadata, and argument injection by parameter name; the scheduler
// dispatches a step's yielded sequence into Store writes. Grounded on the metadata shapes in
// _examples/original_source/kent/common/decorators.py (StepMetadata,
// SpeculateMetadata) and on the teacher's reflection-free but
// interface-driven step dispatch in internal/pipeline.
package step

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/waylight/kestrel/internal/parse"
	"github.com/waylight/kestrel/internal/types"
)

// Metadata describes one step's declared behavior, mirroring the Python
// original's StepMetadata decorator arguments.
type Metadata struct {
	Name            string
	Priority        int
	Encoding        string
	XSDPath         string
	JSONModel       string
	AwaitList       []string
	AutoAwaitTimeout time.Duration // browser mode: retry a structural failure after this long
	AutoAwaitLimit   int           // max retries under auto_await_timeout
}

// Capability is a bitset describing which injected parameters a step's
// signature asks for, computed once at registration from the declared
// parameter names so the runtime never re-inspects the function on every call.
type Capability uint32

const (
	CapResponse Capability = 1 << iota
	CapRequest
	CapPreviousRequest
	CapAccumulatedData
	CapAuxData
	CapText
	CapJSONContent
	CapPage
	CapLocalFilepath
)

// paramCapabilities maps the fixed injectable parameter names (spec §4.4.2)
// to their capability bit. A step's parameter names must all appear here;
// anything else is a fatal scraper-authoring error (types.ErrUnknownParameter).
var paramCapabilities = map[string]Capability{
	"response":         CapResponse,
	"request":          CapRequest,
	"previous_request":  CapPreviousRequest,
	"accumulated_data":  CapAccumulatedData,
	"aux_data":          CapAuxData,
	"text":              CapText,
	"json_content":      CapJSONContent,
	"lxml_tree":         CapPage,
	"page":              CapPage,
	"local_filepath":    CapLocalFilepath,
}

// Step is a registered scraper method: its metadata, the capability bitset
// derived from its declared parameter names, and the function itself.
type Step struct {
	Meta   Metadata
	Caps   Capability
	Params []string // parameter names in declaration order, for building the call

	fn reflect.Value
}

// Register builds a Step from a Go function value whose parameter names are
// supplied explicitly (Go reflection cannot recover argument names, unlike
// Python's inspect.signature, so the scraper declares them alongside the
// func). fn must be a func(...) ([]types.Yield, error); Register maps
// paramNames positionally onto its declared parameters. Only the parameter
// count is checked at registration; the parameter and return types are not.
func Register(meta Metadata, fn any, paramNames []string) (*Step, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("step: %s: fn must be a function, got %s", meta.Name, v.Kind())
	}
	if v.Type().NumIn() != len(paramNames) {
		return nil, fmt.Errorf("step: %s: function takes %d parameters but %d names were declared",
			meta.Name, v.Type().NumIn(), len(paramNames))
	}

	var caps Capability
	for _, name := range paramNames {
		bit, ok := paramCapabilities[name]
		if !ok {
			return nil, fmt.Errorf("step: %s: %w: %q", meta.Name, types.ErrUnknownParameter, name)
		}
		caps |= bit
	}

	if meta.Priority == 0 {
		meta.Priority = types.DefaultPriority
	}
	if meta.Encoding == "" {
		meta.Encoding = "utf-8"
	}

	return &Step{Meta: meta, Caps: caps, Params: paramNames, fn: v}, nil
}

// Args bundles every value the runtime can inject; Invoke selects only the
// ones the step's signature declared, in declared order.
type Args struct {
	Response        *types.Response
	Request         *types.Request
	PreviousRequest *types.Request
	AccumulatedData map[string]any
	AuxData         map[string]any
	Content         []byte
	LocalFilepath   string
}

// Invoke builds the step's actual argument list from Args and calls it,
// decoding Content into text/json/page forms only for the capabilities the
// step declared (spec §4.4.2: the runtime "prepares exactly the arguments
// it asks for").
func (s *Step) Invoke(ctx context.Context, args Args) ([]types.Yield, error) {
	in := make([]reflect.Value, len(s.Params))
	for i, name := range s.Params {
		val, err := s.resolveParam(name, args)
		if err != nil {
			return nil, err
		}
		in[i] = reflect.ValueOf(val)
	}

	out := s.fn.Call(in)
	yields, _ := out[0].Interface().([]types.Yield)
	if len(out) > 1 && !out[1].IsNil() {
		return yields, out[1].Interface().(error)
	}
	return yields, nil
}

func (s *Step) resolveParam(name string, args Args) (any, error) {
	switch name {
	case "response":
		return args.Response, nil
	case "request":
		return args.Request, nil
	case "previous_request":
		return args.PreviousRequest, nil
	case "accumulated_data":
		return args.AccumulatedData, nil
	case "aux_data":
		return args.AuxData, nil
	case "text":
		return string(args.Content), nil
	case "json_content":
		var v any
		if err := json.Unmarshal(args.Content, &v); err != nil {
			return nil, &types.StructuralAssumptionError{
				Selector: "json_content", ExpectedMin: 1, ActualCount: 0,
				Sample: truncate(string(args.Content), 200), URL: requestURL(args.Request),
			}
		}
		return v, nil
	case "lxml_tree", "page":
		url := requestURL(args.Request)
		page, err := parse.NewPage(url, args.Content)
		if err != nil {
			return nil, fmt.Errorf("step: %s: parsing page for %q: %w", s.Meta.Name, name, err)
		}
		return page, nil
	case "local_filepath":
		return args.LocalFilepath, nil
	default:
		return nil, fmt.Errorf("step: %s: %w: %q", s.Meta.Name, types.ErrUnknownParameter, name)
	}
}

func requestURL(r *types.Request) string {
	if r == nil {
		return ""
	}
	return r.URL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
