package step

import (
	"context"
	"testing"

	"github.com/waylight/kestrel/internal/types"
)

func parseHome(resp *types.Response, accumulatedData map[string]any) ([]types.Yield, error) {
	return []types.Yield{{Kind: types.YieldParsedData, ParsedData: &types.ParsedData{ResultType: "Item", Data: accumulatedData, Valid: true}}}, nil
}

func TestRegisterComputesCapabilitiesFromParamNames(t *testing.T) {
	s, err := Register(Metadata{Name: "parse_home"}, parseHome, []string{"response", "accumulated_data"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if s.Caps&CapResponse == 0 || s.Caps&CapAccumulatedData == 0 {
		t.Errorf("expected response and accumulated_data capabilities set, got %b", s.Caps)
	}
	if s.Caps&CapPage != 0 {
		t.Errorf("expected page capability unset, got %b", s.Caps)
	}
}

func TestRegisterRejectsUnknownParameterName(t *testing.T) {
	_, err := Register(Metadata{Name: "parse_home"}, parseHome, []string{"response", "bogus_param"})
	if err == nil {
		t.Fatalf("expected error for unknown parameter name")
	}
}

func TestInvokeInjectsOnlyDeclaredArgs(t *testing.T) {
	s, err := Register(Metadata{Name: "parse_home"}, parseHome, []string{"response", "accumulated_data"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	yields, err := s.Invoke(context.Background(), Args{
		Response:        &types.Response{ID: 1},
		AccumulatedData: map[string]any{"x": 1},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(yields) != 1 || yields[0].Kind != types.YieldParsedData {
		t.Fatalf("unexpected yields: %+v", yields)
	}
}

func TestResolveContinuationInheritsPriorityWhenDefault(t *testing.T) {
	reg := NewRegistry()
	s, _ := Register(Metadata{Name: "parse_detail", Priority: 3}, parseHome, []string{"response", "accumulated_data"})
	if err := reg.Add(s); err != nil {
		t.Fatalf("add: %v", err)
	}

	name, priority, err := reg.ResolveContinuation("parse_detail", types.DefaultPriority)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if name != "parse_detail" || priority != 3 {
		t.Errorf("expected inherited priority 3, got name=%s priority=%d", name, priority)
	}
}

func TestResolveContinuationKeepsExplicitPriority(t *testing.T) {
	reg := NewRegistry()
	s, _ := Register(Metadata{Name: "parse_detail", Priority: 3}, parseHome, []string{"response", "accumulated_data"})
	reg.Add(s)

	_, priority, err := reg.ResolveContinuation("parse_detail", 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if priority != 1 {
		t.Errorf("expected explicit priority 1 preserved, got %d", priority)
	}
}
