package step

import (
	"testing"

	"github.com/waylight/kestrel/internal/types"
)

type recordTarget struct {
	Name  string `validate:"required" mapstructure:"name"`
	Count int    `validate:"gte=1" mapstructure:"count"`
}

func TestApplyDeferredValidationSucceedsAndReplacesData(t *testing.T) {
	pd := &types.ParsedData{
		ResultType: "Record",
		Data:       map[string]any{"name": "widget", "count": 3},
		Target:     &recordTarget{},
	}

	ApplyDeferredValidation(pd)

	if !pd.Valid {
		t.Fatalf("expected valid, got errors: %v", pd.ValidationErrors)
	}
	got, ok := pd.Data.(*recordTarget)
	if !ok || got.Name != "widget" || got.Count != 3 {
		t.Errorf("expected Data replaced with decoded target, got %+v", pd.Data)
	}
}

func TestApplyDeferredValidationFailsAndKeepsRawData(t *testing.T) {
	raw := map[string]any{"name": "", "count": 0}
	pd := &types.ParsedData{
		ResultType: "Record",
		Data:       raw,
		Target:     &recordTarget{},
	}

	ApplyDeferredValidation(pd)

	if pd.Valid {
		t.Fatalf("expected invalid result")
	}
	if len(pd.ValidationErrors) == 0 {
		t.Errorf("expected validation_errors to be recorded")
	}
	if got, ok := pd.Data.(map[string]any); !ok || got["name"] != "" {
		t.Errorf("expected raw Data preserved on failure, got %+v", pd.Data)
	}
}

func TestApplyDeferredValidationNoopWhenTargetNil(t *testing.T) {
	pd := &types.ParsedData{ResultType: "Record", Data: map[string]any{"x": 1}, Valid: true}

	ApplyDeferredValidation(pd)

	if !pd.Valid {
		t.Errorf("expected step-set Valid to be left untouched")
	}
}
