package step

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/waylight/kestrel/internal/types"
)

// validate is shared across every deferred-validation call; validator.Validate
// is safe for concurrent use once built, and caches struct tag parsing per type.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ApplyDeferredValidation runs the runtime side of spec §4.4.5's deferred
// validation: a step hands back a raw field map plus a pointer to a
// validate-tagged target struct in pd.Target, and the runtime — not the
// step — decides whether the result is valid. pd.Data is decoded onto
// pd.Target with mapstructure (field-name-insensitive, matching the
// original's permissive raw-dict-to-model construction), then validated.
//
// On success pd.Valid is set true and pd.Data replaced with the validated
// target value. On failure pd.Valid is false, pd.Data keeps the original
// raw map, and pd.ValidationErrors records one message per failed field
// (spec: "is_valid=false and records validation_errors_json").
//
// A nil pd.Target is a no-op: the step has already validated its own
// result and ApplyDeferredValidation leaves Valid/Data/ValidationErrors as
// the step set them.
func ApplyDeferredValidation(pd *types.ParsedData) {
	if pd == nil || pd.Target == nil {
		return
	}

	if err := mapstructure.Decode(pd.Data, pd.Target); err != nil {
		pd.Valid = false
		pd.ValidationErrors = []string{fmt.Sprintf("decoding raw fields onto %T: %v", pd.Target, err)}
		return
	}

	if err := validate.Struct(pd.Target); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			pd.Valid = false
			pd.ValidationErrors = []string{err.Error()}
			return
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q validation (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		pd.Valid = false
		pd.ValidationErrors = msgs
		return
	}

	pd.Valid = true
	pd.ValidationErrors = nil
	pd.Data = pd.Target
}
