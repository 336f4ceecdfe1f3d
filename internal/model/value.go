package model

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// ErrInvalidValue is returned for values outside the JSON value union.
var ErrInvalidValue = resilience.NewError(resilience.KindValidation, "value", eris.New("value must be a string, number, boolean, null, object or list"))

// ValidateValue checks that v is a string, number, boolean, nil, a
// map[string]any or []any whose members are themselves valid.
func ValidateValue(v any) error {
	switch t := v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32:
		return nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return eris.Wrap(ErrInvalidValue, "non-finite number")
		}
		return nil
	case map[string]any:
		for k, el := range t {
			if err := ValidateValue(el); err != nil {
				return eris.Wrapf(err, "key %q", k)
			}
		}
		return nil
	case []any:
		for i, el := range t {
			if err := ValidateValue(el); err != nil {
				return eris.Wrapf(err, "index %d", i)
			}
		}
		return nil
	default:
		return eris.Wrapf(ErrInvalidValue, "unsupported type %T", v)
	}
}

// CloneValue deep-copies a JSON value. Maps and lists are copied; scalars
// are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = CloneValue(el)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = CloneValue(el)
		}
		return out
	default:
		return v
	}
}
