package unit

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// State is the opaque, independently serializable state of one unit
type State map[string]interface{}

// EncodeState flattens a settings struct into a State using its
// mapstructure tags
func EncodeState(settings interface{}) (State, error) {
	out := map[string]interface{}{}
	if err := mapstructure.Decode(settings, &out); err != nil {
		return nil, fmt.Errorf("failed to encode unit state: %w", err)
	}
	return State(out), nil
}

// DecodeState decodes state over a copy of defaults. Keys missing from state
// keep their default value and unknown keys are ignored. Values of the wrong
// type are converted where possible; when that fails defaults is returned
// together with the error.
func DecodeState[T any](state State, defaults T) (T, error) {
	result := defaults
	if len(state) == 0 {
		return result, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &result,
	})
	if err != nil {
		return defaults, fmt.Errorf("failed to create state decoder: %w", err)
	}
	if err := decoder.Decode(map[string]interface{}(state)); err != nil {
		return defaults, fmt.Errorf("failed to decode unit state: %w", err)
	}
	return result, nil
}
