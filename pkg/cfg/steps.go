package cfg

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// DecodeOptions decodes the step's option map into a typed option
// struct. Decoding is weakly typed so YAML scalars ([224, 224] as ints,
// mean values as floats) land in the expected Go types.
func (s StepConfig) DecodeOptions(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "koanf",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(s.Options); err != nil {
		return errors.Wrapf(ErrConfiguration, "step %s: %v", s.Type, err)
	}
	return nil
}

// EnsureLoadStep returns a pipeline whose first step is the named load
// transform. If the pipeline already starts with it the input is
// returned unchanged; otherwise the load step is prepended.
//
// Post-condition: the load step appears exactly once, at position 0.
func EnsureLoadStep(steps []StepConfig, loadType string) []StepConfig {
	head := StepConfig{Type: loadType}
	if len(steps) > 0 && steps[0].Type == loadType {
		head = steps[0]
	}
	out := make([]StepConfig, 0, len(steps)+1)
	out = append(out, head)
	for _, s := range steps {
		if s.Type == loadType {
			continue
		}
		out = append(out, s)
	}
	return out
}

// DropLoadStep returns a pipeline with every occurrence of the named
// load transform removed. Used when the caller supplies an in-memory
// payload instead of a file path.
//
// Post-condition: the load step is absent.
func DropLoadStep(steps []StepConfig, loadType string) []StepConfig {
	out := make([]StepConfig, 0, len(steps))
	for _, s := range steps {
		if s.Type == loadType {
			continue
		}
		out = append(out, s)
	}
	return out
}
