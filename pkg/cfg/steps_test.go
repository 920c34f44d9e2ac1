package cfg

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

const loadStep = "LoadImageFromFile"

func typeNames(steps []StepConfig) []string {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.Type)
	}
	return names
}

func TestEnsureLoadStep_Prepends(t *testing.T) {
	c := qt.New(t)

	steps := []StepConfig{{Type: "Resize"}, {Type: "Collect"}}
	out := EnsureLoadStep(steps, loadStep)
	c.Assert(typeNames(out), qt.DeepEquals, []string{loadStep, "Resize", "Collect"})
}

func TestEnsureLoadStep_AlreadyFirst(t *testing.T) {
	c := qt.New(t)

	steps := []StepConfig{{Type: loadStep}, {Type: "Resize"}}
	out := EnsureLoadStep(steps, loadStep)
	c.Assert(typeNames(out), qt.DeepEquals, []string{loadStep, "Resize"})
}

func TestEnsureLoadStep_Misplaced(t *testing.T) {
	c := qt.New(t)

	// A load step buried in the middle is hoisted, not duplicated.
	steps := []StepConfig{{Type: "Resize"}, {Type: loadStep}, {Type: "Collect"}}
	out := EnsureLoadStep(steps, loadStep)
	c.Assert(typeNames(out), qt.DeepEquals, []string{loadStep, "Resize", "Collect"})
}

func TestEnsureLoadStep_DuplicateBehindFirst(t *testing.T) {
	c := qt.New(t)

	// A second load step after a valid first one is removed too; the
	// first occurrence keeps its options.
	steps := []StepConfig{
		{Type: loadStep, Options: map[string]any{"color_type": "color"}},
		{Type: "Resize"},
		{Type: loadStep},
	}
	out := EnsureLoadStep(steps, loadStep)
	c.Assert(typeNames(out), qt.DeepEquals, []string{loadStep, "Resize"})
	c.Assert(out[0].Options["color_type"], qt.Equals, "color")
}

func TestDropLoadStep(t *testing.T) {
	c := qt.New(t)

	steps := []StepConfig{{Type: loadStep}, {Type: "Resize"}, {Type: "Collect"}}
	out := DropLoadStep(steps, loadStep)
	c.Assert(typeNames(out), qt.DeepEquals, []string{"Resize", "Collect"})

	// Absent load step is a no-op.
	out = DropLoadStep(out, loadStep)
	c.Assert(typeNames(out), qt.DeepEquals, []string{"Resize", "Collect"})
}
