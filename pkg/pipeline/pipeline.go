// Package pipeline builds and executes the preprocessing pipelines that
// turn raw inputs (image files, point-cloud files, in-memory arrays)
// into batched tensor bundles ready for a backend model.
package pipeline

import (
	"github.com/pkg/errors"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

// Well-known sample fields. Transforms read and write these keys; the
// names follow the config vocabulary so pipelines stay portable across
// exported model configs.
const (
	KeyFilename        = "filename"
	KeyImage           = "img"
	KeyPoints          = "points"
	KeyOriShape        = "ori_shape"
	KeyImgShape        = "img_shape"
	KeyMeta            = "img_metas"
	KeyBoxType3D       = "box_type_3d"
	KeyBoxMode3D       = "box_mode_3d"
	KeyTimestamp       = "timestamp"
	KeySweeps          = "sweeps"
	KeyAxisAlignMatrix = "axis_align_matrix"
)

// Transform step names accepted in pipeline configs.
const (
	StepLoadImageFromFile     = "LoadImageFromFile"
	StepResize                = "Resize"
	StepNormalize             = "Normalize"
	StepImageToTensor         = "ImageToTensor"
	StepCollect               = "Collect"
	StepLoadPointsFromFile    = "LoadPointsFromFile"
	StepPointsRangeFilter     = "PointsRangeFilter"
	StepDefaultFormatBundle3D = "DefaultFormatBundle3D"
	StepCollect3D             = "Collect3D"
)

// ErrInputFormat is returned when a raw input does not match the
// payload shape a transform expects.
var ErrInputFormat = errors.New("input does not match the pipeline payload")

// Sample is one input record. Each transform enriches it in place.
type Sample map[string]any

// Tensor returns the tensor stored under key, if any.
func (s Sample) Tensor(key string) (*tensor.Tensor, bool) {
	t, ok := s[key].(*tensor.Tensor)
	return t, ok
}

// Transform is a single pipeline step. Apart from the load steps, a
// transform is a pure rewrite of sample fields with no external I/O.
type Transform interface {
	Apply(s Sample) error
}

// Compose executes transform steps in declared order.
type Compose struct {
	names      []string
	transforms []Transform
}

// NewCompose builds the transform sequence from a pipeline config. The
// step vocabulary is closed; an unknown step type is a configuration
// error.
func NewCompose(steps []cfg.StepConfig) (*Compose, error) {
	c := &Compose{
		names:      make([]string, 0, len(steps)),
		transforms: make([]Transform, 0, len(steps)),
	}
	for _, step := range steps {
		var (
			t   Transform
			err error
		)
		switch step.Type {
		case StepLoadImageFromFile:
			t, err = newLoadImageFromFile(step)
		case StepResize:
			t, err = newResize(step)
		case StepNormalize:
			t, err = newNormalize(step)
		case StepImageToTensor:
			t, err = newImageToTensor(step)
		case StepLoadPointsFromFile:
			t, err = newLoadPointsFromFile(step)
		case StepPointsRangeFilter:
			t, err = newPointsRangeFilter(step)
		case StepDefaultFormatBundle3D:
			t, err = newFormatBundle3D(step)
		case StepCollect, StepCollect3D:
			t, err = newCollect(step)
		default:
			return nil, errors.Wrapf(cfg.ErrConfiguration, "unknown transform %q", step.Type)
		}
		if err != nil {
			return nil, err
		}
		c.names = append(c.names, step.Type)
		c.transforms = append(c.transforms, t)
	}
	return c, nil
}

// Apply runs every transform against the sample, in order.
func (c *Compose) Apply(s Sample) error {
	for i, t := range c.transforms {
		if err := t.Apply(s); err != nil {
			return errors.Wrapf(err, "transform %s (step %d)", c.names[i], i)
		}
	}
	return nil
}

// Names returns the executed step names in order.
func (c *Compose) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Has reports whether the pipeline contains the named step.
func (c *Compose) Has(name string) bool {
	for _, n := range c.names {
		if n == name {
			return true
		}
	}
	return false
}
