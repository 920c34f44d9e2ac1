package pipeline

import (
	"os"

	"github.com/pkg/errors"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

type loadPointsFromFile struct {
	loadDim int
	useDim  int
}

func newLoadPointsFromFile(step cfg.StepConfig) (Transform, error) {
	var opts struct {
		LoadDim int `koanf:"load_dim"`
		UseDim  int `koanf:"use_dim"`
	}
	if err := step.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if opts.LoadDim == 0 {
		opts.LoadDim = 4
	}
	if opts.UseDim == 0 {
		opts.UseDim = opts.LoadDim
	}
	if opts.UseDim > opts.LoadDim {
		return nil, errors.Wrapf(cfg.ErrConfiguration, "LoadPointsFromFile use_dim %d exceeds load_dim %d", opts.UseDim, opts.LoadDim)
	}
	return &loadPointsFromFile{loadDim: opts.LoadDim, useDim: opts.UseDim}, nil
}

// Apply reads a little-endian float32 point-cloud file of load_dim
// values per point and keeps the first use_dim columns.
func (t *loadPointsFromFile) Apply(s Sample) error {
	filename, ok := s[KeyFilename].(string)
	if !ok || filename == "" {
		return errors.Wrap(ErrInputFormat, "load step requires a point-cloud file path")
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "read point cloud %s", filename)
	}

	flat := tensor.DeserializeFloat32(raw)
	n := len(flat) / t.loadDim
	data := make([]float32, 0, n*t.useDim)
	for i := 0; i < n; i++ {
		data = append(data, flat[i*t.loadDim:i*t.loadDim+t.useDim]...)
	}

	points, err := tensor.New([]int64{int64(n), int64(t.useDim)}, data)
	if err != nil {
		return err
	}
	s[KeyPoints] = points
	return nil
}

type pointsRangeFilter struct {
	// xmin, ymin, zmin, xmax, ymax, zmax
	rng [6]float32
}

func newPointsRangeFilter(step cfg.StepConfig) (Transform, error) {
	var opts struct {
		PointCloudRange []float64 `koanf:"point_cloud_range"`
	}
	if err := step.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if len(opts.PointCloudRange) != 6 {
		return nil, errors.Wrapf(cfg.ErrConfiguration, "PointsRangeFilter expects a 6-value point_cloud_range, got %v", opts.PointCloudRange)
	}
	t := &pointsRangeFilter{}
	for i, v := range opts.PointCloudRange {
		t.rng[i] = float32(v)
	}
	return t, nil
}

func (t *pointsRangeFilter) Apply(s Sample) error {
	points, ok := s.Tensor(KeyPoints)
	if !ok {
		return errors.Wrap(ErrInputFormat, "PointsRangeFilter expects loaded points")
	}
	dim := points.Shape[1]
	kept := make([]float32, 0, len(points.Data))
	var n int64
	for i := int64(0); i < points.Shape[0]; i++ {
		row := points.Data[i*dim : (i+1)*dim]
		if row[0] < t.rng[0] || row[0] > t.rng[3] ||
			row[1] < t.rng[1] || row[1] > t.rng[4] ||
			row[2] < t.rng[2] || row[2] > t.rng[5] {
			continue
		}
		kept = append(kept, row...)
		n++
	}
	filtered, err := tensor.New([]int64{n, dim}, kept)
	if err != nil {
		return err
	}
	s[KeyPoints] = filtered
	return nil
}

type formatBundle3D struct{}

func newFormatBundle3D(_ cfg.StepConfig) (Transform, error) {
	return &formatBundle3D{}, nil
}

func (t *formatBundle3D) Apply(s Sample) error {
	if _, ok := s.Tensor(KeyPoints); !ok {
		return errors.Wrap(ErrInputFormat, "DefaultFormatBundle3D expects a points tensor")
	}
	return nil
}
