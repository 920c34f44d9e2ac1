package task

import (
	"context"

	"github.com/pkg/errors"

	"github.com/visionlab-ai/deploykit/pkg/backend"
	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/dataset"
	"github.com/visionlab-ai/deploykit/pkg/pipeline"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

// VoxelDetection runs LiDAR 3D detection models over point-cloud files.
// Backend outputs are decoded as boxes [batch, n, dims], scores
// [batch, n] and labels [batch, n], in that order.
type VoxelDetection struct{}

func (*VoxelDetection) Kind() Kind {
	return KindVoxelDetection
}

// CreateInput only accepts point-cloud file paths; there is no
// in-memory entry point for 3D detection.
func (t *VoxelDetection) CreateInput(mc *cfg.ModelConfig, input any, device tensor.Device) (*pipeline.Batch, *tensor.Tensor, error) {
	steps, err := testPipeline(mc)
	if err != nil {
		return nil, nil, err
	}

	path, ok := input.(string)
	if !ok {
		return nil, nil, errors.Wrapf(pipeline.ErrInputFormat, "voxel detection input %T, expected a point-cloud path", input)
	}

	boxType := mc.Data.Test.BoxType3D
	if boxType == "" {
		boxType = "lidar"
	}
	boxMode, err := dataset.ParseBoxMode(boxType)
	if err != nil {
		return nil, nil, err
	}

	steps = cfg.EnsureLoadStep(steps, pipeline.StepLoadPointsFromFile)
	sample := pipeline.Sample{
		pipeline.KeyFilename:        path,
		pipeline.KeyBoxType3D:       boxType,
		pipeline.KeyBoxMode3D:       boxMode.String(),
		pipeline.KeyTimestamp:       int64(0),
		pipeline.KeySweeps:          []any{},
		pipeline.KeyAxisAlignMatrix: identityAxisAlign(),
	}

	batch, err := runPipeline(steps, sample, device)
	if err != nil {
		return nil, nil, err
	}
	points, ok := batch.Tensor(pipeline.KeyPoints)
	if !ok {
		return nil, nil, errors.Wrap(pipeline.ErrInputFormat, "pipeline produced no points tensor")
	}
	return batch, points, nil
}

// identityAxisAlign is the default axis-alignment for scenes without a
// world-frame annotation: a 4x4 identity transform.
func identityAxisAlign() [][]float32 {
	m := make([][]float32, 4)
	for i := range m {
		m[i] = make([]float32, 4)
		m[i][i] = 1
	}
	return m
}

func (t *VoxelDetection) BuildBackendModel(ctx context.Context, dc *cfg.DeployConfig, modelFiles []string, device tensor.Device) (backend.Model, error) {
	return backend.Build(ctx, dc, modelFiles, device)
}

// RunInference decodes box, score and label outputs into one result per
// batch sample.
func (t *VoxelDetection) RunInference(ctx context.Context, m backend.Model, batch *pipeline.Batch) ([]dataset.Result, error) {
	outputs, err := m.Infer(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 3 {
		return nil, errors.Errorf("expected box, score and label outputs, got %d tensors", len(outputs))
	}

	boxesOut, scoresOut, labelsOut := outputs[0], outputs[1], outputs[2]
	if len(boxesOut.Shape) != 3 {
		return nil, errors.Errorf("expected a [batch, n, dims] box tensor, got shape %v", boxesOut.Shape)
	}
	if boxesOut.Shape[0] != int64(batch.Size()) {
		return nil, errors.Errorf("box batch size %d does not match input batch size %d", boxesOut.Shape[0], batch.Size())
	}

	boxes, err := tensor.Reshape3D(boxesOut.Data, boxesOut.Shape)
	if err != nil {
		return nil, err
	}
	scores, err := tensor.Reshape2D(scoresOut.Data, []int64{boxesOut.Shape[0], boxesOut.Shape[1]})
	if err != nil {
		return nil, errors.Wrap(err, "score output")
	}
	labels, err := tensor.Reshape2D(labelsOut.Data, []int64{boxesOut.Shape[0], boxesOut.Shape[1]})
	if err != nil {
		return nil, errors.Wrap(err, "label output")
	}

	results := make([]dataset.Result, 0, batch.Size())
	for i := range boxes {
		r := dataset.Result{
			Boxes:  make([][]float32, 0, len(boxes[i])),
			Scores: make([]float32, 0, len(boxes[i])),
			Labels: make([]int64, 0, len(boxes[i])),
		}
		for j := range boxes[i] {
			box := make([]float32, len(boxes[i][j]))
			copy(box, boxes[i][j])
			r.Boxes = append(r.Boxes, box)
			r.Scores = append(r.Scores, scores[i][j])
			r.Labels = append(r.Labels, int64(labels[i][j]))
		}
		results = append(results, r)
	}
	return results, nil
}
