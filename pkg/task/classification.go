package task

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"github.com/visionlab-ai/deploykit/pkg/backend"
	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/dataset"
	"github.com/visionlab-ai/deploykit/pkg/pipeline"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

// Classification runs image classification models. The first backend
// output is interpreted as a [batch, classes] score matrix.
type Classification struct{}

func (*Classification) Kind() Kind {
	return KindClassification
}

// CreateInput accepts a file path, a decoded image or a preprocessed
// tensor. Path inputs get the load step prepended; in-memory inputs get
// it removed, and tensor payloads flow through untouched.
func (t *Classification) CreateInput(mc *cfg.ModelConfig, input any, device tensor.Device) (*pipeline.Batch, *tensor.Tensor, error) {
	steps, err := testPipeline(mc)
	if err != nil {
		return nil, nil, err
	}

	sample := pipeline.Sample{}
	switch in := input.(type) {
	case string:
		steps = cfg.EnsureLoadStep(steps, pipeline.StepLoadImageFromFile)
		sample[pipeline.KeyFilename] = in
	case image.Image:
		steps = cfg.DropLoadStep(steps, pipeline.StepLoadImageFromFile)
		sample[pipeline.KeyImage] = in
	case *tensor.Tensor:
		steps = cfg.DropLoadStep(steps, pipeline.StepLoadImageFromFile)
		sample[pipeline.KeyImage] = in
	default:
		return nil, nil, errors.Wrapf(pipeline.ErrInputFormat, "classification input %T", input)
	}

	batch, err := runPipeline(steps, sample, device)
	if err != nil {
		return nil, nil, err
	}
	img, ok := batch.Tensor(pipeline.KeyImage)
	if !ok {
		return nil, nil, errors.Wrap(pipeline.ErrInputFormat, "pipeline produced no img tensor")
	}
	return batch, img, nil
}

func (t *Classification) BuildBackendModel(ctx context.Context, dc *cfg.DeployConfig, modelFiles []string, device tensor.Device) (backend.Model, error) {
	return backend.Build(ctx, dc, modelFiles, device)
}

// RunInference decodes the first output as per-sample class scores.
func (t *Classification) RunInference(ctx context.Context, m backend.Model, batch *pipeline.Batch) ([]dataset.Result, error) {
	outputs, err := m.Infer(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, errors.New("model returned no outputs")
	}

	scores := outputs[0]
	if len(scores.Shape) != 2 {
		return nil, errors.Errorf("expected a [batch, classes] score tensor, got shape %v", scores.Shape)
	}
	if scores.Shape[0] != int64(batch.Size()) {
		return nil, errors.Errorf("score batch size %d does not match input batch size %d", scores.Shape[0], batch.Size())
	}

	rows, err := tensor.Reshape2D(scores.Data, scores.Shape)
	if err != nil {
		return nil, err
	}

	results := make([]dataset.Result, 0, batch.Size())
	for _, row := range rows {
		sc := make([]float32, len(row))
		copy(sc, row)
		results = append(results, dataset.Result{Scores: sc})
	}
	return results, nil
}
