// Package task maps each supported task kind to its input-construction
// and inference-dispatch implementation.
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

// Kind is a closed enumeration of the supported task families.
type Kind int

const (
	KindClassification Kind = iota
	KindVoxelDetection
)

func (k Kind) String() string {
	switch k {
	case KindClassification:
		return "classification"
	case KindVoxelDetection:
		return "voxel_detection"
	default:
		return "unknown"
	}
}

// ErrUnknownTask is returned for task kinds outside the registry.
var ErrUnknownTask = errors.New("unknown task")

// ParseKind resolves the codebase.task config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "classification":
		return KindClassification, nil
	case "voxel_detection":
		return KindVoxelDetection, nil
	default:
		return 0, errors.Wrapf(ErrUnknownTask, "%q", s)
	}
}

// Task bundles the per-kind pipeline builder, backend builder and
// inference decoder.
type Task interface {
	Kind() Kind
	// CreateInput builds and executes the test pipeline against one raw
	// input (file path or in-memory payload) and returns the collated
	// batch plus its main input tensor.
	CreateInput(mc *cfg.ModelConfig, input any, device tensor.Device) (*pipeline.Batch, *tensor.Tensor, error)
	// BuildBackendModel constructs the backend model for this task.
	BuildBackendModel(ctx context.Context, dc *cfg.DeployConfig, modelFiles []string, device tensor.Device) (backend.Model, error)
	// RunInference invokes the model on a prepared batch and decodes
	// the raw outputs into per-sample results. The result list length
	// always equals the batch size.
	RunInference(ctx context.Context, m backend.Model, batch *pipeline.Batch) ([]dataset.Result, error)
}

// The registry is populated once at package init and read-only
// afterwards.
var registry = map[Kind]Task{
	KindClassification: &Classification{},
	KindVoxelDetection: &VoxelDetection{},
}

// For returns the task implementation registered for the kind.
func For(k Kind) (Task, error) {
	t, ok := registry[k]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTask, "%v", k)
	}
	return t, nil
}

func testPipeline(mc *cfg.ModelConfig) ([]cfg.StepConfig, error) {
	if mc == nil || len(mc.Data.Test.Pipeline) == 0 {
		return nil, errors.Wrap(cfg.ErrConfiguration, "missing data.test.pipeline")
	}
	return mc.Data.Test.Pipeline, nil
}

func runPipeline(steps []cfg.StepConfig, sample pipeline.Sample, device tensor.Device) (*pipeline.Batch, error) {
	compose, err := pipeline.NewCompose(steps)
	if err != nil {
		return nil, err
	}
	if err := compose.Apply(sample); err != nil {
		return nil, err
	}
	batch, err := pipeline.Collate([]pipeline.Sample{sample})
	if err != nil {
		return nil, err
	}
	return batch.ScatterTo(device), nil
}
