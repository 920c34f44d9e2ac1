// Package backend binds exported model artifacts to an inference
// runtime and exposes them behind a single Model interface.
package backend

import (
	"context"

	"github.com/pkg/errors"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/pipeline"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

// Kind identifies a backend runtime.
type Kind int

const (
	KindONNXRuntime Kind = iota
	KindKServe
)

func (k Kind) String() string {
	switch k {
	case KindONNXRuntime:
		return "onnxruntime"
	case KindKServe:
		return "kserve"
	default:
		return "unknown"
	}
}

// ParseKind resolves the backend.type config string.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "onnxruntime":
		return KindONNXRuntime, nil
	case "kserve":
		return KindKServe, nil
	default:
		return 0, errors.Wrapf(cfg.ErrConfiguration, "unknown backend type %q", s)
	}
}

// ErrModelLoad is returned when a model artifact is missing or
// incompatible with the declared backend.
var ErrModelLoad = errors.New("cannot load backend model")

// Model is a loaded inference model. The owner must call Close to
// release runtime resources; constructors release partially-acquired
// resources themselves before returning an error.
type Model interface {
	// Infer runs one forward call on the batch and returns the raw
	// output tensors in OutputNames order.
	Infer(ctx context.Context, batch *pipeline.Batch) ([]*tensor.Tensor, error)
	OutputNames() []string
	Close() error
}

// Build dispatches on the deploy config's backend type and constructs
// the corresponding model from the exported artifact paths.
func Build(ctx context.Context, dc *cfg.DeployConfig, modelFiles []string, device tensor.Device) (Model, error) {
	kind, err := ParseKind(dc.Backend.Type)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindONNXRuntime:
		return newONNXModel(dc.Backend.ONNXRuntime, modelFiles, device)
	case KindKServe:
		return newKServeModel(ctx, dc.Backend.KServe)
	default:
		return nil, errors.Wrapf(ErrModelLoad, "backend %s has no loader", kind)
	}
}

// batchInputs resolves the batch tensors feeding each declared input,
// by field name first, falling back to the single tensor field when the
// model takes a single input.
func batchInputs(batch *pipeline.Batch, inputNames []string) ([]*tensor.Tensor, error) {
	inputs := make([]*tensor.Tensor, 0, len(inputNames))
	for _, name := range inputNames {
		if t, ok := batch.Tensor(name); ok {
			inputs = append(inputs, t)
			continue
		}
		if len(inputNames) == 1 && len(batch.Tensors) == 1 {
			for _, t := range batch.Tensors {
				inputs = append(inputs, t)
			}
			continue
		}
		return nil, errors.Wrapf(pipeline.ErrInputFormat, "batch has no tensor for model input %q", name)
	}
	return inputs, nil
}
