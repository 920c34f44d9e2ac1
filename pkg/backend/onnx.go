package backend

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/visionlab-ai/deploykit/config"
	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/pipeline"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

// The ONNX Runtime environment is initialized once and kept for the
// process lifetime; sessions own the per-model resources.
var ortInit sync.Once
var ortInitErr error

func initRuntime() error {
	ortInit.Do(func() {
		if path := config.Config.ONNX.LibraryPath; path != "" {
			ort.SetSharedLibraryPath(path)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

type onnxModel struct {
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
	device      tensor.Device
}

func newONNXModel(oc cfg.ONNXRuntimeConfig, modelFiles []string, device tensor.Device) (Model, error) {
	if len(modelFiles) != 1 {
		return nil, errors.Wrapf(ErrModelLoad, "onnxruntime expects exactly one artifact, got %d", len(modelFiles))
	}
	modelPath := modelFiles[0]
	if _, err := os.Stat(modelPath); err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "artifact %s: %v", modelPath, err)
	}
	if len(oc.InputNames) == 0 || len(oc.OutputNames) == 0 {
		return nil, errors.Wrap(cfg.ErrConfiguration, "backend.onnxruntime requires input_names and output_names")
	}

	if err := initRuntime(); err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "initialize onnxruntime: %v", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "session options: %v", err)
	}
	defer opts.Destroy()

	if !device.IsCPU() {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, errors.Wrapf(ErrModelLoad, "cuda provider: %v", err)
		}
		defer cudaOpts.Destroy()
		if err := cudaOpts.Update(map[string]string{"device_id": deviceOrdinal(device)}); err != nil {
			return nil, errors.Wrapf(ErrModelLoad, "cuda provider for %s: %v", device, err)
		}
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, errors.Wrapf(ErrModelLoad, "append cuda provider: %v", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, oc.InputNames, oc.OutputNames, opts)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "create session for %s: %v", modelPath, err)
	}

	return &onnxModel{
		session:     session,
		inputNames:  oc.InputNames,
		outputNames: oc.OutputNames,
		device:      device,
	}, nil
}

// deviceOrdinal extracts the numeric suffix of devices like "cuda:1".
// Bare device names default to ordinal 0.
func deviceOrdinal(d tensor.Device) string {
	if _, ordinal, ok := strings.Cut(string(d), ":"); ok {
		return ordinal
	}
	return "0"
}

func (m *onnxModel) Infer(ctx context.Context, batch *pipeline.Batch) ([]*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	feeds, err := batchInputs(batch, m.inputNames)
	if err != nil {
		return nil, err
	}

	inputs := make([]ort.Value, 0, len(feeds))
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for _, feed := range feeds {
		in, err := ort.NewTensor(ort.NewShape(feed.Shape...), feed.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "input tensor %v", feed.Shape)
		}
		inputs = append(inputs, in)
	}

	// nil entries are allocated by the runtime during Run.
	outputs := make([]ort.Value, len(m.outputNames))
	if err := m.session.Run(inputs, outputs); err != nil {
		return nil, err
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	results := make([]*tensor.Tensor, 0, len(outputs))
	for i, v := range outputs {
		out, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, errors.Errorf("output %s is not a float32 tensor", m.outputNames[i])
		}
		shape := out.GetShape()
		data := make([]float32, len(out.GetData()))
		copy(data, out.GetData())
		t, err := tensor.New(append([]int64{}, shape...), data)
		if err != nil {
			return nil, err
		}
		results = append(results, t.To(m.device))
	}
	return results, nil
}

func (m *onnxModel) OutputNames() []string {
	return m.outputNames
}

func (m *onnxModel) Close() error {
	if m.session != nil {
		err := m.session.Destroy()
		m.session = nil
		return err
	}
	return nil
}
