package cfg

import (
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"
)

// DeployConfig selects the backend runtime and the task codebase for a
// deployed model.
type DeployConfig struct {
	Backend  BackendConfig  `koanf:"backend"`
	Codebase CodebaseConfig `koanf:"codebase"`
}

// BackendConfig defines backend runtime configurations
type BackendConfig struct {
	Type        string            `koanf:"type"`
	ONNXRuntime ONNXRuntimeConfig `koanf:"onnxruntime"`
	KServe      KServeConfig      `koanf:"kserve"`
}

// ONNXRuntimeConfig related to a native ONNX Runtime session
type ONNXRuntimeConfig struct {
	InputNames  []string `koanf:"input_names"`
	OutputNames []string `koanf:"output_names"`
}

// KServeConfig related to a remote KServe-v2 inference server
type KServeConfig struct {
	Endpoint     string `koanf:"endpoint"`
	ModelName    string `koanf:"model_name"`
	ModelVersion string `koanf:"model_version"`
}

// CodebaseConfig names the task family the model belongs to.
type CodebaseConfig struct {
	Task string `koanf:"task"`
}

// ModelConfig is the model-side configuration document: dataset
// definitions, test pipeline and evaluation options.
type ModelConfig struct {
	Data       DataConfig     `koanf:"data"`
	Evaluation map[string]any `koanf:"evaluation"`
}

// DataConfig defines the dataset splits and loader knobs
type DataConfig struct {
	WorkersPerGPU int           `koanf:"workers_per_gpu"`
	Test          DatasetConfig `koanf:"test"`
}

// DatasetConfig describes one dataset split and its transform pipeline.
type DatasetConfig struct {
	Type      string       `koanf:"type"`
	DataRoot  string       `koanf:"data_root"`
	AnnFile   string       `koanf:"ann_file"`
	BoxType3D string       `koanf:"box_type_3d"`
	Pipeline  []StepConfig `koanf:"pipeline"`
}

// StepConfig is one named transform step. Options carries every key
// other than the step type; transforms decode it into their own typed
// option structs.
type StepConfig struct {
	Type    string         `koanf:"type"`
	Options map[string]any `koanf:",remain"`
}

func load(filePath string, overrides map[string]any, out any) error {
	k := koanf.New(".")
	parser := yaml.Parser()

	if err := k.Load(file.Provider(filePath), parser); err != nil {
		return errors.Wrapf(ErrConfiguration, "load %s: %v", filePath, err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return errors.Wrapf(ErrConfiguration, "merge overrides into %s: %v", filePath, err)
		}
	}

	if err := k.Unmarshal("", out); err != nil {
		return errors.Wrapf(ErrConfiguration, "unmarshal %s: %v", filePath, err)
	}

	return nil
}

// LoadDeployConfig reads the deployment config, applies overrides and
// validates the result against the bundled JSON Schema.
func LoadDeployConfig(filePath string, overrides map[string]any) (*DeployConfig, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "load %s: %v", filePath, err)
	}
	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, errors.Wrapf(ErrConfiguration, "merge overrides into %s: %v", filePath, err)
		}
	}

	if err := validateDeployConfig(k.Raw()); err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "validate %s: %v", filePath, err)
	}

	var dc DeployConfig
	if err := k.Unmarshal("", &dc); err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "unmarshal %s: %v", filePath, err)
	}
	return &dc, nil
}

// LoadModelConfig reads the model config and applies overrides. The
// test pipeline is required; its absence fails here rather than at
// inference time.
func LoadModelConfig(filePath string, overrides map[string]any) (*ModelConfig, error) {
	var mc ModelConfig
	if err := load(filePath, overrides, &mc); err != nil {
		return nil, err
	}

	if len(mc.Data.Test.Pipeline) == 0 {
		return nil, errors.Wrapf(ErrConfiguration, "%s: missing data.test.pipeline", filePath)
	}
	for i, step := range mc.Data.Test.Pipeline {
		if step.Type == "" {
			return nil, errors.Wrapf(ErrConfiguration, "%s: data.test.pipeline[%d] has no type", filePath, i)
		}
	}

	return &mc, nil
}
