package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

// ONNXConfig related to the native ONNX Runtime backend
type ONNXConfig struct {
	// LibraryPath points at the onnxruntime shared library. Empty means
	// the loader default. The tag avoids underscores so the DK_ env
	// mapper (which splits on "_") can address it.
	LibraryPath string `koanf:"librarypath"`
}

// KServeConfig defines HTTP client configurations for the remote
// inference backend
type KServeConfig struct {
	Timeout    time.Duration `koanf:"timeout"`
	RetryCount int           `koanf:"retrycount"`
}

// AppConfig defines process-level runtime settings, as opposed to the
// per-run deploy/model configs handled by pkg/cfg.
type AppConfig struct {
	Debug  bool         `koanf:"debug"`
	Device string       `koanf:"device"`
	ONNX   ONNXConfig   `koanf:"onnx"`
	KServe KServeConfig `koanf:"kserve"`
}

// Config - Global variable to export
var Config AppConfig

var defaultConfigPath = "config/config.yaml"

// Init - Assign global config to decoded config struct. The config file
// is optional; defaults plus DK_* environment variables apply without
// one.
func Init(filePath string) error {
	if filePath == "" {
		filePath = defaultConfigPath
	}

	k := koanf.New(".")
	parser := yaml.Parser()

	if err := k.Load(confmap.Provider(map[string]any{
		"device":            "cpu",
		"kserve.timeout":    60 * time.Second,
		"kserve.retrycount": 0,
	}, "."), nil); err != nil {
		return err
	}

	if err := k.Load(file.Provider(filePath), parser); err != nil && !strings.Contains(err.Error(), "no such file") {
		return err
	}

	if err := k.Load(env.ProviderWithValue("DK_", ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "DK_")), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return err
	}

	return k.Unmarshal("", &Config)
}
