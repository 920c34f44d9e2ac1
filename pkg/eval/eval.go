// Package eval post-processes accumulated inference results: result
// file dumps, submission formatting and metric evaluation.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/dataset"
	"github.com/visionlab-ai/deploykit/pkg/logger"
)

// Options select which post-processing actions run after a test pass.
type Options struct {
	// Out dumps raw results to this file. The extension picks the
	// encoding.
	Out string
	// FormatOnly writes submission files instead of evaluating.
	FormatOnly bool
	// FormatDir is the submission output directory, default ".".
	FormatDir string
	// Metrics to evaluate, empty for none.
	Metrics []string
	// MetricOptions are extra evaluation kwargs, merged over the model
	// config's evaluation section.
	MetricOptions map[string]any
}

// Keys in the model config's evaluation section that configure the
// training-time eval hook rather than the metric computation. They are
// stripped before the kwargs reach Dataset.Evaluate.
var evalHookKeys = []string{"interval", "tmpdir", "start", "gpu_collect", "save_best", "rule"}

// CheckOutFile validates the result file path. Called before any
// inference work so a typo does not waste a full test pass.
func CheckOutFile(path string) error {
	if path == "" {
		return nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return nil
	default:
		return errors.Wrapf(cfg.ErrConfiguration, "result file %q must end in .json, .yaml or .yml", path)
	}
}

// WriteResults dumps results to path, encoded per the file extension.
// The write goes through a temp file and a rename so readers never see
// a partial dump.
func WriteResults(path string, results []dataset.Result) error {
	if err := CheckOutFile(path); err != nil {
		return err
	}

	var (
		payload []byte
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		payload, err = json.MarshalIndent(results, "", "  ")
	default:
		payload, err = yaml.Marshal(results)
	}
	if err != nil {
		return errors.Wrapf(err, "encode results for %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create result dir %s", dir)
		}
	}

	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.Must(uuid.NewV4()).String())
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrapf(err, "write results to %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "move results to %s", path)
	}
	return nil
}

// ReadResults loads a result dump written by WriteResults.
func ReadResults(path string) ([]dataset.Result, error) {
	if err := CheckOutFile(path); err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read results from %s", path)
	}

	var results []dataset.Result
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(payload, &results)
	default:
		err = yaml.Unmarshal(payload, &results)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode results from %s", path)
	}
	return results, nil
}

// ProcessOutputs runs the requested post-processing over test results:
// an optional raw dump, then either submission formatting or metric
// evaluation. The returned map is nil unless metrics were evaluated.
func ProcessOutputs(ctx context.Context, ds dataset.Dataset, results []dataset.Result, evaluation map[string]any, opts Options) (map[string]float64, error) {
	log, _ := logger.GetZapLogger(ctx)

	if opts.Out != "" {
		log.Info("writing raw results", zap.String("path", opts.Out), zap.Int("samples", len(results)))
		if err := WriteResults(opts.Out, results); err != nil {
			return nil, err
		}
	}

	if opts.FormatOnly {
		dir := opts.FormatDir
		if dir == "" {
			dir = "."
		}
		log.Info("formatting results", zap.String("dir", dir))
		return nil, ds.FormatResults(results, dir)
	}

	if len(opts.Metrics) == 0 {
		return nil, nil
	}

	kwargs := evalKwargs(evaluation, opts.MetricOptions)
	metrics, err := ds.Evaluate(results, opts.Metrics, kwargs)
	if err != nil {
		return nil, err
	}
	for name, value := range metrics {
		log.Info("metric", zap.String("name", name), zap.Float64("value", value))
	}
	return metrics, nil
}

// evalKwargs merges the model config's evaluation section with
// command-line metric options, dropping eval-hook keys that have no
// meaning at test time. Option overrides win over the config.
func evalKwargs(evaluation, overrides map[string]any) map[string]any {
	kwargs := make(map[string]any, len(evaluation)+len(overrides))
	for k, v := range evaluation {
		kwargs[k] = v
	}
	for _, k := range evalHookKeys {
		delete(kwargs, k)
	}
	delete(kwargs, "metric")
	for k, v := range overrides {
		kwargs[k] = v
	}
	return kwargs
}
