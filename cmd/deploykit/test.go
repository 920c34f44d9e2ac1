package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/dataset"
	"github.com/visionlab-ai/deploykit/pkg/eval"
	"github.com/visionlab-ai/deploykit/pkg/logger"
	"github.com/visionlab-ai/deploykit/pkg/task"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

type testOptions struct {
	modelFiles    []string
	out           string
	formatOnly    bool
	formatDir     string
	metrics       []string
	metricOptions []string
	show          bool
	showDir       string
	showScoreThr  float64
	device        string
	cfgOptions    []string
}

// NewTestCmd builds the "test" subcommand: run a deployed model over a
// dataset's test split, then dump, format or evaluate the results.
func NewTestCmd() *cobra.Command {
	opts := &testOptions{}
	cmd := &cobra.Command{
		Use:   "test DEPLOY_CFG MODEL_CFG",
		Short: "run a deployed model over the test split and post-process the results",
		Example: `
  deploykit test deploy.yaml model.yaml --model end2end.onnx --metrics accuracy
  deploykit test deploy.yaml model.yaml --model end2end.onnx --out results.json
  deploykit test deploy.yaml model.yaml --model end2end.onnx --format-only --format-dir submission/
		`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return runTest(ctx, args[0], args[1], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&opts.modelFiles, "model", nil, "exported model artifact, repeatable")
	flags.StringVar(&opts.out, "out", "", "dump raw results to this .json/.yaml file")
	flags.BoolVar(&opts.formatOnly, "format-only", false, "format results for submission without evaluating")
	flags.StringVar(&opts.formatDir, "format-dir", ".", "directory for formatted submission files")
	flags.StringSliceVar(&opts.metrics, "metrics", nil, "evaluation metrics, e.g. accuracy,f1_score")
	flags.StringArrayVar(&opts.metricOptions, "metric-options", nil, "extra evaluation options as key=value, repeatable")
	flags.BoolVar(&opts.show, "show", false, "log a prediction summary per sample")
	flags.StringVar(&opts.showDir, "show-dir", "", "directory for per-sample prediction files")
	flags.Float64Var(&opts.showScoreThr, "show-score-thr", 0.3, "score threshold for shown detections")
	flags.StringVar(&opts.device, "device", "cpu", "inference device, e.g. cpu or cuda:0")
	flags.StringArrayVar(&opts.cfgOptions, "cfg-options", nil, "config overrides as key=value, repeatable")

	return cmd
}

func runTest(ctx context.Context, deployCfgPath, modelCfgPath string, opts *testOptions) error {
	// Argument problems must surface before the test pass burns time.
	if opts.out == "" && len(opts.metrics) == 0 && !opts.formatOnly && !opts.show && opts.showDir == "" {
		return errors.Wrap(cfg.ErrConfiguration,
			"nothing to do: specify at least one of --out, --metrics, --format-only, --show or --show-dir")
	}
	if len(opts.metrics) > 0 && opts.formatOnly {
		return errors.Wrap(cfg.ErrConfiguration, "--metrics and --format-only are mutually exclusive")
	}
	if err := eval.CheckOutFile(opts.out); err != nil {
		return err
	}

	cfgOverrides, err := cfg.ParseKeyValues(opts.cfgOptions)
	if err != nil {
		return err
	}
	metricOverrides, err := cfg.ParseKeyValues(opts.metricOptions)
	if err != nil {
		return err
	}

	log, _ := logger.GetZapLogger(ctx)

	dc, err := cfg.LoadDeployConfig(deployCfgPath, cfgOverrides)
	if err != nil {
		return err
	}
	mc, err := cfg.LoadModelConfig(modelCfgPath, cfgOverrides)
	if err != nil {
		return err
	}

	kind, err := task.ParseKind(dc.Codebase.Task)
	if err != nil {
		return err
	}
	tk, err := task.For(kind)
	if err != nil {
		return err
	}

	device := tensor.Device(opts.device)
	log.Info("loading backend model",
		zap.String("backend", dc.Backend.Type),
		zap.String("task", kind.String()),
		zap.String("device", string(device)))

	model, err := tk.BuildBackendModel(ctx, dc, opts.modelFiles, device)
	if err != nil {
		return err
	}
	defer func() {
		if err := model.Close(); err != nil {
			log.Warn("closing backend model", zap.Error(err))
		}
	}()

	ds, err := dataset.Build(mc.Data.Test)
	if err != nil {
		return err
	}
	log.Info("running test split", zap.Int("samples", ds.Len()))

	results, err := task.RunTest(ctx, tk, model, ds, mc, device, task.TestOptions{
		Show:         opts.show,
		ShowDir:      opts.showDir,
		ShowScoreThr: opts.showScoreThr,
	})
	if err != nil {
		return err
	}

	metrics, err := eval.ProcessOutputs(ctx, ds, results, mc.Evaluation, eval.Options{
		Out:           opts.out,
		FormatOnly:    opts.formatOnly,
		FormatDir:     opts.formatDir,
		Metrics:       opts.metrics,
		MetricOptions: metricOverrides,
	})
	if err != nil {
		return err
	}

	for _, name := range opts.metrics {
		if value, ok := metrics[name]; ok {
			fmt.Printf("%s: %.4f\n", name, value)
		}
	}
	return nil
}
