package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/visionlab-ai/deploykit/pkg/backend"
	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/dataset"
	"github.com/visionlab-ai/deploykit/pkg/logger"
	"github.com/visionlab-ai/deploykit/pkg/pipeline"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

// TestOptions control the per-sample reporting of a test run.
type TestOptions struct {
	// Show logs a one-line prediction summary per sample.
	Show bool
	// ShowDir writes per-sample prediction sidecars into the directory.
	ShowDir string
	// ShowScoreThr filters sidecar detections below this score.
	ShowScoreThr float64
}

type preparedBatch struct {
	index int
	batch *pipeline.Batch
	err   error
}

// RunTest runs the model over every dataset sample and returns the
// results in dataset order. Input preparation overlaps with inference:
// workers_per_gpu goroutines build batches ahead of the inference loop,
// which consumes them strictly in order.
func RunTest(ctx context.Context, t Task, model backend.Model, ds dataset.Dataset, mc *cfg.ModelConfig, device tensor.Device, opts TestOptions) ([]dataset.Result, error) {
	log, _ := logger.GetZapLogger(ctx)

	if opts.ShowDir != "" {
		if err := os.MkdirAll(opts.ShowDir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create show dir %s", opts.ShowDir)
		}
	}

	workers := mc.Data.WorkersPerGPU
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prepared := prefetchInputs(ctx, t, ds, mc, device, workers)

	results := make([]dataset.Result, 0, ds.Len())
	for p := range prepared {
		if p.err != nil {
			return nil, errors.Wrapf(p.err, "prepare sample %d", p.index)
		}
		batchResults, err := t.RunInference(ctx, model, p.batch)
		if err != nil {
			return nil, errors.Wrapf(err, "inference on sample %d", p.index)
		}
		for _, r := range batchResults {
			if opts.Show {
				log.Info("prediction",
					zap.Int("sample", p.index),
					zap.Int("topLabel", r.TopLabel()),
					zap.Int("boxes", len(r.Boxes)))
			}
			if opts.ShowDir != "" {
				if err := writeSidecar(opts.ShowDir, p.index, r, opts.ShowScoreThr); err != nil {
					return nil, err
				}
			}
			results = append(results, r)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Info("test run finished", zap.Int("samples", len(results)))
	return results, nil
}

// prefetchInputs builds batches concurrently and emits them in dataset
// order. The returned channel closes after the last sample, or early
// when the context is cancelled.
func prefetchInputs(ctx context.Context, t Task, ds dataset.Dataset, mc *cfg.ModelConfig, device tensor.Device, workers int) <-chan preparedBatch {
	n := ds.Len()
	jobs := make(chan int)
	built := make(chan preparedBatch, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				p := preparedBatch{index: i}
				input, err := ds.Input(i)
				if err != nil {
					p.err = err
				} else {
					p.batch, _, p.err = t.CreateInput(mc, input, device)
				}
				select {
				case built <- p:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(built)
	}()

	// Reorder: workers finish out of order, the consumer needs dataset
	// order.
	out := make(chan preparedBatch)
	go func() {
		defer close(out)
		pending := map[int]preparedBatch{}
		next := 0
		for p := range built {
			pending[p.index] = p
			for {
				ready, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				select {
				case out <- ready:
				case <-ctx.Done():
					return
				}
				next++
			}
		}
	}()

	return out
}

// writeSidecar stores one sample's prediction as JSON, detections
// filtered by the score threshold.
func writeSidecar(dir string, index int, r dataset.Result, scoreThr float64) error {
	filtered := r
	if len(r.Boxes) > 0 {
		filtered = dataset.Result{}
		for i, box := range r.Boxes {
			if float64(r.Scores[i]) < scoreThr {
				continue
			}
			filtered.Boxes = append(filtered.Boxes, box)
			filtered.Scores = append(filtered.Scores, r.Scores[i])
			if i < len(r.Labels) {
				filtered.Labels = append(filtered.Labels, r.Labels[i])
			}
		}
	}

	payload, err := json.MarshalIndent(filtered, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("model_output%d.json", index))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return errors.Wrapf(err, "write prediction %s", path)
	}
	return nil
}
