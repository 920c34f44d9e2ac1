package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/dataset"
	"github.com/visionlab-ai/deploykit/pkg/pipeline"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

type fakeModel struct {
	outputs func(batch *pipeline.Batch) []*tensor.Tensor
	calls   int
	closed  bool
}

func (f *fakeModel) Infer(_ context.Context, batch *pipeline.Batch) ([]*tensor.Tensor, error) {
	f.calls++
	return f.outputs(batch), nil
}

func (f *fakeModel) OutputNames() []string { return []string{"output"} }

func (f *fakeModel) Close() error {
	f.closed = true
	return nil
}

func constOutputs(shape []int64, data []float32) func(*pipeline.Batch) []*tensor.Tensor {
	return func(*pipeline.Batch) []*tensor.Tensor {
		out, _ := tensor.New(shape, data)
		return []*tensor.Tensor{out}
	}
}

// echoSumModel returns [sum(img), 0] so each sample's result identifies
// the input it was computed from.
func echoSumModel() *fakeModel {
	return &fakeModel{outputs: func(batch *pipeline.Batch) []*tensor.Tensor {
		img, _ := batch.Tensor(pipeline.KeyImage)
		var sum float32
		for _, v := range img.Data {
			sum += v
		}
		out, _ := tensor.New([]int64{1, 2}, []float32{sum, 0})
		return []*tensor.Tensor{out}
	}}
}

func classificationTestDataset(t *testing.T, dir string, n int) (dataset.Dataset, *cfg.ModelConfig) {
	t.Helper()
	annPath := filepath.Join(dir, "test.txt")
	ann, err := os.Create(annPath)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("img%d.png", i)
		writeTestImage(t, filepath.Join(dir, name), 8, 6, uint8(40*i))
		_, err = fmt.Fprintf(ann, "%s %d\n", name, i%2)
		require.NoError(t, err)
	}
	require.NoError(t, ann.Close())

	mc := classificationModelConfig()
	mc.Data.WorkersPerGPU = 2
	mc.Data.Test.DataRoot = dir
	mc.Data.Test.AnnFile = annPath

	ds, err := dataset.Build(mc.Data.Test)
	require.NoError(t, err)
	return ds, mc
}

func TestRunTest_OrderedResults(t *testing.T) {
	dir := t.TempDir()
	ds, mc := classificationTestDataset(t, dir, 4)
	task := &Classification{}
	model := echoSumModel()

	results, err := RunTest(context.Background(), task, model, ds, mc, tensor.DeviceCPU, TestOptions{})
	require.NoError(t, err)
	require.Len(t, results, ds.Len())
	assert.Equal(t, ds.Len(), model.calls)

	// Results must line up with dataset order even with two prefetch
	// workers racing.
	for i := 0; i < ds.Len(); i++ {
		input, err := ds.Input(i)
		require.NoError(t, err)
		_, img, err := task.CreateInput(mc, input, tensor.DeviceCPU)
		require.NoError(t, err)
		var want float32
		for _, v := range img.Data {
			want += v
		}
		assert.InDelta(t, want, results[i].Scores[0], 1e-4, "sample %d", i)
	}
}

func TestRunTest_ShowDirWritesSidecars(t *testing.T) {
	dir := t.TempDir()
	ds, mc := classificationTestDataset(t, dir, 2)
	showDir := filepath.Join(dir, "vis")

	_, err := RunTest(context.Background(), &Classification{}, echoSumModel(), ds, mc, tensor.DeviceCPU, TestOptions{
		Show:    true,
		ShowDir: showDir,
	})
	require.NoError(t, err)

	for i := 0; i < ds.Len(); i++ {
		payload, err := os.ReadFile(filepath.Join(showDir, fmt.Sprintf("model_output%d.json", i)))
		require.NoError(t, err)
		var r dataset.Result
		require.NoError(t, json.Unmarshal(payload, &r))
		assert.Len(t, r.Scores, 2)
	}
}

func TestRunTest_PrepareFailureStopsRun(t *testing.T) {
	dir := t.TempDir()
	ds, mc := classificationTestDataset(t, dir, 3)

	// Removing one image makes its load step fail mid-run.
	require.NoError(t, os.Remove(filepath.Join(dir, "img1.png")))

	_, err := RunTest(context.Background(), &Classification{}, echoSumModel(), ds, mc, tensor.DeviceCPU, TestOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample 1")
}

func TestWriteSidecar_ScoreThreshold(t *testing.T) {
	dir := t.TempDir()
	r := dataset.Result{
		Boxes:  [][]float32{{0, 0, 0, 1, 1, 1, 0}, {2, 2, 0, 1, 1, 1, 0}},
		Scores: []float32{0.9, 0.1},
		Labels: []int64{0, 1},
	}
	require.NoError(t, writeSidecar(dir, 0, r, 0.3))

	payload, err := os.ReadFile(filepath.Join(dir, "model_output0.json"))
	require.NoError(t, err)
	var got dataset.Result
	require.NoError(t, json.Unmarshal(payload, &got))

	require.Len(t, got.Boxes, 1)
	assert.Equal(t, []float32{0.9}, got.Scores)
	assert.Equal(t, []int64{0}, got.Labels)
}
