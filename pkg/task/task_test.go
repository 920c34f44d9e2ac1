package task

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/pipeline"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

func writeTestImage(t *testing.T, path string, w, h int, seed uint8) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x*17+y*31) + seed
			img.Set(x, y, color.NRGBA{R: v, G: v / 2, B: v / 3, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeTestPoints(t *testing.T, path string, points [][]float32) {
	t.Helper()
	var flat []float32
	for _, p := range points {
		flat = append(flat, p...)
	}
	require.NoError(t, os.WriteFile(path, tensor.SerializeFloat32(flat), 0o644))
}

func classificationModelConfig() *cfg.ModelConfig {
	return &cfg.ModelConfig{
		Data: cfg.DataConfig{
			Test: cfg.DatasetConfig{
				Type: "classification",
				Pipeline: []cfg.StepConfig{
					{Type: pipeline.StepResize, Options: map[string]any{"size": []any{8, 6}}},
					{Type: pipeline.StepNormalize, Options: map[string]any{
						"mean": []any{127.5, 127.5, 127.5},
						"std":  []any{127.5, 127.5, 127.5},
					}},
					{Type: pipeline.StepImageToTensor, Options: map[string]any{"keys": []any{"img"}}},
					{Type: pipeline.StepCollect, Options: map[string]any{"keys": []any{"img"}}},
				},
			},
		},
	}
}

func TestParseKind_Task(t *testing.T) {
	k, err := ParseKind("classification")
	require.NoError(t, err)
	assert.Equal(t, KindClassification, k)

	k, err = ParseKind("voxel_detection")
	require.NoError(t, err)
	assert.Equal(t, KindVoxelDetection, k)

	_, err = ParseKind("pose_estimation")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestFor(t *testing.T) {
	for _, kind := range []Kind{KindClassification, KindVoxelDetection} {
		task, err := For(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, task.Kind())
	}

	_, err := For(Kind(99))
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestClassification_CreateInputFromPath(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "cat.png")
	writeTestImage(t, imgPath, 12, 10, 0)

	// The config pipeline has no load step; a path input must still
	// work, which only happens if the load transform gets prepended.
	mc := classificationModelConfig()
	require.NotEqual(t, pipeline.StepLoadImageFromFile, mc.Data.Test.Pipeline[0].Type)

	task := &Classification{}
	batch, img, err := task.CreateInput(mc, imgPath, tensor.DeviceCPU)
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Size())
	assert.Equal(t, []int64{1, 3, 8, 6}, img.Shape)
	assert.Equal(t, imgPath, batch.Meta[0][pipeline.KeyFilename])
}

func TestClassification_CreateInputFromTensor(t *testing.T) {
	data := make([]float32, 3*8*6)
	for i := range data {
		data[i] = float32(i) * 0.25
	}
	in, err := tensor.New([]int64{3, 8, 6}, data)
	require.NoError(t, err)

	mc := &cfg.ModelConfig{
		Data: cfg.DataConfig{
			Test: cfg.DatasetConfig{
				Pipeline: []cfg.StepConfig{
					{Type: pipeline.StepLoadImageFromFile},
					{Type: pipeline.StepImageToTensor, Options: map[string]any{"keys": []any{"img"}}},
					{Type: pipeline.StepCollect, Options: map[string]any{"keys": []any{"img"}}},
				},
			},
		},
	}

	task := &Classification{}
	batch, img, err := task.CreateInput(mc, in, tensor.DeviceCPU)
	require.NoError(t, err)

	// Preprocessed tensors bypass loading and keep their content.
	assert.Equal(t, 1, batch.Size())
	assert.Equal(t, []int64{1, 3, 8, 6}, img.Shape)
	assert.Equal(t, data, img.Data)
}

func TestClassification_CreateInputRejectsUnknownPayload(t *testing.T) {
	task := &Classification{}
	_, _, err := task.CreateInput(classificationModelConfig(), 42, tensor.DeviceCPU)
	assert.ErrorIs(t, err, pipeline.ErrInputFormat)
}

func TestClassification_RunInference(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "dog.png")
	writeTestImage(t, imgPath, 8, 6, 7)

	task := &Classification{}
	batch, _, err := task.CreateInput(classificationModelConfig(), imgPath, tensor.DeviceCPU)
	require.NoError(t, err)

	model := &fakeModel{outputs: constOutputs([]int64{1, 3}, []float32{0.1, 0.7, 0.2})}
	results, err := task.RunInference(context.Background(), model, batch)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, []float32{0.1, 0.7, 0.2}, results[0].Scores)
	assert.Equal(t, 1, results[0].TopLabel())
}

func TestClassification_RunInferenceBatchMismatch(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "dog.png")
	writeTestImage(t, imgPath, 8, 6, 3)

	task := &Classification{}
	batch, _, err := task.CreateInput(classificationModelConfig(), imgPath, tensor.DeviceCPU)
	require.NoError(t, err)

	model := &fakeModel{outputs: constOutputs([]int64{2, 3}, make([]float32, 6))}
	_, err = task.RunInference(context.Background(), model, batch)
	assert.Error(t, err)
}

func voxelModelConfig() *cfg.ModelConfig {
	return &cfg.ModelConfig{
		Data: cfg.DataConfig{
			Test: cfg.DatasetConfig{
				Type:      "voxel_detection",
				BoxType3D: "lidar",
				Pipeline: []cfg.StepConfig{
					{Type: pipeline.StepLoadPointsFromFile, Options: map[string]any{"load_dim": 4, "use_dim": 4}},
					{Type: pipeline.StepPointsRangeFilter, Options: map[string]any{
						"point_cloud_range": []any{-10.0, -10.0, -5.0, 10.0, 10.0, 5.0},
					}},
					{Type: pipeline.StepDefaultFormatBundle3D},
					{Type: pipeline.StepCollect3D, Options: map[string]any{"keys": []any{"points"}}},
				},
			},
		},
	}
}

func TestVoxelDetection_CreateInput(t *testing.T) {
	pcdPath := filepath.Join(t.TempDir(), "scan.bin")
	writeTestPoints(t, pcdPath, [][]float32{
		{1, 2, 0.5, 0.9},
		{50, 0, 0, 0.1}, // outside the range filter
		{-3, 4, -1, 0.4},
	})

	task := &VoxelDetection{}
	batch, points, err := task.CreateInput(voxelModelConfig(), pcdPath, tensor.DeviceCPU)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 4}, points.Shape)
	assert.Equal(t, "lidar", batch.Meta[0][pipeline.KeyBoxType3D])
	assert.Equal(t, "lidar", batch.Meta[0][pipeline.KeyBoxMode3D])

	align, ok := batch.Meta[0][pipeline.KeyAxisAlignMatrix].([][]float32)
	require.True(t, ok)
	require.Len(t, align, 4)
	for i := range align {
		assert.Equal(t, float32(1), align[i][i])
	}
}

func TestVoxelDetection_CreateInputRejectsNonPath(t *testing.T) {
	task := &VoxelDetection{}
	_, _, err := task.CreateInput(voxelModelConfig(), []float32{1, 2, 3}, tensor.DeviceCPU)
	assert.ErrorIs(t, err, pipeline.ErrInputFormat)
}

func TestVoxelDetection_RunInference(t *testing.T) {
	pcdPath := filepath.Join(t.TempDir(), "scan.bin")
	writeTestPoints(t, pcdPath, [][]float32{{1, 2, 0.5, 0.9}})

	task := &VoxelDetection{}
	batch, _, err := task.CreateInput(voxelModelConfig(), pcdPath, tensor.DeviceCPU)
	require.NoError(t, err)

	model := &fakeModel{outputs: func(*pipeline.Batch) []*tensor.Tensor {
		boxes, _ := tensor.New([]int64{1, 2, 7}, []float32{
			0, 0, 0, 1, 1, 1, 0,
			2, 2, 0, 1, 1, 1, 0.5,
		})
		scores, _ := tensor.New([]int64{1, 2}, []float32{0.9, 0.4})
		labels, _ := tensor.New([]int64{1, 2}, []float32{0, 2})
		return []*tensor.Tensor{boxes, scores, labels}
	}}

	results, err := task.RunInference(context.Background(), model, batch)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Len(t, results[0].Boxes, 2)
	assert.Equal(t, []float32{0.9, 0.4}, results[0].Scores)
	assert.Equal(t, []int64{0, 2}, results[0].Labels)
}
