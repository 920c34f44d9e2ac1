package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/pipeline"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

func kserveTestServer(t *testing.T, ready bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/models/resnet/ready", func(w http.ResponseWriter, r *http.Request) {
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	mux.HandleFunc("/v2/models/resnet", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(kserveMetadataResponse{
			Name:    "resnet",
			Inputs:  []kserveTensorMetadata{{Name: "input", Datatype: "FP32", Shape: []int64{-1, 3, 8, 6}}},
			Outputs: []kserveTensorMetadata{{Name: "output", Datatype: "FP32", Shape: []int64{-1, 2}}},
		})
	})
	mux.HandleFunc("/v2/models/resnet/infer", func(w http.ResponseWriter, r *http.Request) {
		var req kserveInferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Inputs, 1)
		assert.Equal(t, "input", req.Inputs[0].Name)
		assert.Equal(t, "FP32", req.Inputs[0].Datatype)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(kserveInferResponse{
			ModelName: "resnet",
			Outputs: []kserveTensor{{
				Name: "output", Datatype: "FP32", Shape: []int64{1, 2}, Data: []float32{0.2, 0.8},
			}},
		})
	})
	return httptest.NewServer(mux)
}

func kserveConfig(endpoint string) cfg.KServeConfig {
	return cfg.KServeConfig{Endpoint: endpoint, ModelName: "resnet"}
}

func TestKServeModel_Infer(t *testing.T) {
	srv := kserveTestServer(t, true)
	defer srv.Close()

	m, err := newKServeModel(context.Background(), kserveConfig(srv.URL))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, []string{"output"}, m.OutputNames())

	img, err := tensor.New([]int64{1, 3, 8, 6}, make([]float32, 3*8*6))
	require.NoError(t, err)
	batch := &pipeline.Batch{
		Tensors: map[string]*tensor.Tensor{pipeline.KeyImage: img},
		Meta:    []map[string]any{{}},
	}

	outputs, err := m.Infer(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, []int64{1, 2}, outputs[0].Shape)
	assert.Equal(t, []float32{0.2, 0.8}, outputs[0].Data)
}

func TestKServeModel_MissingContentTypeHeader(t *testing.T) {
	// Some servers answer JSON without the Content-Type header; the
	// client must still decode the metadata.
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/models/resnet/ready", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/v2/models/resnet", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"name": "resnet",
			"inputs": [{"name": "input", "datatype": "FP32", "shape": [-1, 4]}],
			"outputs": [{"name": "output", "datatype": "FP32", "shape": [-1, 2]}]
		}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m, err := newKServeModel(context.Background(), kserveConfig(srv.URL))
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, []string{"output"}, m.OutputNames())
}

func TestKServeModel_NotReady(t *testing.T) {
	srv := kserveTestServer(t, false)
	defer srv.Close()

	_, err := newKServeModel(context.Background(), kserveConfig(srv.URL))
	assert.ErrorIs(t, err, ErrModelLoad)
}

func TestKServeModel_MissingConfig(t *testing.T) {
	_, err := newKServeModel(context.Background(), cfg.KServeConfig{})
	assert.ErrorIs(t, err, cfg.ErrConfiguration)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("onnxruntime")
	require.NoError(t, err)
	assert.Equal(t, KindONNXRuntime, k)

	k, err = ParseKind("kserve")
	require.NoError(t, err)
	assert.Equal(t, KindKServe, k)

	_, err = ParseKind("tensorrt")
	assert.ErrorIs(t, err, cfg.ErrConfiguration)
}

func TestBuild_MissingONNXArtifact(t *testing.T) {
	dc := &cfg.DeployConfig{}
	dc.Backend.Type = "onnxruntime"
	dc.Backend.ONNXRuntime = cfg.ONNXRuntimeConfig{
		InputNames:  []string{"input"},
		OutputNames: []string{"output"},
	}

	_, err := Build(context.Background(), dc, []string{"/nonexistent/model.onnx"}, tensor.DeviceCPU)
	assert.ErrorIs(t, err, ErrModelLoad)

	_, err = Build(context.Background(), dc, nil, tensor.DeviceCPU)
	assert.ErrorIs(t, err, ErrModelLoad)
}
