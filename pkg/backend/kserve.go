package backend

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/visionlab-ai/deploykit/config"
	"github.com/visionlab-ai/deploykit/pkg/cfg"
	"github.com/visionlab-ai/deploykit/pkg/pipeline"
	"github.com/visionlab-ai/deploykit/pkg/tensor"
)

// KServe-v2 inference protocol payloads. Only FP32 tensors cross this
// boundary.
type kserveTensor struct {
	Name     string    `json:"name"`
	Shape    []int64   `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type kserveInferRequest struct {
	Inputs  []kserveTensor        `json:"inputs"`
	Outputs []kserveRequestOutput `json:"outputs,omitempty"`
}

type kserveRequestOutput struct {
	Name string `json:"name"`
}

type kserveInferResponse struct {
	ModelName string         `json:"model_name"`
	Outputs   []kserveTensor `json:"outputs"`
}

type kserveMetadataResponse struct {
	Name    string                 `json:"name"`
	Inputs  []kserveTensorMetadata `json:"inputs"`
	Outputs []kserveTensorMetadata `json:"outputs"`
}

type kserveTensorMetadata struct {
	Name     string  `json:"name"`
	Datatype string  `json:"datatype"`
	Shape    []int64 `json:"shape"`
}

type kserveModel struct {
	client      *resty.Client
	modelPath   string
	inputNames  []string
	outputNames []string
}

// newKServeModel checks server readiness and pulls the model metadata
// so inference requests can name inputs and outputs.
func newKServeModel(ctx context.Context, kc cfg.KServeConfig) (Model, error) {
	if kc.Endpoint == "" || kc.ModelName == "" {
		return nil, errors.Wrap(cfg.ErrConfiguration, "backend.kserve requires endpoint and model_name")
	}

	modelPath := fmt.Sprintf("/v2/models/%s", kc.ModelName)
	if kc.ModelVersion != "" {
		modelPath = fmt.Sprintf("%s/versions/%s", modelPath, kc.ModelVersion)
	}

	// ForceContentType keeps SetResult decoding working against servers
	// that omit the JSON Content-Type header.
	client := resty.New().
		SetBaseURL(kc.Endpoint).
		SetTimeout(config.Config.KServe.Timeout).
		SetRetryCount(config.Config.KServe.RetryCount)

	ready, err := client.R().SetContext(ctx).ForceContentType("application/json").Get(modelPath + "/ready")
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "model ready check at %s: %v", kc.Endpoint, err)
	}
	if ready.IsError() {
		return nil, errors.Wrapf(ErrModelLoad, "model %s is not ready (%s)", kc.ModelName, ready.Status())
	}

	var metadata kserveMetadataResponse
	meta, err := client.R().SetContext(ctx).SetResult(&metadata).ForceContentType("application/json").Get(modelPath)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "model metadata: %v", err)
	}
	if meta.IsError() {
		return nil, errors.Wrapf(ErrModelLoad, "model metadata: %s", meta.Status())
	}
	if len(metadata.Outputs) == 0 {
		return nil, errors.Wrapf(ErrModelLoad, "model %s metadata declares no outputs", kc.ModelName)
	}

	m := &kserveModel{client: client, modelPath: modelPath}
	for _, in := range metadata.Inputs {
		m.inputNames = append(m.inputNames, in.Name)
	}
	for _, out := range metadata.Outputs {
		m.outputNames = append(m.outputNames, out.Name)
	}
	return m, nil
}

func (m *kserveModel) Infer(ctx context.Context, batch *pipeline.Batch) ([]*tensor.Tensor, error) {
	feeds, err := batchInputs(batch, m.inputNames)
	if err != nil {
		return nil, err
	}

	req := kserveInferRequest{}
	for i, feed := range feeds {
		req.Inputs = append(req.Inputs, kserveTensor{
			Name:     m.inputNames[i],
			Shape:    feed.Shape,
			Datatype: "FP32",
			Data:     feed.Data,
		})
	}
	for _, name := range m.outputNames {
		req.Outputs = append(req.Outputs, kserveRequestOutput{Name: name})
	}

	var resp kserveInferResponse
	httpResp, err := m.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		ForceContentType("application/json").
		Post(m.modelPath + "/infer")
	if err != nil {
		return nil, errors.Wrap(err, "infer request")
	}
	if httpResp.IsError() {
		return nil, errors.Errorf("infer request failed: %s: %s", httpResp.Status(), httpResp.String())
	}

	byName := make(map[string]kserveTensor, len(resp.Outputs))
	for _, out := range resp.Outputs {
		byName[out.Name] = out
	}

	results := make([]*tensor.Tensor, 0, len(m.outputNames))
	for _, name := range m.outputNames {
		out, ok := byName[name]
		if !ok {
			return nil, errors.Errorf("response is missing output %q", name)
		}
		t, err := tensor.New(out.Shape, out.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "output %q", name)
		}
		results = append(results, t)
	}
	return results, nil
}

func (m *kserveModel) OutputNames() []string {
	return m.outputNames
}

// Close releases the HTTP client's idle connections; the server-side
// model stays loaded.
func (m *kserveModel) Close() error {
	if m.client != nil {
		m.client.GetClient().CloseIdleConnections()
		m.client = nil
	}
	return nil
}
