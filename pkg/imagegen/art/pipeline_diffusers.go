package art

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	DefaultPretrainedModel = "runwayml/stable-diffusion-v1-5"
	DefaultScheduler       = "DPMSolverMultistepScheduler"
	DefaultDevice          = "cuda"

	maxErrorBodySize = 4096
)

type DiffusersOptions struct {
	// Endpoint is the base URL of the diffusers worker.
	Endpoint string
	// PretrainedModel names the base model repository.
	PretrainedModel string
	// SpectralShiftsCkptDir is the fine-tuning delta applied on top of the
	// base unet and text encoder.
	SpectralShiftsCkptDir string
	Scheduler             string
	Device                string
	HttpClient            *http.Client
}

// DiffusersPipeline drives a pipeline loaded inside a diffusers worker process.
type DiffusersPipeline struct {
	endpoint   *url.URL
	pipelineId string
	httpClient *http.Client
}

var _ Pipeline = (*DiffusersPipeline)(nil)

type loadPipelineRequest struct {
	PretrainedModel    string `json:"pretrained_model_name_or_path"`
	SpectralShiftsCkpt string `json:"spectral_shifts_ckpt"`
	Scheduler          string `json:"scheduler"`
	Device             string `json:"device"`
}

type loadPipelineResponse struct {
	PipelineId string `json:"pipeline_id"`
}

type runPipelineRequest struct {
	Prompt            string `json:"prompt"`
	NumInferenceSteps int    `json:"num_inference_steps"`
}

type runPipelineResponse struct {
	Images [][]byte `json:"images"`
}

// LoadDiffusersPipeline asks the worker to load the model weights and
// spectral shifts, swap in the scheduler and bind the pipeline to the device.
// It returns once the pipeline is ready to serve.
func LoadDiffusersPipeline(ctx context.Context, opts DiffusersOptions) (*DiffusersPipeline, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("diffusers endpoint is empty")
	}
	if opts.SpectralShiftsCkptDir == "" {
		return nil, errors.New("spectral shifts checkpoint dir is empty")
	}

	endpoint, err := url.Parse(strings.TrimRight(opts.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse diffusers endpoint: %w", err)
	}

	if opts.PretrainedModel == "" {
		opts.PretrainedModel = DefaultPretrainedModel
	}
	if opts.Scheduler == "" {
		opts.Scheduler = DefaultScheduler
	}
	if opts.Device == "" {
		opts.Device = DefaultDevice
	}
	if opts.HttpClient == nil {
		opts.HttpClient = http.DefaultClient
	}

	p := &DiffusersPipeline{
		endpoint:   endpoint,
		httpClient: opts.HttpClient,
	}

	var loaded loadPipelineResponse
	err = p.post(ctx, "/v1/pipelines", loadPipelineRequest{
		PretrainedModel:    opts.PretrainedModel,
		SpectralShiftsCkpt: opts.SpectralShiftsCkptDir,
		Scheduler:          opts.Scheduler,
		Device:             opts.Device,
	}, &loaded)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}

	if loaded.PipelineId == "" {
		return nil, errors.New("worker returned an empty pipeline id")
	}

	p.pipelineId = loaded.PipelineId

	slog.Info("loaded diffusers pipeline",
		"pipelineId", p.pipelineId,
		"model", opts.PretrainedModel,
		"scheduler", opts.Scheduler,
		"device", opts.Device,
	)

	return p, nil
}

func (p *DiffusersPipeline) PipelineId() string {
	return p.pipelineId
}

func (p *DiffusersPipeline) Run(ctx context.Context, prompt string, numInferenceSteps int) (*PipelineOutput, error) {
	var result runPipelineResponse
	err := p.post(ctx, "/v1/pipelines/"+url.PathEscape(p.pipelineId)+"/run", runPipelineRequest{
		Prompt:            prompt,
		NumInferenceSteps: numInferenceSteps,
	}, &result)
	if err != nil {
		return nil, err
	}

	images := make([]image.Image, 0, len(result.Images))
	for _, data := range result.Images {
		img, err := decodeImage(data)
		if err != nil {
			return nil, &InfrastructureError{Err: err}
		}
		images = append(images, img)
	}

	return &PipelineOutput{Images: images}, nil
}

func (p *DiffusersPipeline) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint.String()+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &InfrastructureError{Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return statusError(resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &InfrastructureError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return nil
}

// statusError maps a worker status code onto the error taxonomy.
func statusError(code int, detail string) error {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &ValidationError{Reason: RejectedInputReason, Detail: detail}
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInsufficientStorage:
		return &ResourceExhaustedError{Reason: fmt.Sprintf("worker responded %d: %s", code, detail)}
	default:
		return &InfrastructureError{Err: fmt.Errorf("unexpected status code: %d, body: %s", code, detail)}
	}
}
