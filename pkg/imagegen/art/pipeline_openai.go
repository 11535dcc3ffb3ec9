package art

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

const DefaultOpenAiModel = openai.CreateImageModelDallE2

// OpenAiPipeline delegates generation to the OpenAI images API. The API has no
// notion of inference steps, so the step count is ignored.
type OpenAiPipeline struct {
	model  string
	size   string
	client *openai.Client
}

var _ Pipeline = (*OpenAiPipeline)(nil)

func NewOpenAiPipeline(apiKey string, model string, baseUrl string) *OpenAiPipeline {
	config := openai.DefaultConfig(apiKey)
	if baseUrl != "" {
		config.BaseURL = baseUrl
	}
	if model == "" {
		model = DefaultOpenAiModel
	}

	return &OpenAiPipeline{
		model:  model,
		size:   openai.CreateImageSize512x512,
		client: openai.NewClientWithConfig(config),
	}
}

func (p *OpenAiPipeline) Run(ctx context.Context, prompt string, numInferenceSteps int) (*PipelineOutput, error) {
	req := openai.ImageRequest{
		Prompt:         prompt,
		Size:           p.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
		Model:          p.model,
	}

	resp, err := p.client.CreateImage(ctx, req)
	if err != nil {
		return nil, openAiError(err)
	}

	if len(resp.Data) == 0 {
		return nil, &InfrastructureError{Err: ErrNoImages}
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, &InfrastructureError{Err: fmt.Errorf("failed to decode b64 image: %w", err)}
	}

	img, err := decodeImage(data)
	if err != nil {
		return nil, &InfrastructureError{Err: err}
	}

	return &PipelineOutput{Images: []image.Image{img}}, nil
}

func openAiError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return statusError(apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 && reqErr.HTTPStatusCode != http.StatusOK {
		return statusError(reqErr.HTTPStatusCode, reqErr.Error())
	}

	return &InfrastructureError{Err: err}
}
