package setup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/joho/godotenv"

	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/art"
	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/debug"
)

type SetupResult struct {
	Config   *Config
	Pipeline art.Pipeline
}

// Setup reads the configuration and loads the pipeline. Any error is fatal:
// no request can be served without a ready pipeline. Callers load .env first
// with LoadDotEnv.
func Setup(ctx context.Context) (*SetupResult, error) {
	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to get config from env: %w", err)
	}

	if debug.IsDebugShowSetup() {
		slog.Info("setup config", "config", config.Redacted())
	}

	pipeline, err := NewPipeline(ctx, config, http.DefaultClient)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}

	return &SetupResult{
		Config:   config,
		Pipeline: pipeline,
	}, nil
}

// NewPipeline builds the pipeline selected by config.PipelineBackend.
func NewPipeline(ctx context.Context, config *Config, httpClient *http.Client) (art.Pipeline, error) {
	switch config.PipelineBackend {
	case BackendDiffusers:
		pipeline, err := art.LoadDiffusersPipeline(ctx, art.DiffusersOptions{
			Endpoint:              config.PipelineEndpoint,
			PretrainedModel:       config.PretrainedModel,
			SpectralShiftsCkptDir: config.SpectralShiftsCkptDir,
			Scheduler:             config.Scheduler,
			Device:                config.Device,
			HttpClient:            httpClient,
		})
		if err != nil {
			return nil, err
		}
		return pipeline, nil
	case BackendOpenAi:
		slog.Info("using openai pipeline", "model", config.OpenAiModel)
		return art.NewOpenAiPipeline(config.OpenAiApiKey, config.OpenAiModel, config.OpenAiBaseUrl), nil
	default:
		return nil, fmt.Errorf("unknown pipeline backend %q", config.PipelineBackend)
	}
}

// LoadDotEnv loads .env from the working directory when present. Variables
// already set in the environment win.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load .env: %w", err)
}
