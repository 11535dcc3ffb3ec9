package setup

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/art"
	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/gallery"
)

const (
	BackendDiffusers = "diffusers"
	BackendOpenAi    = "openai"

	DefaultApiIpPort         = ":8000"
	DefaultInferenceSteps    = 25
	DefaultMaxInferenceSteps = 150
	DefaultMaxPromptLength   = 2000
	DefaultGenerationTimeout = 0
	DefaultMaxConcurrent     = art.DefaultMaxConcurrent
	DefaultMaxQueued         = art.DefaultMaxQueued
	DefaultImageCacheSize    = gallery.DefaultSize
	DefaultImageCacheTtl     = gallery.DefaultTTL
	DefaultPipelineBackend   = BackendDiffusers
	DefaultMetricsEnabled    = true
	DefaultLogFormat         = "text"
	redactedSecret           = "<redacted>"
)

var backends = []string{BackendDiffusers, BackendOpenAi}

type Config struct {
	ApiIpPort string

	PipelineBackend       string
	PipelineEndpoint      string
	PretrainedModel       string
	SpectralShiftsCkptDir string
	Scheduler             string
	Device                string

	OpenAiApiKey  string
	OpenAiModel   string
	OpenAiBaseUrl string

	MaxConcurrentGenerations int
	MaxQueuedGenerations     int
	GenerationTimeout        time.Duration

	DefaultInferenceSteps int
	MaxInferenceSteps     int
	MaxPromptLength       int

	ImageCacheSize int
	ImageCacheTtl  time.Duration

	MetricsEnabled     bool
	CorsAllowedOrigins []string
	LogFormat          string
}

func NewConfigFromEnv() (*Config, error) {
	var errs []error

	config := &Config{
		ApiIpPort:             apiIpPortFromEnv(),
		PipelineBackend:       strings.ToLower(envOr(EnvPipelineBackend, DefaultPipelineBackend)),
		PipelineEndpoint:      os.Getenv(EnvPipelineEndpoint),
		PretrainedModel:       envOr(EnvPretrainedModel, art.DefaultPretrainedModel),
		SpectralShiftsCkptDir: os.Getenv(EnvSpectralShiftsCkptDir),
		Scheduler:             envOr(EnvScheduler, art.DefaultScheduler),
		Device:                envOr(EnvDevice, art.DefaultDevice),
		OpenAiApiKey:          os.Getenv(EnvOpenAiApiKey),
		OpenAiModel:           envOr(EnvOpenAiModel, art.DefaultOpenAiModel),
		OpenAiBaseUrl:         os.Getenv(EnvOpenAiBaseUrl),
		CorsAllowedOrigins:    splitList(os.Getenv(EnvCorsAllowedOrigins)),
		LogFormat:             strings.ToLower(envOr(EnvLogFormat, DefaultLogFormat)),
	}

	config.MaxConcurrentGenerations = envInt(EnvMaxConcurrentGenerations, DefaultMaxConcurrent, &errs)
	config.MaxQueuedGenerations = envInt(EnvMaxQueuedGenerations, DefaultMaxQueued, &errs)
	config.GenerationTimeout = envDuration(EnvGenerationTimeout, DefaultGenerationTimeout, &errs)
	config.DefaultInferenceSteps = envInt(EnvDefaultInferenceSteps, DefaultInferenceSteps, &errs)
	config.MaxInferenceSteps = envInt(EnvMaxInferenceSteps, DefaultMaxInferenceSteps, &errs)
	config.MaxPromptLength = envInt(EnvMaxPromptLength, DefaultMaxPromptLength, &errs)
	config.ImageCacheSize = envInt(EnvImageCacheSize, DefaultImageCacheSize, &errs)
	config.ImageCacheTtl = envDuration(EnvImageCacheTtl, DefaultImageCacheTtl, &errs)
	config.MetricsEnabled = envBool(EnvMetricsEnabled, DefaultMetricsEnabled, &errs)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	err := config.Validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if !lo.Contains(backends, c.PipelineBackend) {
		return fmt.Errorf("PIPELINE_BACKEND must be one of %v, got %q", backends, c.PipelineBackend)
	}
	if c.PipelineBackend == BackendDiffusers {
		if c.PipelineEndpoint == "" {
			return errors.New("PIPELINE_ENDPOINT is required")
		}
		if c.SpectralShiftsCkptDir == "" {
			return errors.New("SPECTRAL_SHIFTS_CKPT_DIR is required")
		}
	}
	if c.PipelineBackend == BackendOpenAi && c.OpenAiApiKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.MaxConcurrentGenerations <= 0 {
		return errors.New("MAX_CONCURRENT_GENERATIONS must be positive")
	}
	if c.MaxQueuedGenerations < 0 {
		return errors.New("MAX_QUEUED_GENERATIONS must not be negative")
	}
	if c.GenerationTimeout < 0 {
		return errors.New("GENERATION_TIMEOUT must not be negative")
	}
	if c.MaxInferenceSteps <= 0 {
		return errors.New("MAX_INFERENCE_STEPS must be positive")
	}
	if c.DefaultInferenceSteps <= 0 || c.DefaultInferenceSteps > c.MaxInferenceSteps {
		return fmt.Errorf("DEFAULT_INFERENCE_STEPS must be between 1 and %d", c.MaxInferenceSteps)
	}
	if c.MaxPromptLength <= 0 {
		return errors.New("MAX_PROMPT_LENGTH must be positive")
	}
	if c.ImageCacheSize < 0 {
		return errors.New("IMAGE_CACHE_SIZE must not be negative")
	}

	return nil
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	redacted := *c
	if redacted.OpenAiApiKey != "" {
		redacted.OpenAiApiKey = redactedSecret
	}
	return redacted
}

// apiIpPortFromEnv defaults an unset API_IP_PORT. Set but empty disables the
// server.
func apiIpPortFromEnv() string {
	v, ok := os.LookupEnv(EnvApiIpPort)
	if !ok {
		return DefaultApiIpPort
	}
	return strings.TrimSpace(v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer: %w", key, err))
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a duration: %w", key, err))
		return fallback
	}
	return d
}

func envBool(key string, fallback bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a boolean: %w", key, err))
		return fallback
	}
	return b
}

func splitList(v string) []string {
	return lo.Compact(lo.Map(strings.Split(v, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	}))
}
