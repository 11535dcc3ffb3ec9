package setup

const (
	EnvApiIpPort                = "API_IP_PORT"
	EnvPipelineBackend          = "PIPELINE_BACKEND"
	EnvPipelineEndpoint         = "PIPELINE_ENDPOINT"
	EnvPretrainedModel          = "PRETRAINED_MODEL"
	EnvSpectralShiftsCkptDir    = "SPECTRAL_SHIFTS_CKPT_DIR"
	EnvScheduler                = "SCHEDULER"
	EnvDevice                   = "DEVICE"
	EnvOpenAiApiKey             = "OPENAI_API_KEY"
	EnvOpenAiModel              = "OPENAI_MODEL"
	EnvOpenAiBaseUrl            = "OPENAI_BASE_URL"
	EnvMaxConcurrentGenerations = "MAX_CONCURRENT_GENERATIONS"
	EnvMaxQueuedGenerations     = "MAX_QUEUED_GENERATIONS"
	EnvGenerationTimeout        = "GENERATION_TIMEOUT"
	EnvDefaultInferenceSteps    = "DEFAULT_INFERENCE_STEPS"
	EnvMaxInferenceSteps        = "MAX_INFERENCE_STEPS"
	EnvMaxPromptLength          = "MAX_PROMPT_LENGTH"
	EnvImageCacheSize           = "IMAGE_CACHE_SIZE"
	EnvImageCacheTtl            = "IMAGE_CACHE_TTL"
	EnvMetricsEnabled           = "METRICS_ENABLED"
	EnvCorsAllowedOrigins       = "CORS_ALLOWED_ORIGINS"
	EnvLogFormat                = "LOG_FORMAT"
)
