package imagegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/art"
	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/gallery"
	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/metrics"
	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/setup"
)

const shutdownTimeout = 30 * time.Second

type Service struct {
	generator art.ImageGenerator
	gallery   *gallery.Gallery
	metrics   *metrics.Recorder
	registry  *prometheus.Registry
	apiRouter *gin.Engine
	handler   http.Handler

	apiIpPort             string
	defaultInferenceSteps int
	maxInferenceSteps     int
	maxPromptLength       int
	corsAllowedOrigins    []string
}

type ServiceConfig struct {
	Generator art.ImageGenerator
	Gallery   *gallery.Gallery
	// Registry receives the generation metrics and is served on /metrics.
	// Nil disables metrics.
	Registry *prometheus.Registry

	ApiIpPort             string
	DefaultInferenceSteps int
	MaxInferenceSteps     int
	MaxPromptLength       int
	CorsAllowedOrigins    []string
}

// poolStats is implemented by generators that run on a worker pool.
type poolStats interface {
	Running() int64
	Waiting() uint64
}

func NewService(config *ServiceConfig) (*Service, error) {
	if config == nil {
		return nil, errors.New("config is nil")
	}
	if config.Generator == nil {
		return nil, errors.New("generator is nil")
	}

	service := &Service{
		generator: config.Generator,
		gallery:   config.Gallery,
		registry:  config.Registry,

		apiIpPort:             config.ApiIpPort,
		defaultInferenceSteps: config.DefaultInferenceSteps,
		maxInferenceSteps:     config.MaxInferenceSteps,
		maxPromptLength:       config.MaxPromptLength,
		corsAllowedOrigins:    config.CorsAllowedOrigins,
	}

	if service.gallery == nil {
		service.gallery = gallery.New(0, 0)
	}
	if service.defaultInferenceSteps <= 0 {
		service.defaultInferenceSteps = setup.DefaultInferenceSteps
	}
	if service.maxInferenceSteps <= 0 {
		service.maxInferenceSteps = setup.DefaultMaxInferenceSteps
	}
	if service.maxPromptLength <= 0 {
		service.maxPromptLength = setup.DefaultMaxPromptLength
	}

	if service.registry != nil {
		recorder, err := metrics.NewRecorder(service.registry)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics recorder: %w", err)
		}
		service.metrics = recorder
	}

	service.apiRouter = service.generateRouter()
	service.handler = service.corsHandler(service.apiRouter)

	return service, nil
}

// NewServiceConfigFromSetupResult wraps the loaded pipeline in a bounded
// generator and collects the service settings.
func NewServiceConfigFromSetupResult(setupResult *setup.SetupResult) (*ServiceConfig, error) {
	if setupResult == nil {
		return nil, errors.New("setup result is nil")
	}

	config := setupResult.Config

	generator, err := art.NewGenerator(setupResult.Pipeline, art.GeneratorOptions{
		MaxConcurrent: config.MaxConcurrentGenerations,
		MaxQueued:     config.MaxQueuedGenerations,
		Timeout:       config.GenerationTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	var registry *prometheus.Registry
	if config.MetricsEnabled {
		registry = prometheus.NewRegistry()
	}

	return &ServiceConfig{
		Generator: generator,
		Gallery:   gallery.New(config.ImageCacheSize, config.ImageCacheTtl),
		Registry:  registry,

		ApiIpPort:             config.ApiIpPort,
		DefaultInferenceSteps: config.DefaultInferenceSteps,
		MaxInferenceSteps:     config.MaxInferenceSteps,
		MaxPromptLength:       config.MaxPromptLength,
		CorsAllowedOrigins:    config.CorsAllowedOrigins,
	}, nil
}

// Start serves the API until ctx is done, then shuts the server down and
// closes the generator.
func (s *Service) Start(ctx context.Context) error {
	defer s.closeGenerator()

	if s.apiIpPort == "" {
		slog.Info("api ip port is empty, skipping server")
		<-ctx.Done()
		return nil
	}

	slog.Info("starting server", "port", s.apiIpPort)

	server := &http.Server{
		Addr:              s.apiIpPort,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		slog.Info("server stopped")
		return nil
	})

	return group.Wait()
}

func (s *Service) closeGenerator() {
	if closer, ok := s.generator.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (s *Service) ApiIpPort() string {
	return s.apiIpPort
}

func (s *Service) Gallery() *gallery.Gallery {
	return s.gallery
}
