package imagegen

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/art"
	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/logging"
	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/metrics"
)

const (
	ImageIdHeader = "X-Image-Id"

	internalServerErrorMessage = "Internal Server Error"
	serviceUnavailableMessage  = "Service Unavailable"
)

type GenerateImageRequest struct {
	Prompt            string `json:"prompt" binding:"required"`
	NumInferenceSteps *int   `json:"num_inference_steps" binding:"omitempty,gt=0"`
}

// GenerateImageResponse carries a PNG file. JSON encodes it as base64.
type GenerateImageResponse struct {
	Image []byte `json:"image"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Service) generateRouter() *gin.Engine {
	router := gin.New()
	router.Use(logging.Middleware("/health", "/metrics"), gin.Recovery())

	router.POST("/generate-image", s.handleGenerateImage)

	router.GET("/images/:id", func(c *gin.Context) {
		image, ok := s.gallery.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "image not found"})
			return
		}

		c.Data(http.StatusOK, "image/png", image)
	})

	router.GET("/health", func(c *gin.Context) {
		health := gin.H{"status": "ok"}
		if stats, ok := s.generator.(poolStats); ok {
			health["running"] = stats.Running()
			health["waiting"] = stats.Waiting()
		}

		c.JSON(http.StatusOK, health)
	})

	if s.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	return router
}

func (s *Service) GetRouter() *gin.Engine {
	return s.apiRouter
}

// Handler is the router wrapped in the CORS policy.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// corsHandler reflects any requesting origin with credentials allowed unless
// the allowed origins are narrowed in the config.
func (s *Service) corsHandler(next http.Handler) http.Handler {
	options := cors.Options{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodHead,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{ImageIdHeader},
		AllowCredentials: true,
	}

	if len(s.corsAllowedOrigins) > 0 {
		options.AllowedOrigins = s.corsAllowedOrigins
	} else {
		options.AllowOriginFunc = func(origin string) bool {
			return true
		}
	}

	return cors.New(options).Handler(next)
}

func (s *Service) handleGenerateImage(c *gin.Context) {
	var req GenerateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.rejectRequest(c, bindingErrorMessage(err))
		return
	}

	steps, err := s.validateRequest(&req)
	if err != nil {
		s.rejectRequest(c, err.Error())
		return
	}

	done := s.metrics.Start()

	image, err := s.generator.Generate(c.Request.Context(), req.Prompt, steps)
	if err != nil {
		status, message, outcome := errorResponse(err)
		done(outcome)

		slog.Log(c.Request.Context(), logging.LevelForStatus(status), "failed to generate image", "steps", steps, "status", status, "error", err)
		_ = c.Error(err)
		c.JSON(status, ErrorResponse{Error: message})
		return
	}

	done(metrics.OutcomeOk)

	if id := s.gallery.Add(image); id != "" {
		c.Header(ImageIdHeader, id)
	}

	c.JSON(http.StatusOK, GenerateImageResponse{Image: image})
}

// validateRequest applies the checks binding tags cannot express and returns
// the step count to use.
func (s *Service) validateRequest(req *GenerateImageRequest) (int, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return 0, errors.New("prompt must not be empty")
	}
	if len(req.Prompt) > s.maxPromptLength {
		return 0, fmt.Errorf("prompt must be at most %d bytes", s.maxPromptLength)
	}

	if req.NumInferenceSteps == nil {
		return s.defaultInferenceSteps, nil
	}

	steps := *req.NumInferenceSteps
	if steps > s.maxInferenceSteps {
		return 0, fmt.Errorf("num_inference_steps must be at most %d", s.maxInferenceSteps)
	}

	return steps, nil
}

func (s *Service) rejectRequest(c *gin.Context, message string) {
	s.metrics.Count(metrics.OutcomeInvalid)
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: message})
}

// errorResponse maps a generation failure to a status, a client message and a
// metrics outcome. Infrastructure details never reach the client.
func errorResponse(err error) (int, string, string) {
	var validationErr *art.ValidationError
	var exhaustedErr *art.ResourceExhaustedError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Reason, metrics.OutcomeInvalid
	case errors.As(err, &exhaustedErr):
		return http.StatusServiceUnavailable, serviceUnavailableMessage, metrics.OutcomeExhausted
	default:
		return http.StatusInternalServerError, internalServerErrorMessage, metrics.OutcomeError
	}
}

var bindingFieldNames = map[string]string{
	"Prompt":            "prompt",
	"NumInferenceSteps": "num_inference_steps",
}

func bindingErrorMessage(err error) string {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		fieldErr := validationErrs[0]
		field := bindingFieldNames[fieldErr.Field()]
		if field == "" {
			field = fieldErr.Field()
		}

		switch fieldErr.Tag() {
		case "required":
			return field + " is required"
		case "gt":
			return field + " must be a positive integer"
		default:
			return field + " is invalid"
		}
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("%s must be of type %s", typeErr.Field, typeErr.Type)
	}

	if errors.Is(err, io.EOF) {
		return "request body is empty"
	}

	return "invalid request body"
}
