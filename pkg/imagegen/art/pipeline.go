package art

import (
	"context"
	"image"
)

// Pipeline is a loaded diffusion pipeline bound to its device.
type Pipeline interface {
	Run(ctx context.Context, prompt string, numInferenceSteps int) (*PipelineOutput, error)
}

type PipelineOutput struct {
	Images []image.Image
}

// ImageGenerator produces an encoded image for a prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, numInferenceSteps int) ([]byte, error)
}
