package art

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxConcurrent = 1
	DefaultMaxQueued     = 16
)

type GeneratorOptions struct {
	// MaxConcurrent caps pipeline calls running at once on the device.
	MaxConcurrent int
	// MaxQueued is how many requests may wait for a worker before new ones
	// are rejected.
	MaxQueued int
	// Timeout bounds a single generation. Zero means no timeout.
	Timeout time.Duration
}

// Generator runs a shared Pipeline on a bounded worker pool and returns the
// first produced image as PNG bytes.
type Generator struct {
	pipeline  Pipeline
	pool      pond.ResultPool[[]byte]
	admission *semaphore.Weighted
	timeout   time.Duration
	closed    atomic.Bool
}

var _ ImageGenerator = (*Generator)(nil)

func NewGenerator(pipeline Pipeline, opts GeneratorOptions) (*Generator, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline is nil")
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.MaxQueued < 0 {
		return nil, fmt.Errorf("max queued must not be negative, got %d", opts.MaxQueued)
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", opts.Timeout)
	}

	return &Generator{
		pipeline:  pipeline,
		pool:      pond.NewResultPool[[]byte](opts.MaxConcurrent),
		admission: semaphore.NewWeighted(int64(opts.MaxConcurrent + opts.MaxQueued)),
		timeout:   opts.Timeout,
	}, nil
}

func (g *Generator) Generate(ctx context.Context, prompt string, numInferenceSteps int) ([]byte, error) {
	if g.closed.Load() {
		return nil, &InfrastructureError{Err: ErrPoolClosed}
	}

	if !g.admission.TryAcquire(1) {
		return nil, &ResourceExhaustedError{Reason: "generation queue is full"}
	}
	defer g.admission.Release(1)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	task := g.pool.SubmitErr(func() ([]byte, error) {
		// the caller may have gone away while the task was queued
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return g.run(ctx, prompt, numInferenceSteps)
	})

	// a queued task skips itself once ctx is done, so the caller need not wait
	// for it to reach a worker
	select {
	case <-task.Done():
	case <-ctx.Done():
		return nil, &InfrastructureError{Err: fmt.Errorf("generation abandoned: %w", ctx.Err())}
	}

	image, err := task.Wait()
	if err != nil {
		return nil, asTyped(err)
	}

	return image, nil
}

func (g *Generator) run(ctx context.Context, prompt string, numInferenceSteps int) ([]byte, error) {
	start := time.Now()

	output, err := g.pipeline.Run(ctx, prompt, numInferenceSteps)
	if err != nil {
		return nil, err
	}

	if output == nil || len(output.Images) == 0 || output.Images[0] == nil {
		return nil, &InfrastructureError{Err: ErrNoImages}
	}

	encoded, err := encodePNG(output.Images[0])
	if err != nil {
		return nil, &InfrastructureError{Err: err}
	}

	slog.Debug("pipeline run finished", "steps", numInferenceSteps, "duration", time.Since(start), "bytes", len(encoded))

	return encoded, nil
}

// Running returns the number of workers currently executing a pipeline call.
func (g *Generator) Running() int64 {
	return g.pool.RunningWorkers()
}

// Waiting returns the number of submitted generations not yet started.
func (g *Generator) Waiting() uint64 {
	return g.pool.WaitingTasks()
}

// Close rejects new generations and waits for running ones to finish.
func (g *Generator) Close() {
	if g.closed.Swap(true) {
		return
	}
	g.pool.StopAndWait()
}
