package art_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NethermindEth/yayois-imagegen/pkg/imagegen/art"
)

type mockPipeline struct {
	run   func(ctx context.Context, prompt string, steps int) (*art.PipelineOutput, error)
	calls atomic.Int32
}

func (m *mockPipeline) Run(ctx context.Context, prompt string, steps int) (*art.PipelineOutput, error) {
	m.calls.Add(1)
	return m.run(ctx, prompt, steps)
}

func testImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{G: 200, A: 255})
	return img
}

func outputOf(images ...image.Image) *art.PipelineOutput {
	return &art.PipelineOutput{Images: images}
}

func newTestGenerator(t *testing.T, pipeline art.Pipeline, opts art.GeneratorOptions) *art.Generator {
	generator, err := art.NewGenerator(pipeline, opts)
	require.NoError(t, err)
	t.Cleanup(generator.Close)
	return generator
}

func TestNewGenerator(t *testing.T) {
	pipeline := &mockPipeline{}

	tests := []struct {
		name     string
		pipeline art.Pipeline
		opts     art.GeneratorOptions
		wantErr  bool
	}{
		{name: "defaults", pipeline: pipeline, opts: art.GeneratorOptions{}},
		{name: "bounded", pipeline: pipeline, opts: art.GeneratorOptions{MaxConcurrent: 2, MaxQueued: 8, Timeout: time.Minute}},
		{name: "nil pipeline", pipeline: nil, wantErr: true},
		{name: "negative queue", pipeline: pipeline, opts: art.GeneratorOptions{MaxQueued: -1}, wantErr: true},
		{name: "negative timeout", pipeline: pipeline, opts: art.GeneratorOptions{Timeout: -time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := art.NewGenerator(tt.pipeline, tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, generator)
				return
			}
			require.NoError(t, err)
			generator.Close()
		})
	}
}

func TestGenerator_Generate(t *testing.T) {
	t.Run("encodes first image as png", func(t *testing.T) {
		pipeline := &mockPipeline{
			run: func(ctx context.Context, prompt string, steps int) (*art.PipelineOutput, error) {
				assert.Equal(t, "a red fox", prompt)
				assert.Equal(t, 25, steps)
				return outputOf(testImage(8, 6), testImage(2, 2)), nil
			},
		}
		generator := newTestGenerator(t, pipeline, art.GeneratorOptions{})

		data, err := generator.Generate(context.Background(), "a red fox", 25)
		require.NoError(t, err)

		decoded, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 8, 6), decoded.Bounds())
		assert.Equal(t, int32(1), pipeline.calls.Load())
	})

	t.Run("pipeline failure is an infrastructure error", func(t *testing.T) {
		pipeline := &mockPipeline{
			run: func(ctx context.Context, prompt string, steps int) (*art.PipelineOutput, error) {
				return nil, assert.AnError
			},
		}
		generator := newTestGenerator(t, pipeline, art.GeneratorOptions{})

		_, err := generator.Generate(context.Background(), "a red fox", 25)

		var infraErr *art.InfrastructureError
		require.ErrorAs(t, err, &infraErr)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, int32(1), pipeline.calls.Load())
	})

	t.Run("typed pipeline errors pass through", func(t *testing.T) {
		pipeline := &mockPipeline{
			run: func(ctx context.Context, prompt string, steps int) (*art.PipelineOutput, error) {
				return nil, &art.ValidationError{Reason: "prompt too long"}
			},
		}
		generator := newTestGenerator(t, pipeline, art.GeneratorOptions{})

		_, err := generator.Generate(context.Background(), "a red fox", 25)

		var validationErr *art.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "prompt too long", validationErr.Reason)
	})

	t.Run("no images", func(t *testing.T) {
		pipeline := &mockPipeline{
			run: func(ctx context.Context, prompt string, steps int) (*art.PipelineOutput, error) {
				return outputOf(), nil
			},
		}
		generator := newTestGenerator(t, pipeline, art.GeneratorOptions{})

		_, err := generator.Generate(context.Background(), "a red fox", 25)

		var infraErr *art.InfrastructureError
		require.ErrorAs(t, err, &infraErr)
		assert.ErrorIs(t, err, art.ErrNoImages)
	})

	t.Run("timeout", func(t *testing.T) {
		pipeline := &mockPipeline{
			run: func(ctx context.Context, prompt string, steps int) (*art.PipelineOutput, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}
		generator := newTestGenerator(t, pipeline, art.GeneratorOptions{Timeout: 50 * time.Millisecond})

		_, err := generator.Generate(context.Background(), "a red fox", 25)

		var infraErr *art.InfrastructureError
		require.ErrorAs(t, err, &infraErr)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("cancelled before start skips the pipeline", func(t *testing.T) {
		pipeline := &mockPipeline{
			run: func(ctx context.Context, prompt string, steps int) (*art.PipelineOutput, error) {
				return outputOf(testImage(1, 1)), nil
			},
		}
		generator := newTestGenerator(t, pipeline, art.GeneratorOptions{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := generator.Generate(ctx, "a red fox", 25)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(0), pipeline.calls.Load())
	})

	t.Run("closed", func(t *testing.T) {
		pipeline := &mockPipeline{}
		generator := newTestGenerator(t, pipeline, art.GeneratorOptions{})
		generator.Close()

		_, err := generator.Generate(context.Background(), "a red fox", 25)

		assert.ErrorIs(t, err, art.ErrPoolClosed)
		assert.Equal(t, int32(0), pipeline.calls.Load())
	})
}

func TestGenerator_Admission(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	pipeline := &mockPipeline{
		run: func(ctx context.Context, prompt string, steps int) (*art.PipelineOutput, error) {
			close(started)
			<-release
			return outputOf(testImage(1, 1)), nil
		},
	}
	generator := newTestGenerator(t, pipeline, art.GeneratorOptions{MaxConcurrent: 1, MaxQueued: 0})

	errCh := make(chan error, 1)
	go func() {
		_, err := generator.Generate(context.Background(), "first", 10)
		errCh <- err
	}()

	<-started
	assert.Equal(t, int64(1), generator.Running())

	_, err := generator.Generate(context.Background(), "second", 10)

	var exhaustedErr *art.ResourceExhaustedError
	require.ErrorAs(t, err, &exhaustedErr)
	assert.Equal(t, int32(1), pipeline.calls.Load())

	close(release)
	require.NoError(t, <-errCh)

	// the slot is free again once the first generation returns
	pipeline.run = func(ctx context.Context, prompt string, steps int) (*art.PipelineOutput, error) {
		return outputOf(testImage(1, 1)), nil
	}
	_, err = generator.Generate(context.Background(), "third", 10)
	assert.NoError(t, err)
}

func TestGenerator_CancelledWhileQueued(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	pipeline := &mockPipeline{
		run: func(ctx context.Context, prompt string, steps int) (*art.PipelineOutput, error) {
			started <- struct{}{}
			<-release
			return outputOf(testImage(1, 1)), nil
		},
	}
	generator := newTestGenerator(t, pipeline, art.GeneratorOptions{MaxConcurrent: 1, MaxQueued: 1})

	firstErr := make(chan error, 1)
	go func() {
		_, err := generator.Generate(context.Background(), "running", 10)
		firstErr <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	queuedErr := make(chan error, 1)
	go func() {
		_, err := generator.Generate(ctx, "queued", 10)
		queuedErr <- err
	}()

	require.Eventually(t, func() bool {
		return generator.Waiting() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-queuedErr:
		var infraErr *art.InfrastructureError
		require.ErrorAs(t, err, &infraErr)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller is still waiting for a worker")
	}

	// the cancelled caller gave its admission slot back
	thirdErr := make(chan error, 1)
	go func() {
		_, err := generator.Generate(context.Background(), "third", 10)
		thirdErr <- err
	}()

	select {
	case err := <-thirdErr:
		t.Fatalf("third generation returned before the worker was free: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-firstErr)
	require.NoError(t, <-thirdErr)
	assert.Equal(t, int32(2), pipeline.calls.Load())
}

func TestGenerator_Concurrent(t *testing.T) {
	const n = 3

	var entered sync.WaitGroup
	entered.Add(n)
	allEntered := make(chan struct{})
	go func() {
		entered.Wait()
		close(allEntered)
	}()

	pipeline := &mockPipeline{
		run: func(ctx context.Context, prompt string, steps int) (*art.PipelineOutput, error) {
			entered.Done()
			select {
			case <-allEntered:
				return outputOf(testImage(2, 2)), nil
			case <-time.After(5 * time.Second):
				return nil, errors.New("generations were serialized")
			}
		},
	}
	generator := newTestGenerator(t, pipeline, art.GeneratorOptions{MaxConcurrent: n})

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = generator.Generate(context.Background(), "cat", 5)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}
