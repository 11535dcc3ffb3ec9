package art

import (
	"errors"
	"fmt"
)

const RejectedInputReason = "the pipeline rejected the prompt"

var (
	ErrNoImages   = errors.New("pipeline returned no images")
	ErrPoolClosed = errors.New("generator is closed")
)

// ValidationError reports input the pipeline cannot accept. Reason is safe to
// show to clients; Detail holds the backend's own message and is only logged.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("invalid generation input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid generation input: %s: %s", e.Reason, e.Detail)
}

// InfrastructureError wraps failures of the pipeline or its transport.
type InfrastructureError struct {
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// ResourceExhaustedError reports that no capacity is left to run a generation,
// either in the admission queue or on the device itself.
type ResourceExhaustedError struct {
	Reason string
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resources exhausted: %s", e.Reason)
}

// asTyped keeps already typed errors and wraps everything else as an
// InfrastructureError.
func asTyped(err error) error {
	var validationErr *ValidationError
	var exhaustedErr *ResourceExhaustedError
	var infraErr *InfrastructureError
	if errors.As(err, &validationErr) || errors.As(err, &exhaustedErr) || errors.As(err, &infraErr) {
		return err
	}
	return &InfrastructureError{Err: err}
}
