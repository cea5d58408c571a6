package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services. Callers match them with errors.Is
// after any number of %w wraps.
var (
	// ErrEmbeddingUnavailable means the embedding provider cannot produce
	// vectors. There is no keyword fallback; runs fail fast on it.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrDetection means the detector received malformed input (empty,
	// blank, or invalid UTF-8). Well-formed prompts never trigger it.
	ErrDetection = errors.New("reference detection failed")

	// ErrPersistence means a memory write failed and nothing was stored.
	ErrPersistence = errors.New("memory persistence failed")

	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// Stage names the pipeline step an error belongs to.
type Stage string

const (
	StageDetecting       Stage = "detecting"
	StageRetrieving      Stage = "retrieving"
	StageComposing       Stage = "composing"
	StageImageGenerating Stage = "image_generating"
	StageModelGenerating Stage = "model_generating"
	StagePersisting      Stage = "persisting"
)

// GenerationError reports a failed image or model generation call. The
// gateway never retries; the orchestrator decides what to do with it.
type GenerationError struct {
	Stage   Stage
	Message string
	Err     error
}

// Error implements the error interface.
// Parameters: none.
// Returns:
//   - string: human-readable description including the stage.
func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed at %s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("generation failed at %s: %s", e.Stage, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
// Parameters: none.
// Returns:
//   - error: wrapped cause, possibly nil.
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// PipelineError is the terminal error of a failed run. Exactly one stage is
// named; the wrapped cause is the stage's own error.
type PipelineError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
// Parameters: none.
// Returns:
//   - string: human-readable description including the failed stage.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
// Parameters: none.
// Returns:
//   - error: wrapped cause, possibly nil.
func (e *PipelineError) Unwrap() error {
	return e.Err
}
