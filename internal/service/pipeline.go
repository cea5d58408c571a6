package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rin/mnemo/internal/domain"
	"github.com/rin/mnemo/internal/logger"
)

const (
	// maxGenerationAttempts bounds image and model generation to one retry.
	maxGenerationAttempts = 2
	retryBaseDelay        = 100 * time.Millisecond

	retrieveStageTimeout = 15 * time.Second
	composeStageTimeout  = 90 * time.Second
	generateStageTimeout = 10 * time.Minute
	persistStageTimeout  = 30 * time.Second
)

// PipelineState names a stage of a creation run. The working states mirror
// the error taxonomy's stage names; Idle, Completed, and Failed frame them.
type PipelineState string

const (
	StateIdle            PipelineState = "idle"
	StateDetecting       PipelineState = PipelineState(domain.StageDetecting)
	StateRetrieving      PipelineState = PipelineState(domain.StageRetrieving)
	StateComposing       PipelineState = PipelineState(domain.StageComposing)
	StateImageGenerating PipelineState = PipelineState(domain.StageImageGenerating)
	StateModelGenerating PipelineState = PipelineState(domain.StageModelGenerating)
	StatePersisting      PipelineState = PipelineState(domain.StagePersisting)
	StateCompleted       PipelineState = "completed"
	StateFailed          PipelineState = "failed"
)

// pipelineTransitions lists the legal forward transitions. Failed is
// additionally reachable from every non-terminal state; no state is ever
// revisited.
var pipelineTransitions = map[PipelineState]PipelineState{
	StateIdle:            StateDetecting,
	StateDetecting:       StateRetrieving,
	StateRetrieving:      StateComposing,
	StateComposing:       StateImageGenerating,
	StateImageGenerating: StateModelGenerating,
	StateModelGenerating: StatePersisting,
	StatePersisting:      StateCompleted,
}

// run is the mutable state of one pipeline execution. Each Run call owns its
// own instance; nothing here is shared between concurrent runs.
type run struct {
	id    string
	state PipelineState
}

func newRun(id string) *run {
	return &run{id: id, state: StateIdle}
}

// advance moves the run to the next working state. It refuses transitions
// the state machine does not allow and stops the run when the caller's
// context is already done, so cancellation takes effect between stages.
func (r *run) advance(ctx context.Context, next PipelineState) error {
	if err := ctx.Err(); err != nil {
		r.state = StateFailed
		return err
	}
	if pipelineTransitions[r.state] != next {
		return fmt.Errorf("illegal pipeline transition %s -> %s", r.state, next)
	}
	r.state = next
	return nil
}

func (r *run) complete() {
	r.state = StateCompleted
}

func (r *run) fail() {
	r.state = StateFailed
}

// CreationPipeline orchestrates one prompt-to-model run: detect references,
// retrieve similar past creations, compose the enriched prompt, generate the
// image and the 3D model, and persist the resulting record. Generation
// stages get at most one retry; everything else fails the run on first
// error, and a failed run persists nothing.
type CreationPipeline struct {
	memory    *MemoryService
	composer  *ContextComposer
	expansion *PromptExpansionService
	gateway   *GenerationGateway
	logger    *logger.Logger
}

// NewCreationPipeline wires the full pipeline from its services.
// Parameters:
//   - memory: creation store used for retrieval and persistence.
//   - composer: deterministic context composer.
//   - expansion: optional LLM polish; a disabled service is a no-op.
//   - gateway: image and 3D generation backends.
//   - log: base logger used when the context carries none.
// Returns:
//   - *CreationPipeline: ready-to-use pipeline.
func NewCreationPipeline(
	memory *MemoryService,
	composer *ContextComposer,
	expansion *PromptExpansionService,
	gateway *GenerationGateway,
	log *logger.Logger,
) *CreationPipeline {
	return &CreationPipeline{
		memory:    memory,
		composer:  composer,
		expansion: expansion,
		gateway:   gateway,
		logger:    log,
	}
}

func (p *CreationPipeline) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return p.logger
}

// Run executes one creation run to completion.
//
// Parameters:
//   - ctx: context for cancellation; honored between stages.
//   - prompt: raw user prompt.
//
// Returns:
//   - *domain.Creation: the persisted record on success.
//   - error: *domain.PipelineError naming the failed stage; nothing is
//     persisted on failure.
func (p *CreationPipeline) Run(ctx context.Context, prompt string) (*domain.Creation, error) {
	runID := uuid.New().String()
	ctx = logger.SetRunID(ctx, runID)
	r := newRun(runID)
	started := time.Now()

	p.log(ctx).WithField("prompt", prompt).Info("Creation run started")

	detection, err := p.detect(ctx, r, prompt)
	if err != nil {
		return nil, p.fail(ctx, r, domain.StageDetecting, err)
	}

	matches, err := p.retrieve(ctx, r, prompt)
	if err != nil {
		return nil, p.fail(ctx, r, domain.StageRetrieving, err)
	}

	enriched, usedIDs, analysis, err := p.compose(ctx, r, prompt, detection, matches)
	if err != nil {
		return nil, p.fail(ctx, r, domain.StageComposing, err)
	}

	imageRef, err := p.generateImage(ctx, r, enriched)
	if err != nil {
		return nil, p.fail(ctx, r, domain.StageImageGenerating, err)
	}

	modelRef, err := p.generateModel(ctx, r, imageRef)
	if err != nil {
		return nil, p.fail(ctx, r, domain.StageModelGenerating, err)
	}

	creation := &domain.Creation{
		ID:             runID,
		Prompt:         prompt,
		EnrichedPrompt: enriched,
		Analysis:       analysis,
		Detection:      detection,
		SourceIDs:      domain.StringArray(usedIDs),
		ImageRef:       imageRef.Key,
		ModelRef:       modelRef.Key,
	}
	if err := p.persist(ctx, r, creation); err != nil {
		return nil, p.fail(ctx, r, domain.StagePersisting, err)
	}

	// The record is committed; cancellation from here on is a no-op.
	r.complete()
	p.log(ctx).WithFields(logger.Fields{
		logger.FieldCreationID: creation.ID,
		logger.FieldDurationMs: time.Since(started).Milliseconds(),
	}).Info("Creation run completed")
	return creation, nil
}

// fail marks the run failed and wraps the stage error for the caller.
func (p *CreationPipeline) fail(ctx context.Context, r *run, stage domain.Stage, err error) error {
	r.fail()
	p.log(ctx).WithField(logger.FieldStage, string(stage)).WithError(err).Error("Creation run failed")
	return &domain.PipelineError{Stage: stage, Err: err}
}

func (p *CreationPipeline) detect(ctx context.Context, r *run, prompt string) (domain.DetectionResult, error) {
	if err := r.advance(ctx, StateDetecting); err != nil {
		return domain.DetectionResult{}, err
	}
	ctx = logger.SetStage(ctx, string(domain.StageDetecting))

	detection, err := DetectReferences(prompt)
	if err != nil {
		return domain.DetectionResult{}, err
	}
	p.log(ctx).WithFields(logger.Fields{
		"has_reference": detection.HasReference,
		"category":      string(detection.Category),
		"confidence":    string(detection.Confidence),
	}).Debug("References detected")
	return detection, nil
}

// retrieve always searches memory, reference or not: matches feed the
// composer only when a reference was detected, but they also serve as
// inspiration context for prompt expansion.
func (p *CreationPipeline) retrieve(ctx context.Context, r *run, prompt string) ([]domain.MemoryMatch, error) {
	if err := r.advance(ctx, StateRetrieving); err != nil {
		return nil, err
	}
	ctx = logger.SetStage(ctx, string(domain.StageRetrieving))

	stageCtx, cancel := context.WithTimeout(ctx, retrieveStageTimeout)
	defer cancel()

	matches, err := p.memory.Search(stageCtx, prompt, 0, 0)
	if err != nil {
		return nil, err
	}
	p.log(ctx).WithField("matches", len(matches)).Debug("Similar creations retrieved")
	return matches, nil
}

func (p *CreationPipeline) compose(
	ctx context.Context,
	r *run,
	prompt string,
	detection domain.DetectionResult,
	matches []domain.MemoryMatch,
) (string, []string, string, error) {
	if err := r.advance(ctx, StateComposing); err != nil {
		return "", nil, "", err
	}
	ctx = logger.SetStage(ctx, string(domain.StageComposing))

	enriched, usedIDs := p.composer.Compose(prompt, detection, matches)

	var analysis string
	if p.expansion.IsEnabled() {
		stageCtx, cancel := context.WithTimeout(ctx, composeStageTimeout)
		enriched = p.expansion.ExpandWithContext(stageCtx, enriched, matches)
		analysis = p.expansion.Analyze(stageCtx, prompt, matches)
		cancel()
	}

	p.log(ctx).WithFields(logger.Fields{
		"used_ids": len(usedIDs),
		"expanded": p.expansion.IsEnabled(),
	}).Debug("Prompt composed")
	return enriched, usedIDs, analysis, nil
}

func (p *CreationPipeline) generateImage(ctx context.Context, r *run, prompt string) (domain.ArtifactRef, error) {
	if err := r.advance(ctx, StateImageGenerating); err != nil {
		return domain.ArtifactRef{}, err
	}
	ctx = logger.SetStage(ctx, string(domain.StageImageGenerating))

	return p.generateWithRetry(ctx, func(callCtx context.Context) (domain.ArtifactRef, error) {
		return p.gateway.ToImage(callCtx, prompt)
	})
}

func (p *CreationPipeline) generateModel(ctx context.Context, r *run, imageRef domain.ArtifactRef) (domain.ArtifactRef, error) {
	if err := r.advance(ctx, StateModelGenerating); err != nil {
		return domain.ArtifactRef{}, err
	}
	ctx = logger.SetStage(ctx, string(domain.StageModelGenerating))

	return p.generateWithRetry(ctx, func(callCtx context.Context) (domain.ArtifactRef, error) {
		return p.gateway.ToModel(callCtx, imageRef)
	})
}

// generateWithRetry runs one generation call with at most one retry.
// A second failure surfaces as-is.
func (p *CreationPipeline) generateWithRetry(
	ctx context.Context,
	call func(context.Context) (domain.ArtifactRef, error),
) (domain.ArtifactRef, error) {
	var ref domain.ArtifactRef
	var err error

	for attempt := 0; attempt < maxGenerationAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << attempt
			// ctx already carries the stage field.
			p.log(ctx).WithFields(logger.Fields{
				"attempt": attempt + 1,
				"delay":   delay.String(),
			}).WithError(err).Warn("Generation failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return domain.ArtifactRef{}, ctx.Err()
			}
		}

		stageCtx, cancel := context.WithTimeout(ctx, generateStageTimeout)
		ref, err = call(stageCtx)
		cancel()
		if err == nil {
			return ref, nil
		}
	}
	return domain.ArtifactRef{}, err
}

func (p *CreationPipeline) persist(ctx context.Context, r *run, creation *domain.Creation) error {
	if err := r.advance(ctx, StatePersisting); err != nil {
		return err
	}
	ctx = logger.SetStage(ctx, string(domain.StagePersisting))
	ctx = logger.SetCreationID(ctx, creation.ID)

	stageCtx, cancel := context.WithTimeout(ctx, persistStageTimeout)
	defer cancel()
	return p.memory.Put(stageCtx, creation)
}
