package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand-ci/stagehand/executor"
	"github.com/stagehand-ci/stagehand/pipeline"
)

// Archiver persists a completed run. Archive failures are logged by the
// engine and never affect the run result.
type Archiver interface {
	Archive(ctx context.Context, run *PipelineRun) error
}

// Engine runs pipeline definitions. It is safe for concurrent use: every
// Run call builds an independent PipelineRun and the engine itself carries
// no run-scoped mutable state.
type Engine struct {
	stages   *StageRunner
	logger   *slog.Logger
	archiver Archiver
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithArchiver persists completed runs to the given archiver.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// New creates an Engine on top of a step executor.
func New(exec executor.StepExecutor, opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.stages = NewStageRunner(exec, e.logger)
	return e
}

// Run executes one pipeline and returns its frozen PipelineRun record.
//
// The definition is validated first; a malformed definition is rejected
// before any stage runs and no PipelineRun is created. Stages execute
// strictly sequentially in declaration order. The first failed stage
// short-circuits the rest, which are recorded as Skipped. Global post
// actions then run (success or failure first, always after), and the
// overall result is frozen: Failed exactly when some stage failed, else
// Succeeded. A zero-stage pipeline succeeds vacuously.
//
// Cancelling ctx stops the run at the next step boundary; the affected
// stage and the run are recorded as Failed, later stages as Skipped, and
// all always post actions still execute.
func (e *Engine) Run(ctx context.Context, def *pipeline.Pipeline) (*PipelineRun, error) {
	if err := def.Validate(Version); err != nil {
		return nil, err
	}

	run := &PipelineRun{
		ID:        uuid.NewString(),
		Pipeline:  def,
		State:     RunPending,
		Stages:    make([]RunResult, 0, len(def.Stages)),
		StartedAt: time.Now(),
		log:       NewLog(),
	}

	logger := e.logger.With("run", run.ID, "pipeline", def.Name)
	logger.Info("run starting", "stages", len(def.Stages))
	run.log.Appendf("pipeline %s run %s", def.Name, run.ID)

	run.State = RunRunning
	failed := false
	for _, stage := range def.Stages {
		if failed || ctx.Err() != nil {
			if !failed && ctx.Err() != nil {
				// Cancellation between stages: nothing from this
				// stage runs, but the run as a whole has failed.
				failed = true
				run.Cancelled = true
			}
			run.Stages = append(run.Stages, RunResult{
				Kind:   UnitStage,
				Name:   stage.Name,
				Status: StatusSkipped,
			})
			run.log.Appendf("=== stage %s: %s", stage.Name, StatusSkipped)
			continue
		}

		result := e.stages.Run(ctx, stage, run.log)
		run.Stages = append(run.Stages, result)
		if result.Failed() {
			failed = true
			if ctx.Err() != nil {
				run.Cancelled = true
			}
		}
	}
	if ctx.Err() != nil {
		run.Cancelled = true
		failed = true
	}

	run.State = RunPostProcessing
	// Global post actions run after every stage-level post action
	// (innermost first) and regardless of cancellation.
	e.stages.RunPost(context.WithoutCancel(ctx), def.Post, failed, "pipeline", run.log)

	run.State = RunCompleted
	run.CompletedAt = time.Now()
	run.Overall = RunResult{
		Kind:     UnitPipeline,
		Name:     def.Name,
		Status:   StatusSucceeded,
		Duration: run.CompletedAt.Sub(run.StartedAt),
	}
	if failed {
		run.Overall.Status = StatusFailed
		switch {
		case run.Cancelled:
			run.Overall.Detail = "run cancelled"
		case run.FailedStage() != "":
			run.Overall.Detail = "stage " + run.FailedStage() + " failed"
		}
	}
	run.log.Appendf("pipeline %s: %s", def.Name, run.Overall.Status)
	logger.Info("run completed", "status", run.Overall.Status.String(), "failedStage", run.FailedStage())

	if e.archiver != nil {
		if err := e.archiver.Archive(context.WithoutCancel(ctx), run); err != nil {
			logger.Error("archiving run failed", "error", err)
		}
	}
	return run, nil
}
