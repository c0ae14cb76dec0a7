package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/stagehand-ci/stagehand/executor"
	"github.com/stagehand-ci/stagehand/pipeline"
)

// StageRunner executes one stage: its main steps in declaration order with
// short-circuit on the first failure, then its post actions. Post actions
// run even when the main steps failed or the run was cancelled, but their
// own failures never flip the stage result.
type StageRunner struct {
	exec   executor.StepExecutor
	logger *slog.Logger
}

// NewStageRunner creates a stage runner on top of a step executor.
func NewStageRunner(exec executor.StepExecutor, logger *slog.Logger) *StageRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &StageRunner{exec: exec, logger: logger}
}

// Run executes the stage and returns its result. The result is Failed if
// any main step failed or the run was cancelled at a step boundary; a stage
// with zero steps is trivially Succeeded.
func (sr *StageRunner) Run(ctx context.Context, stage pipeline.Stage, log *Log) RunResult {
	start := time.Now()
	result := RunResult{Kind: UnitStage, Name: stage.Name, Status: StatusSucceeded}

	log.Appendf("=== stage %s", stage.Name)
	var output strings.Builder

	for _, step := range stage.Steps {
		// Cancellation takes effect at step boundaries only.
		if err := ctx.Err(); err != nil {
			result.Status = StatusFailed
			result.Detail = "run cancelled before " + step.String()
			log.Appendf("--- %s: cancelled", step.String())
			break
		}

		stepRes := sr.runStep(ctx, step, log)
		output.WriteString(stepRes.Output)

		if stepRes.Failed() {
			result.Status = StatusFailed
			result.Detail = stepRes.Detail
			result.Fault = stepRes.Fault
			break
		}
	}

	// Post actions observe the main-step outcome and must run even after
	// failure or cancellation, so they get an uncancellable context.
	sr.RunPost(context.WithoutCancel(ctx), stage.Post, result.Failed(), "stage "+stage.Name, log)

	result.Output = output.String()
	result.Duration = time.Since(start)
	log.Appendf("=== stage %s: %s", stage.Name, result.Status)
	sr.logger.Info("stage finished", "stage", stage.Name, "status", result.Status.String())
	return result
}

// runStep executes one step and records it in the run log.
func (sr *StageRunner) runStep(ctx context.Context, step pipeline.Step, log *Log) RunResult {
	log.Appendf("--- %s", step.String())

	res, execErr := sr.exec.Execute(ctx, step)
	if res == nil {
		res = &executor.Result{ExitCode: -1, Err: execErr}
	}
	stepResult := RunResult{
		Kind:     UnitStep,
		Name:     step.String(),
		Status:   StatusSucceeded,
		Output:   res.Output,
		Duration: res.Duration,
	}
	log.AppendOutput(res.Output)

	switch {
	case execErr != nil:
		// The executor could not attempt the step. Counts as a failure
		// but is logged distinctly for diagnosis.
		stepResult.Status = StatusFailed
		stepResult.Fault = true
		stepResult.Detail = execErr.Error()
		log.Appendf("--- %s: EXECUTOR FAULT: %v", step.String(), execErr)
		sr.logger.Error("executor fault", "step", step.String(), "error", execErr)
	case res.Err != nil:
		stepResult.Status = StatusFailed
		stepResult.Detail = res.Err.Error()
		log.Appendf("--- %s: failed: %v", step.String(), res.Err)
		sr.logger.Warn("step failed", "step", step.String(), "error", res.Err)
	default:
		log.Appendf("--- %s: ok", step.String())
	}
	return stepResult
}

// RunPost evaluates a post-action mapping: the condition matching the
// outcome (success or failure) first, then always. Failures inside post
// actions are appended to the log but do not affect the enclosing result.
func (sr *StageRunner) RunPost(ctx context.Context, post pipeline.PostActions, failed bool, scope string, log *Log) {
	if len(post) == 0 {
		return
	}

	condition := pipeline.Success
	if failed {
		condition = pipeline.Failure
	}
	sr.runPostSequence(ctx, post[condition], scope, string(condition), log)
	sr.runPostSequence(ctx, post[pipeline.Always], scope, string(pipeline.Always), log)
}

func (sr *StageRunner) runPostSequence(ctx context.Context, steps []pipeline.Step, scope, condition string, log *Log) {
	if len(steps) == 0 {
		return
	}
	log.Appendf("=== post[%s] for %s", condition, scope)
	for _, step := range steps {
		stepRes := sr.runStep(ctx, step, log)
		if stepRes.Failed() {
			// Recorded, never masks the original outcome.
			sr.logger.Warn("post action failed",
				"scope", scope, "condition", condition, "step", step.String())
		}
	}
}
