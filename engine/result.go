// Package engine orchestrates pipeline runs: it sequences stages in
// declaration order, short-circuits on failure, evaluates post actions, and
// produces an immutable PipelineRun record per invocation. The engine holds
// no run-scoped state between invocations, so one Engine may serve
// concurrent runs of a shared, read-only definition.
package engine

import (
	"time"

	"github.com/stagehand-ci/stagehand/pipeline"
)

// Version is the engine version checked against a definition's `requires`
// constraint.
const Version = "0.3.0"

// Status is the outcome of executing a pipeline, stage, or step.
type Status string

const (
	// StatusSucceeded indicates the unit completed successfully.
	StatusSucceeded Status = "SUCCEEDED"

	// StatusFailed indicates the unit ran and failed, or was cancelled.
	StatusFailed Status = "FAILED"

	// StatusSkipped indicates the unit never ran because an earlier
	// failure short-circuited the sequence.
	StatusSkipped Status = "SKIPPED"
)

// String returns the string representation of the Status.
func (s Status) String() string {
	return string(s)
}

// UnitKind identifies which level of the execution hierarchy produced a
// RunResult.
type UnitKind string

const (
	UnitPipeline UnitKind = "pipeline"
	UnitStage    UnitKind = "stage"
	UnitStep     UnitKind = "step"
)

// RunResult is the outcome of one unit of execution.
type RunResult struct {
	// Kind and Name identify the unit that produced this result.
	Kind UnitKind
	Name string

	// Status is the unit's outcome.
	Status Status

	// Output is the captured output of the unit (empty for skipped units).
	Output string

	// Detail carries the failure diagnostic, empty on success.
	Detail string

	// Fault marks failures where the executor could not attempt the step
	// at all. Faults count as failures for pipeline outcome but are
	// logged distinctly for diagnosis.
	Fault bool

	// Duration is how long the unit took. Zero for skipped units.
	Duration time.Duration
}

// Failed reports whether the unit ran and failed.
func (r RunResult) Failed() bool {
	return r.Status == StatusFailed
}

// RunState is the engine's per-run state machine position.
type RunState string

const (
	// RunPending: created, not yet started.
	RunPending RunState = "PENDING"

	// RunRunning: main stages are executing.
	RunRunning RunState = "RUNNING"

	// RunPostProcessing: all eligible stages have run; global post
	// actions are executing.
	RunPostProcessing RunState = "POST_PROCESSING"

	// RunCompleted: the overall result is frozen. No stage or step runs
	// after this.
	RunCompleted RunState = "COMPLETED"
)

// PipelineRun is a single execution instance. It references its definition
// read-only and owns all mutable run state (results, log). Once State is
// RunCompleted the record is frozen.
type PipelineRun struct {
	// ID uniquely identifies this run.
	ID string

	// Pipeline is the definition this run executed. Shared and read-only.
	Pipeline *pipeline.Pipeline

	// State is the run's position in the engine state machine.
	State RunState

	// Stages holds one result per declared stage, in declaration order.
	Stages []RunResult

	// Overall is the pipeline-level result: Failed exactly when some
	// stage failed (or the run was cancelled), Succeeded otherwise.
	Overall RunResult

	// Cancelled records that the run was stopped at a step boundary by
	// context cancellation.
	Cancelled bool

	StartedAt   time.Time
	CompletedAt time.Time

	log *Log
}

// Log returns the run's append-only log text.
func (r *PipelineRun) Log() string {
	return r.log.String()
}

// FailedStage returns the name of the stage that failed the run, or "" when
// the run succeeded or never started a stage.
func (r *PipelineRun) FailedStage() string {
	for _, stage := range r.Stages {
		if stage.Failed() {
			return stage.Name
		}
	}
	return ""
}
