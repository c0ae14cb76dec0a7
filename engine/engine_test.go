package engine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-ci/stagehand/engine"
	"github.com/stagehand-ci/stagehand/fault"
	"github.com/stagehand-ci/stagehand/pipeline"
)

// fiveStagePipeline mirrors the classic Checkout/Install/Test/Build/Deploy
// shape with global post actions.
func fiveStagePipeline() *pipeline.Pipeline {
	stage := func(name, cmd string) pipeline.Stage {
		return pipeline.Stage{Name: name, Steps: []pipeline.Step{run(cmd)}}
	}
	test := stage("Test", "npm test")
	test.Post = pipeline.PostActions{
		pipeline.Always: {run("echo Test stage completed")},
	}
	return &pipeline.Pipeline{
		Name: "my-jenkins-app",
		Stages: []pipeline.Stage{
			stage("Checkout", "git pull"),
			stage("Install", "npm install"),
			test,
			stage("Build", "npm run build"),
			stage("Deploy", "restart app"),
		},
		Post: pipeline.PostActions{
			pipeline.Success: {run("echo pipeline succeeded")},
			pipeline.Failure: {run("echo pipeline failed")},
			pipeline.Always:  {run("echo cleanWs")},
		},
	}
}

func stageStatuses(run *engine.PipelineRun) []engine.Status {
	out := make([]engine.Status, len(run.Stages))
	for i, s := range run.Stages {
		out[i] = s.Status
	}
	return out
}

func TestAllStagesSucceed(t *testing.T) {
	stub := &stubExecutor{}
	e := engine.New(stub)

	result, err := e.Run(context.Background(), fiveStagePipeline())
	require.NoError(t, err)

	assert.Equal(t, engine.RunCompleted, result.State)
	assert.Equal(t, engine.StatusSucceeded, result.Overall.Status)
	assert.Equal(t, []engine.Status{
		engine.StatusSucceeded, engine.StatusSucceeded, engine.StatusSucceeded,
		engine.StatusSucceeded, engine.StatusSucceeded,
	}, stageStatuses(result))
	assert.Empty(t, result.FailedStage())

	steps := stub.steps()
	assert.Contains(t, steps, "run: restart app")
	assert.Contains(t, steps, "run: echo pipeline succeeded")
	assert.NotContains(t, steps, "run: echo pipeline failed")

	// always runs after the condition-specific sequence.
	assert.Equal(t, "run: echo cleanWs", steps[len(steps)-1])
}

func TestStageFailureShortCircuitsRemainingStages(t *testing.T) {
	stub := &stubExecutor{fail: map[string]bool{"run: npm test": true}}
	e := engine.New(stub)

	result, err := e.Run(context.Background(), fiveStagePipeline())
	require.NoError(t, err)

	assert.Equal(t, engine.StatusFailed, result.Overall.Status)
	assert.Equal(t, "Test", result.FailedStage())
	assert.Equal(t, []engine.Status{
		engine.StatusSucceeded, engine.StatusSucceeded, engine.StatusFailed,
		engine.StatusSkipped, engine.StatusSkipped,
	}, stageStatuses(result))

	steps := stub.steps()
	// Build and Deploy never ran.
	assert.NotContains(t, steps, "run: npm run build")
	assert.NotContains(t, steps, "run: restart app")
	// The failed stage's always post still ran.
	assert.Contains(t, steps, "run: echo Test stage completed")
	// Global failure and always posts ran; success did not.
	assert.Contains(t, steps, "run: echo pipeline failed")
	assert.Contains(t, steps, "run: echo cleanWs")
	assert.NotContains(t, steps, "run: echo pipeline succeeded")
	// The summary names the failing stage and the log keeps the output.
	assert.Contains(t, result.Overall.Detail, "Test")
	assert.Contains(t, result.Log(), "boom")
}

func TestStagePostRunsBeforeGlobalPost(t *testing.T) {
	stub := &stubExecutor{}
	e := engine.New(stub)

	def := &pipeline.Pipeline{
		Name: "ordering",
		Stages: []pipeline.Stage{{
			Name:  "Build",
			Steps: []pipeline.Step{run("make")},
			Post:  pipeline.PostActions{pipeline.Always: {run("echo stage always")}},
		}},
		Post: pipeline.PostActions{pipeline.Always: {run("echo global always")}},
	}
	_, err := e.Run(context.Background(), def)
	require.NoError(t, err)

	// Innermost first: stage-level always before pipeline-level always.
	require.Equal(t, []string{
		"run: make",
		"run: echo stage always",
		"run: echo global always",
	}, stub.steps())
}

func TestZeroStagePipelineSucceedsVacuously(t *testing.T) {
	stub := &stubExecutor{}
	e := engine.New(stub)

	def := &pipeline.Pipeline{
		Name: "empty",
		Post: pipeline.PostActions{
			pipeline.Success: {run("echo success")},
			pipeline.Always:  {run("echo always")},
		},
	}
	result, err := e.Run(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, engine.StatusSucceeded, result.Overall.Status)
	assert.Empty(t, result.Stages)
	assert.Equal(t, []string{"run: echo success", "run: echo always"}, stub.steps())
}

func TestRunsAreIndependent(t *testing.T) {
	stub := &stubExecutor{fail: map[string]bool{"run: npm test": true}}
	e := engine.New(stub)
	def := fiveStagePipeline()

	first, err := e.Run(context.Background(), def)
	require.NoError(t, err)
	second, err := e.Run(context.Background(), def)
	require.NoError(t, err)

	// Same definition, no engine-held run state: identical stage-result
	// sequences, distinct run records.
	assert.Equal(t, stageStatuses(first), stageStatuses(second))
	assert.Equal(t, first.Overall.Status, second.Overall.Status)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	stub := &stubExecutor{fail: map[string]bool{"run: npm test": true}}
	e := engine.New(stub)
	def := fiveStagePipeline()

	const runners = 8
	var (
		wg      sync.WaitGroup
		results = make([]*engine.PipelineRun, runners)
		errs    = make([]error, runners)
	)
	for i := 0; i < runners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Run(context.Background(), def)
		}(i)
	}
	wg.Wait()

	want := []engine.Status{
		engine.StatusSucceeded, engine.StatusSucceeded, engine.StatusFailed,
		engine.StatusSkipped, engine.StatusSkipped,
	}
	seen := make(map[string]bool, runners)
	for i := 0; i < runners; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, want, stageStatuses(results[i]))
		assert.Equal(t, "Test", results[i].FailedStage())
		require.False(t, seen[results[i].ID], "run id %s issued twice", results[i].ID)
		seen[results[i].ID] = true
		// Each run's log names its own id: no record bleeds across runs.
		assert.Contains(t, results[i].Log(), "run "+results[i].ID)
	}
}

func TestMalformedDefinitionIsRejectedBeforeAnyStageRuns(t *testing.T) {
	stub := &stubExecutor{}
	e := engine.New(stub)

	def := fiveStagePipeline()
	def.Stages[4].Name = "Checkout" // duplicate

	result, err := e.Run(context.Background(), def)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, fault.CodeInvalidDefinition, fault.CodeOf(err))
	assert.Empty(t, stub.steps())
}

func TestEngineVersionConstraintIsEnforced(t *testing.T) {
	e := engine.New(&stubExecutor{})

	def := fiveStagePipeline()
	def.Requires = ">= 99.0.0"

	_, err := e.Run(context.Background(), def)
	require.Error(t, err)
	assert.Equal(t, fault.CodeUnsupportedVersion, fault.CodeOf(err))
}

func TestCancellationBeforeRunSkipsAllStages(t *testing.T) {
	stub := &stubExecutor{}
	e := engine.New(stub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := e.Run(ctx, fiveStagePipeline())
	require.NoError(t, err)

	assert.True(t, result.Cancelled)
	assert.Equal(t, engine.StatusFailed, result.Overall.Status)
	assert.Equal(t, "run cancelled", result.Overall.Detail)
	for _, stage := range result.Stages {
		assert.Equal(t, engine.StatusSkipped, stage.Status)
	}
	// Global always post still ran; nothing else did.
	assert.Equal(t, []string{"run: echo pipeline failed", "run: echo cleanWs"}, stub.steps())
}

func TestCancellationTakesEffectAtNextStepBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stub := &stubExecutor{}
	stub.onStep = func(step pipeline.Step) {
		if step.String() == "run: npm install" {
			cancel()
		}
	}
	e := engine.New(stub)

	result, err := e.Run(ctx, fiveStagePipeline())
	require.NoError(t, err)

	assert.True(t, result.Cancelled)
	assert.Equal(t, engine.StatusFailed, result.Overall.Status)
	// Install finished before the boundary; Test, Build, Deploy skipped.
	assert.Equal(t, []engine.Status{
		engine.StatusSucceeded, engine.StatusSucceeded, engine.StatusSkipped,
		engine.StatusSkipped, engine.StatusSkipped,
	}, stageStatuses(result))

	steps := stub.steps()
	assert.NotContains(t, steps, "run: npm test")
	assert.Contains(t, steps, "run: echo cleanWs")
}

type recordingArchiver struct {
	runs []*engine.PipelineRun
	err  error
}

func (a *recordingArchiver) Archive(_ context.Context, run *engine.PipelineRun) error {
	a.runs = append(a.runs, run)
	return a.err
}

func TestCompletedRunsAreArchived(t *testing.T) {
	archiver := &recordingArchiver{}
	e := engine.New(&stubExecutor{}, engine.WithArchiver(archiver))

	result, err := e.Run(context.Background(), fiveStagePipeline())
	require.NoError(t, err)

	require.Len(t, archiver.runs, 1)
	assert.Same(t, result, archiver.runs[0])
	assert.Equal(t, engine.RunCompleted, archiver.runs[0].State)
}

func TestArchiverFailureDoesNotAffectRunResult(t *testing.T) {
	archiver := &recordingArchiver{err: fault.New(fault.CodeStorage, "disk full")}
	e := engine.New(&stubExecutor{}, engine.WithArchiver(archiver))

	result, err := e.Run(context.Background(), fiveStagePipeline())
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSucceeded, result.Overall.Status)
}

func TestRunLogCapturesStepOutput(t *testing.T) {
	e := engine.New(&stubExecutor{})

	result, err := e.Run(context.Background(), fiveStagePipeline())
	require.NoError(t, err)

	log := result.Log()
	assert.Contains(t, log, "=== stage Checkout")
	assert.Contains(t, log, "run: npm test ok")
	assert.Contains(t, log, "pipeline my-jenkins-app: SUCCEEDED")
}
