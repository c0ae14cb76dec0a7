package executor_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-ci/stagehand/executor"
	"github.com/stagehand-ci/stagehand/fault"
	"github.com/stagehand-ci/stagehand/pipeline"
)

func TestCommandSuccess(t *testing.T) {
	exec := executor.New()
	res, err := exec.Execute(context.Background(), pipeline.Step{Run: "echo hello world"})

	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "hello world")
}

func TestCommandFailureIsAResultNotAnError(t *testing.T) {
	exec := executor.New()
	res, err := exec.Execute(context.Background(), pipeline.Step{Run: "exit 3"})

	// A command that ran and failed is an ordinary result.
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, fault.CodeExecutionFailed, fault.CodeOf(res.Err))
}

func TestCommandCapturesStderr(t *testing.T) {
	exec := executor.New()
	res, err := exec.Execute(context.Background(), pipeline.Step{Run: "echo oops >&2"})

	require.NoError(t, err)
	assert.Contains(t, res.Output, "oops")
}

func TestCommandTimeout(t *testing.T) {
	exec := executor.New()
	step := pipeline.Step{Run: "sleep 5", Timeout: pipeline.Duration(100 * time.Millisecond)}

	start := time.Now()
	res, err := exec.Execute(context.Background(), step)

	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, fault.CodeTimeout, fault.CodeOf(res.Err))
	assert.Contains(t, res.Err.Error(), "deadline")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestCommandTimeoutKillsBackgroundChildren(t *testing.T) {
	exec := executor.New()
	step := pipeline.Step{Run: "sleep 30 & wait", Timeout: pipeline.Duration(100 * time.Millisecond)}

	start := time.Now()
	res, err := exec.Execute(context.Background(), step)

	// The whole process group dies at the deadline, not just the shell.
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, fault.CodeTimeout, fault.CodeOf(res.Err))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestCommandWithLingeringChildReturnsPromptly(t *testing.T) {
	exec := executor.New()

	start := time.Now()
	res, err := exec.Execute(context.Background(), pipeline.Step{Run: "echo started; sleep 30 &"})

	// The shell exits immediately; the backgrounded child keeps the output
	// pipe open but must not hold the step past the grace period.
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "started")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCommandCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	exec := executor.New()
	res, err := exec.Execute(ctx, pipeline.Step{Run: "sleep 5"})

	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, fault.CodeCancelled, fault.CodeOf(res.Err))
}

func TestCommandEnvironment(t *testing.T) {
	exec := executor.New(executor.WithEnv(map[string]string{"APP": "demo"}))
	step := pipeline.Step{Run: "echo $APP-$REGION", Env: map[string]string{"REGION": "eu"}}

	res, err := exec.Execute(context.Background(), step)
	require.NoError(t, err)
	assert.Contains(t, res.Output, "demo-eu")
}

func TestCommandWorkDir(t *testing.T) {
	dir := t.TempDir()
	exec := executor.New(executor.WithWorkDir(dir))

	res, err := exec.Execute(context.Background(), pipeline.Step{Run: "pwd"})
	require.NoError(t, err)
	assert.Contains(t, res.Output, dir)
}

func TestOutputWriterStreamsOutput(t *testing.T) {
	var buf bytes.Buffer
	exec := executor.New(executor.WithOutputWriter(&buf))

	res, err := exec.Execute(context.Background(), pipeline.Step{Run: "echo streamed"})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "streamed")
	assert.Contains(t, buf.String(), "streamed")
}

func TestUnknownBuiltinIsAnExecutorFault(t *testing.T) {
	exec := executor.New()
	res, err := exec.Execute(context.Background(), pipeline.Step{Uses: "teleport"})

	require.Error(t, err)
	assert.Equal(t, fault.CodeNotImplemented, fault.CodeOf(err))
	assert.False(t, res.Succeeded())
}

func TestSpawnFailureIsAnExecutorFault(t *testing.T) {
	exec := executor.New(executor.WithShell("/no/such/shell"))
	res, err := exec.Execute(context.Background(), pipeline.Step{Run: "echo hi"})

	require.Error(t, err)
	assert.Equal(t, fault.CodeExecutorFault, fault.CodeOf(err))
	assert.False(t, res.Succeeded())
}
