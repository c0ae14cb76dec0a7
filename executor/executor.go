// Package executor runs individual pipeline steps: shell commands through
// the system shell, and built-in actions resolved from a registry. Ordinary
// step failure (non-zero exit, failed action) is reported as a result value;
// only faults that prevented the step from being attempted at all are
// returned as errors.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/stagehand-ci/stagehand/fault"
	"github.com/stagehand-ci/stagehand/pipeline"
)

// Result holds the outcome of a single step execution.
type Result struct {
	// Output is the combined stdout+stderr of the step, or the built-in
	// action's reported output.
	Output string

	// ExitCode is the process exit code for command steps. 0 on success,
	// -1 when no process ran.
	ExitCode int

	// Err is non-nil when the step failed. Classification is available
	// via fault.CodeOf (EXECUTION_FAILED, TIMEOUT, ...).
	Err error

	// Duration is the wall-clock time the step took.
	Duration time.Duration
}

// Succeeded reports whether the step completed successfully.
func (r *Result) Succeeded() bool {
	return r.Err == nil
}

// StepExecutor is the contract the engine depends on. Execute returns an
// error only when the step could not be attempted (an executor fault: the
// process could not be spawned, or a built-in action is not registered); a
// step that ran and failed is a normal Result with Err set.
type StepExecutor interface {
	Execute(ctx context.Context, step pipeline.Step) (*Result, error)
}

// Local executes steps on the local machine. Construct with New.
type Local struct {
	options *Options
}

// Options configures step execution behavior.
type Options struct {
	// Shell is the program used for command steps, invoked as
	// `shell -c <command>`.
	Shell string

	// WorkDir is the working directory for commands and built-ins.
	// Empty means the process working directory.
	WorkDir string

	// ArtifactDir receives files collected by the archive built-in.
	// Defaults to <WorkDir>/.stagehand/artifacts.
	ArtifactDir string

	// Env is appended to the current process environment for every step.
	Env map[string]string

	// OutputWriter, when set, receives step output as it is produced in
	// addition to being captured in the Result.
	OutputWriter io.Writer

	// Builtins resolves `uses:` steps. Defaults to DefaultRegistry().
	Builtins *Registry

	// Deploy is the collaborator invoked by the deploy built-in. Nil
	// means deploy steps fault.
	Deploy DeployController

	// Logger receives step-level diagnostics.
	Logger *slog.Logger
}

// Option is a function that modifies Options.
type Option func(*Options)

// WithShell sets the shell used for command steps.
func WithShell(shell string) Option {
	return func(o *Options) { o.Shell = shell }
}

// WithWorkDir sets the working directory for steps.
func WithWorkDir(dir string) Option {
	return func(o *Options) { o.WorkDir = dir }
}

// WithArtifactDir sets the destination for archived artifacts.
func WithArtifactDir(dir string) Option {
	return func(o *Options) { o.ArtifactDir = dir }
}

// WithEnv adds environment variables applied to every step.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithOutputWriter streams step output to w in addition to capture.
func WithOutputWriter(w io.Writer) Option {
	return func(o *Options) { o.OutputWriter = w }
}

// WithBuiltins replaces the built-in action registry.
func WithBuiltins(r *Registry) Option {
	return func(o *Options) { o.Builtins = r }
}

// WithDeployController injects the deploy collaborator.
func WithDeployController(dc DeployController) Option {
	return func(o *Options) { o.Deploy = dc }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// New creates a Local executor with the given options applied over defaults.
func New(opts ...Option) *Local {
	options := &Options{
		Shell:    "sh",
		Builtins: DefaultRegistry(),
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	return &Local{options: options}
}

// Execute runs one step and reports its outcome. The step's optional
// timeout is applied on top of ctx; exceeding it produces a failed Result
// classified as TIMEOUT. Cancellation of ctx mid-step produces a failed
// Result classified as CANCELLED.
func (l *Local) Execute(ctx context.Context, step pipeline.Step) (*Result, error) {
	if timeout := step.Timeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		res *Result
		err error
	)
	if step.IsCommand() {
		res, err = l.runCommand(ctx, step)
	} else {
		res, err = l.runBuiltin(ctx, step)
	}
	res.Duration = time.Since(start)

	// A failure caused by the deadline or by cancellation gets a
	// diagnostic that names the cause instead of a bare exit status.
	if res.Err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			res.Err = fault.New(fault.CodeTimeout,
				"step %q exceeded its %s deadline", step.String(), step.Timeout.Std())
		case errors.Is(ctx.Err(), context.Canceled):
			res.Err = fault.New(fault.CodeCancelled, "step %q cancelled", step.String())
		}
	}
	return res, err
}

// outputGracePeriod bounds how long a finished command may keep its output
// pipe held open by background children before the step returns with the
// output collected so far.
const outputGracePeriod = 2 * time.Second

func (l *Local) runCommand(ctx context.Context, step pipeline.Step) (*Result, error) {
	cmd := exec.CommandContext(ctx, l.options.Shell, "-c", step.Run)
	if l.options.WorkDir != "" {
		cmd.Dir = l.options.WorkDir
	}
	cmd.Env = l.environ(step)
	// Children spawned by the command inherit the output pipe; without a
	// wait bound, Run would block until the last holder exits even after
	// the shell itself is gone.
	cmd.WaitDelay = outputGracePeriod
	setProcessGroup(cmd)

	var buf bytes.Buffer
	out := io.Writer(&buf)
	if l.options.OutputWriter != nil {
		out = io.MultiWriter(&buf, l.options.OutputWriter)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	runErr := cmd.Run()
	res := &Result{Output: buf.String(), ExitCode: exitCode(runErr)}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		return res, nil
	case errors.Is(runErr, exec.ErrWaitDelay):
		// The command exited cleanly but a background child kept the
		// output pipe open past the grace period. The step succeeded;
		// whatever the child writes later is dropped.
		res.ExitCode = 0
		return res, nil
	case errors.As(runErr, &exitErr):
		// The command ran and failed: an ordinary result, not an error.
		res.Err = fault.New(fault.CodeExecutionFailed, "command exited with status %d", res.ExitCode)
		return res, nil
	default:
		// The process never started.
		res.Err = fault.Wrap(runErr, fault.CodeExecutorFault, "starting command %q", step.Run)
		return res, res.Err
	}
}

func (l *Local) runBuiltin(ctx context.Context, step pipeline.Step) (*Result, error) {
	action, ok := l.options.Builtins.Resolve(step.Uses)
	if !ok {
		res := &Result{ExitCode: -1}
		res.Err = fault.New(fault.CodeNotImplemented, "no built-in action %q registered", step.Uses)
		return res, res.Err
	}

	inv := Invocation{
		Args:        step.With,
		WorkDir:     l.workDir(),
		ArtifactDir: l.artifactDir(),
		Env:         mergedEnv(l.options.Env, step.Env),
		Deploy:      l.options.Deploy,
		Output:      l.options.OutputWriter,
		Logger:      l.options.Logger,
	}

	output, actErr := action(ctx, inv)
	res := &Result{Output: output}
	if actErr == nil {
		return res, nil
	}
	res.ExitCode = -1
	res.Err = actErr
	if fault.Is(actErr, fault.CodeExecutorFault) {
		// The action could not be attempted; surface to the caller so
		// the engine can log the fault distinctly.
		return res, actErr
	}
	return res, nil
}

// environ builds the process environment: current env, then executor-wide
// entries, then step-scoped entries.
func (l *Local) environ(step pipeline.Step) []string {
	env := os.Environ()
	for k, v := range mergedEnv(l.options.Env, step.Env) {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

func (l *Local) workDir() string {
	if l.options.WorkDir != "" {
		return l.options.WorkDir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func (l *Local) artifactDir() string {
	if l.options.ArtifactDir != "" {
		return l.options.ArtifactDir
	}
	return filepath.Join(l.workDir(), ".stagehand", "artifacts")
}

func mergedEnv(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr):
		return exitErr.ExitCode()
	default:
		return -1
	}
}
