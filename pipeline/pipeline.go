// Package pipeline defines a CI/CD pipeline as plain data: an ordered list
// of named stages, each holding an ordered list of steps plus optional post
// actions keyed by outcome condition. Definitions are loaded from YAML,
// validated once, and treated as immutable for the duration of every run
// that references them.
package pipeline

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Condition selects when a post-action sequence runs relative to the outcome
// of its enclosing stage or pipeline.
type Condition string

const (
	// Always runs regardless of outcome.
	Always Condition = "always"

	// Success runs only when the enclosing unit succeeded.
	Success Condition = "success"

	// Failure runs only when the enclosing unit failed.
	Failure Condition = "failure"
)

// PostActions maps an outcome condition to the ordered steps that run when
// the condition holds. At most one sequence per condition.
type PostActions map[Condition][]Step

// Pipeline is a complete pipeline definition. It is owned by the caller and
// must not be mutated while a run references it; the engine never writes to
// it, so one Pipeline may back concurrent runs.
type Pipeline struct {
	// Name identifies the pipeline in logs and the run store.
	Name string `yaml:"name"`

	// Requires is an optional semver constraint on the engine version,
	// e.g. ">= 0.2.0". Checked during validation.
	Requires string `yaml:"requires,omitempty"`

	// Env is the pipeline-wide environment applied to every command step
	// and available to template interpolation as .Env.
	Env map[string]string `yaml:"env,omitempty"`

	// Stages run sequentially in declaration order.
	Stages []Stage `yaml:"stages"`

	// Post holds the pipeline-level post actions, evaluated after all
	// eligible stages have run.
	Post PostActions `yaml:"post,omitempty"`
}

// Stage is a named, ordered group of steps representing one phase of the
// pipeline (e.g. Build, Test).
type Stage struct {
	// Name must be non-empty and unique within the pipeline.
	Name string `yaml:"name"`

	// Steps run sequentially; the first failure short-circuits the rest.
	Steps []Step `yaml:"steps,omitempty"`

	// Post holds the stage-level post actions, evaluated after the main
	// steps finish or short-circuit.
	Post PostActions `yaml:"post,omitempty"`
}

// Step is a single unit of work: either a shell command (Run) or a built-in
// action (Uses), never both. The engine treats steps as opaque; only the
// executor interprets them.
type Step struct {
	// Run is a shell command executed via the system shell.
	Run string `yaml:"run,omitempty"`

	// Uses names a built-in action registered with the executor
	// (e.g. "checkout", "echo", "archive", "deploy").
	Uses string `yaml:"uses,omitempty"`

	// With carries arguments for a built-in action.
	With map[string]string `yaml:"with,omitempty"`

	// Env adds step-scoped environment entries on top of the pipeline Env.
	Env map[string]string `yaml:"env,omitempty"`

	// Timeout is an optional per-step deadline. Zero means no deadline.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// IsCommand reports whether the step is a shell command step.
func (s Step) IsCommand() bool {
	return s.Run != ""
}

// String renders the step identity used in logs and results.
func (s Step) String() string {
	if s.IsCommand() {
		return fmt.Sprintf("run: %s", s.Run)
	}
	return fmt.Sprintf("uses: %s", s.Uses)
}

// Duration wraps time.Duration with YAML unmarshalling from Go duration
// strings ("30s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
