package pipeline

import (
	"github.com/Masterminds/semver/v3"

	"github.com/stagehand-ci/stagehand/fault"
)

var validConditions = map[Condition]bool{
	Always:  true,
	Success: true,
	Failure: true,
}

// Validate checks the definition for structural errors: missing or duplicate
// stage names, steps that declare neither or both of run/uses, empty
// commands, unknown post conditions, and an unsatisfied engine version
// constraint. engineVersion may be empty to skip the constraint check (used
// by tests); the engine always passes its real version.
//
// A definition that fails validation is rejected before any stage runs and
// no run record is created.
func (p *Pipeline) Validate(engineVersion string) error {
	if err := p.checkRequires(engineVersion); err != nil {
		return err
	}

	seen := make(map[string]int, len(p.Stages))
	for i, stage := range p.Stages {
		if stage.Name == "" {
			return fault.New(fault.CodeInvalidDefinition, "stage %d: name is required", i+1)
		}
		if prev, dup := seen[stage.Name]; dup {
			return fault.New(fault.CodeInvalidDefinition,
				"stage %d: duplicate stage name %q (first declared as stage %d)", i+1, stage.Name, prev)
		}
		seen[stage.Name] = i + 1

		if err := validateSteps(stage.Steps, "stage "+stage.Name); err != nil {
			return err
		}
		if err := validatePost(stage.Post, "stage "+stage.Name); err != nil {
			return err
		}
	}

	return validatePost(p.Post, "pipeline")
}

func (p *Pipeline) checkRequires(engineVersion string) error {
	if p.Requires == "" || engineVersion == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(p.Requires)
	if err != nil {
		return fault.Wrap(err, fault.CodeInvalidDefinition, "invalid requires constraint %q", p.Requires)
	}
	version, err := semver.NewVersion(engineVersion)
	if err != nil {
		return fault.Wrap(err, fault.CodeUnsupportedVersion, "invalid engine version %q", engineVersion)
	}
	if !constraint.Check(version) {
		return fault.New(fault.CodeUnsupportedVersion,
			"pipeline requires engine %q, running %s", p.Requires, engineVersion)
	}
	return nil
}

func validatePost(post PostActions, where string) error {
	for cond, steps := range post {
		if !validConditions[cond] {
			return fault.New(fault.CodeInvalidDefinition,
				"%s: unknown post condition %q", where, cond)
		}
		if err := validateSteps(steps, where+"/post/"+string(cond)); err != nil {
			return err
		}
	}
	return nil
}

func validateSteps(steps []Step, where string) error {
	for i, step := range steps {
		switch {
		case step.Run != "" && step.Uses != "":
			return fault.New(fault.CodeInvalidDefinition,
				"%s step %d: run and uses are mutually exclusive", where, i+1)
		case step.Run == "" && step.Uses == "":
			return fault.New(fault.CodeInvalidDefinition,
				"%s step %d: step must declare a command (run) or a built-in action (uses)", where, i+1)
		}
		if step.Timeout < 0 {
			return fault.New(fault.CodeInvalidDefinition,
				"%s step %d: negative timeout", where, i+1)
		}
	}
	return nil
}
