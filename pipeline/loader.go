package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"

	"github.com/stagehand-ci/stagehand/fault"
)

// Load reads a pipeline definition file, decodes it, and resolves template
// expressions. The result is not yet validated; callers (or the engine,
// which always validates before starting a run) must call Validate.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeInvalidInput, "reading pipeline file")
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("pipeline file %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML pipeline definition and resolves template
// expressions in step commands and built-in arguments. Unknown YAML fields
// are rejected so typos in definitions fail loudly.
func Parse(data []byte) (*Pipeline, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		return nil, fault.Wrap(err, fault.CodeInvalidDefinition, "parsing pipeline definition")
	}

	if err := p.interpolate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// templateData is the dot made available to template expressions.
type templateData struct {
	Pipeline string
	Env      map[string]string
}

// interpolate resolves {{ ... }} expressions in step commands and built-in
// arguments against the pipeline environment, with sprig functions
// available. Steps without template markers pass through untouched.
func (p *Pipeline) interpolate() error {
	for si := range p.Stages {
		stage := &p.Stages[si]
		if err := p.interpolateSteps(stage.Steps, stage.Name); err != nil {
			return err
		}
		for cond, steps := range stage.Post {
			if err := p.interpolateSteps(steps, fmt.Sprintf("%s/post/%s", stage.Name, cond)); err != nil {
				return err
			}
		}
	}
	for cond, steps := range p.Post {
		if err := p.interpolateSteps(steps, fmt.Sprintf("post/%s", cond)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) interpolateSteps(steps []Step, where string) error {
	for i := range steps {
		step := &steps[i]

		data := templateData{
			Pipeline: p.Name,
			Env:      mergeEnv(p.Env, step.Env),
		}

		rendered, err := renderExpr(step.Run, data)
		if err != nil {
			return fault.Wrap(err, fault.CodeInvalidDefinition,
				"rendering command template in %s step %d", where, i+1)
		}
		step.Run = rendered

		for k, v := range step.With {
			rendered, err := renderExpr(v, data)
			if err != nil {
				return fault.Wrap(err, fault.CodeInvalidDefinition,
					"rendering %q template in %s step %d", k, where, i+1)
			}
			step.With[k] = rendered
		}
	}
	return nil
}

func renderExpr(expr string, data templateData) (string, error) {
	if !strings.Contains(expr, "{{") {
		return expr, nil
	}
	tmpl, err := template.New("step").
		Funcs(sprig.FuncMap()).
		Option("missingkey=error").
		Parse(expr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// mergeEnv overlays step-scoped entries on the pipeline environment without
// mutating either map.
func mergeEnv(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
