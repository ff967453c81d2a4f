package stage

import (
	_ "embed"
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed pipelines.yaml
var defaultPlan []byte

// Plan declares the stage order of each pipeline.
type Plan struct {
	Pipelines map[string]PipelinePlan `yaml:"pipelines"`
}

// PipelinePlan is the ordered stage list of one pipeline.
type PipelinePlan struct {
	Stages []string `yaml:"stages"`
}

// LoadPlan reads a plan from path, or the embedded default when path is
// empty.
func LoadPlan(path string) (*Plan, error) {
	data := defaultPlan
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "stage: read plan %s", path)
		}
	}
	return ParsePlan(data)
}

// ParsePlan decodes and validates a YAML plan.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "stage: parse plan")
	}
	if len(p.Pipelines) == 0 {
		return nil, eris.New("stage: plan declares no pipelines")
	}
	for name, pp := range p.Pipelines {
		if len(pp.Stages) == 0 {
			return nil, eris.Errorf("stage: pipeline %s has no stages", name)
		}
		seen := make(map[string]bool, len(pp.Stages))
		for _, s := range pp.Stages {
			if seen[s] {
				return nil, eris.Errorf("stage: pipeline %s lists %s twice", name, s)
			}
			seen[s] = true
		}
	}
	return &p, nil
}

// Stages returns the ordered stage names of pipeline.
func (p *Plan) Stages(pipeline string) ([]string, error) {
	pp, ok := p.Pipelines[pipeline]
	if !ok {
		return nil, eris.Errorf("stage: unknown pipeline %q", pipeline)
	}
	return slices.Clone(pp.Stages), nil
}

// Window narrows an ordered stage list. from starts the run at that stage;
// only restricts it to the listed stages, keeping plan order.
func Window(stages []string, from string, only []string) ([]string, error) {
	out := stages
	if from != "" {
		i := slices.Index(stages, from)
		if i < 0 {
			return nil, eris.Errorf("stage: --from %q is not in the plan", from)
		}
		out = stages[i:]
	}
	if len(only) > 0 {
		for _, o := range only {
			if !slices.Contains(stages, o) {
				return nil, eris.Errorf("stage: --only %q is not in the plan", o)
			}
		}
		var filtered []string
		for _, s := range out {
			if slices.Contains(only, s) {
				filtered = append(filtered, s)
			}
		}
		out = filtered
	}
	return slices.Clone(out), nil
}
