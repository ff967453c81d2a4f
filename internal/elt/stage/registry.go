package stage

import (
	"github.com/rotisserie/eris"
)

// Registry maps stage names to implementations for one pipeline.
type Registry struct {
	pipeline string
	stages   map[string]Stage
	order    []string // insertion order for deterministic iteration
}

// NewRegistry creates an empty registry for pipeline.
func NewRegistry(pipeline string) *Registry {
	return &Registry{
		pipeline: pipeline,
		stages:   make(map[string]Stage),
	}
}

// Pipeline returns the pipeline this registry serves.
func (r *Registry) Pipeline() string { return r.pipeline }

// Register adds a stage. Registering a name twice replaces the stage but
// keeps its original position.
func (r *Registry) Register(s Stage) {
	name := s.Name()
	if _, ok := r.stages[name]; !ok {
		r.order = append(r.order, name)
	}
	r.stages[name] = s
}

// Get returns a stage by name.
func (r *Registry) Get(name string) (Stage, error) {
	s, ok := r.stages[name]
	if !ok {
		return nil, eris.Errorf("stage: unknown stage %q in pipeline %s", name, r.pipeline)
	}
	return s, nil
}

// Select returns the named stages in the order given. An empty names list
// selects every stage in registration order.
func (r *Registry) Select(names []string) ([]Stage, error) {
	if len(names) == 0 {
		names = r.order
	}
	out := make([]Stage, 0, len(names))
	for _, name := range names {
		s, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Names returns stage names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
