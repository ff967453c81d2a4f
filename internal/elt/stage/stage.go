// Package stage wires pipeline stages into ordered, fail-fast runs.
package stage

import "context"

// Pipeline names.
const (
	PipelinePolicy  = "policy"
	PipelineFinance = "finance"
)

// Result is the outcome of one stage run, recorded in the run log.
type Result struct {
	Rows     int64          `json:"rows"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Stage is one independently runnable step of a pipeline.
type Stage interface {
	// Name is the stage's identifier within its pipeline (e.g. "raw", "core").
	Name() string

	// Run executes the stage to completion.
	Run(ctx context.Context) (*Result, error)
}

// Func adapts a function to the Stage interface.
type Func struct {
	StageName string
	Fn        func(ctx context.Context) (*Result, error)
}

// Name implements Stage.
func (f Func) Name() string { return f.StageName }

// Run implements Stage.
func (f Func) Run(ctx context.Context) (*Result, error) { return f.Fn(ctx) }
