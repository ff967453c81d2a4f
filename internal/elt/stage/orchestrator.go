package stage

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/metrics"
)

// RunRecorder persists stage runs. *elt.RunLog implements it.
type RunRecorder interface {
	Start(ctx context.Context, pipeline, stage, partition string) (int64, error)
	Complete(ctx context.Context, id int64, rows int64, metadata map[string]any) error
	Fail(ctx context.Context, id int64, errMsg string) error
}

// RunOpts narrows a pipeline run.
type RunOpts struct {
	From string
	Only []string
}

// Orchestrator runs pipeline stages in plan order and stops at the first
// failure.
type Orchestrator struct {
	plan       *Plan
	registries map[string]*Registry
	runLog     RunRecorder
	metrics    *metrics.Metrics
}

// NewOrchestrator creates an orchestrator over the given registries.
func NewOrchestrator(plan *Plan, runLog RunRecorder, m *metrics.Metrics, regs ...*Registry) *Orchestrator {
	o := &Orchestrator{
		plan:       plan,
		registries: make(map[string]*Registry, len(regs)),
		runLog:     runLog,
		metrics:    m,
	}
	for _, r := range regs {
		o.registries[r.Pipeline()] = r
	}
	return o
}

// Run executes pipeline. Each stage gets a run_log row; a failing stage is
// recorded, logged with its name, and aborts the remaining stages.
func (o *Orchestrator) Run(ctx context.Context, pipeline string, opts RunOpts) error {
	log := zap.L().With(zap.String("component", "stage.orchestrator"), zap.String("pipeline", pipeline))

	reg, ok := o.registries[pipeline]
	if !ok {
		return eris.Errorf("stage: no stages registered for pipeline %q", pipeline)
	}
	planned, err := o.plan.Stages(pipeline)
	if err != nil {
		return err
	}
	names, err := Window(planned, opts.From, opts.Only)
	if err != nil {
		return err
	}
	stages, err := reg.Select(names)
	if err != nil {
		return err
	}

	log.Info("pipeline starting", zap.Strings("stages", names))
	start := time.Now()

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "stage: pipeline %s cancelled before %s", pipeline, s.Name())
		}
		if err := o.runOne(ctx, pipeline, s); err != nil {
			return err
		}
	}

	log.Info("pipeline complete", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// RunStage executes a single stage of pipeline with run logging.
func (o *Orchestrator) RunStage(ctx context.Context, pipeline, name string) error {
	reg, ok := o.registries[pipeline]
	if !ok {
		return eris.Errorf("stage: no stages registered for pipeline %q", pipeline)
	}
	s, err := reg.Get(name)
	if err != nil {
		return err
	}
	return o.runOne(ctx, pipeline, s)
}

func (o *Orchestrator) runOne(ctx context.Context, pipeline string, s Stage) error {
	log := zap.L().With(
		zap.String("component", "stage.orchestrator"),
		zap.String("pipeline", pipeline),
		zap.String("stage", s.Name()),
	)

	runID, err := o.runLog.Start(ctx, pipeline, s.Name(), "")
	if err != nil {
		return eris.Wrapf(err, "stage: start run log for %s", s.Name())
	}

	log.Info("stage starting")
	start := time.Now()
	result, err := s.Run(ctx)
	elapsed := time.Since(start)

	if err != nil {
		o.metrics.ObserveStage(pipeline, s.Name(), "failed", elapsed)
		log.Error("stage failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		if logErr := o.runLog.Fail(ctx, runID, err.Error()); logErr != nil {
			log.Error("failed to record stage failure", zap.Error(logErr))
		}
		return eris.Wrapf(err, "stage %s/%s failed", pipeline, s.Name())
	}

	if result == nil {
		result = &Result{}
	}
	o.metrics.ObserveStage(pipeline, s.Name(), "ok", elapsed)
	if err := o.runLog.Complete(ctx, runID, result.Rows, result.Metadata); err != nil {
		log.Error("failed to record stage completion", zap.Error(err))
	}
	log.Info("stage complete", zap.Int64("rows", result.Rows), zap.Duration("elapsed", elapsed))
	return nil
}
