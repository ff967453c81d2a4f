package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/youthfin-elt/internal/config"
	"github.com/sells-group/youthfin-elt/internal/db"
	"github.com/sells-group/youthfin-elt/internal/elt"
	"github.com/sells-group/youthfin-elt/internal/elt/stage"
	"github.com/sells-group/youthfin-elt/internal/fetcher"
	"github.com/sells-group/youthfin-elt/internal/metrics"
	"github.com/sells-group/youthfin-elt/internal/resilience"
)

// pipelineEnv holds the shared dependencies of a command.
type pipelineEnv struct {
	Pool    *pgxpool.Pool
	Metrics *metrics.Metrics
	RunLog  *elt.RunLog
}

// Close releases the database pool.
func (e *pipelineEnv) Close() {
	if e.Pool != nil {
		e.Pool.Close()
	}
}

// openEnv validates reqs and connects to the database.
func openEnv(ctx context.Context, reqs ...config.Requirement) (*pipelineEnv, error) {
	if err := cfg.Validate(append([]config.Requirement{config.NeedDatabase}, reqs...)...); err != nil {
		return nil, err
	}
	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool())
	if err != nil {
		return nil, err
	}
	return &pipelineEnv{
		Pool:    pool,
		Metrics: metrics.New(prometheus.DefaultRegisterer),
		RunLog:  elt.NewRunLog(pool),
	}, nil
}

func newFetcher() fetcher.Fetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.Fetcher.UserAgent,
		Timeout:    time.Duration(cfg.Fetcher.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Fetcher.MaxRetries,
		RatePerSec: cfg.Fetcher.RatePerSec,
		Retry:      resilience.FromConfig(cfg.Retry),
	})
}

// orchestrator wires both pipelines' stages over env.
func (e *pipelineEnv) orchestrator(opts stageOptions) (*stage.Orchestrator, error) {
	plan, err := stage.LoadPlan(opts.PlanPath)
	if err != nil {
		return nil, err
	}
	deps := stageDeps{
		Pool:    e.Pool,
		Fetcher: newFetcher(),
		Metrics: e.Metrics,
		Config:  cfg,
	}
	return stage.NewOrchestrator(plan, e.RunLog, e.Metrics,
		policyStages(deps, opts),
		financeStages(deps, opts),
	), nil
}
