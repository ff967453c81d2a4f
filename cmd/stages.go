package main

import (
	"context"
	"time"

	"github.com/sells-group/youthfin-elt/internal/classify"
	"github.com/sells-group/youthfin-elt/internal/config"
	"github.com/sells-group/youthfin-elt/internal/db"
	"github.com/sells-group/youthfin-elt/internal/elt/current"
	"github.com/sells-group/youthfin-elt/internal/elt/landing"
	"github.com/sells-group/youthfin-elt/internal/elt/raw"
	"github.com/sells-group/youthfin-elt/internal/elt/reconcile"
	"github.com/sells-group/youthfin-elt/internal/elt/stage"
	"github.com/sells-group/youthfin-elt/internal/elt/status"
	"github.com/sells-group/youthfin-elt/internal/fetcher"
	"github.com/sells-group/youthfin-elt/internal/metrics"
	"github.com/sells-group/youthfin-elt/internal/model"
	"github.com/sells-group/youthfin-elt/internal/resilience"
)

// stageDeps are the collaborators stage closures capture.
type stageDeps struct {
	Pool    db.Pool
	Fetcher fetcher.Fetcher
	Metrics *metrics.Metrics
	Config  *config.Config
}

// stageOptions carry command-line overrides into the stage closures.
type stageOptions struct {
	PlanPath     string
	ProductTypes []model.ProductType
	// SweepDays overrides policy.stale_after_days when >= 0.
	SweepDays   int
	Today       time.Time
	ClassifyAll bool
}

func defaultStageOptions() stageOptions {
	return stageOptions{
		ProductTypes: model.AllProductTypes(),
		SweepDays:    -1,
	}
}

func (o stageOptions) today() time.Time {
	if o.Today.IsZero() {
		return time.Now()
	}
	return o.Today
}

func rawOptions(c *config.Config, start, end int) raw.Options {
	return raw.Options{
		StartPage: start,
		EndPage:   end,
		Retry:     resilience.FromConfig(c.Retry),
	}
}

func policyStages(d stageDeps, o stageOptions) *stage.Registry {
	c := d.Config
	reg := stage.NewRegistry(stage.PipelinePolicy)

	reg.Register(stage.Func{StageName: "raw", Fn: func(ctx context.Context) (*stage.Result, error) {
		res, err := raw.NewPolicyIngest(d.Pool, d.Fetcher, c.Policy, rawOptions(c, c.Policy.StartPage, c.Policy.EndPage)).Run(ctx)
		if err != nil {
			return nil, err
		}
		return &stage.Result{Rows: int64(res.Items), Metadata: map[string]any{"pages": res.Pages}}, nil
	}})

	reg.Register(stage.Func{StageName: "landing", Fn: func(ctx context.Context) (*stage.Result, error) {
		res, err := landing.NewPolicyLanding(d.Pool).Run(ctx)
		if err != nil {
			return nil, err
		}
		return &stage.Result{Rows: res.Inserted, Metadata: map[string]any{
			"pages":   res.Pages,
			"items":   res.Items,
			"dropped": res.Dropped,
		}}, nil
	}})

	reg.Register(stage.Func{StageName: "current", Fn: func(ctx context.Context) (*stage.Result, error) {
		reducer := current.NewReducer(d.Pool, c.Policy.LookbackDays)
		res, err := reducer.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		days := c.Policy.StaleAfterDays
		if o.SweepDays >= 0 {
			days = o.SweepDays
		}
		swept, err := reducer.Sweep(ctx, days)
		if err != nil {
			return nil, err
		}
		return &stage.Result{Rows: res.Upserted, Metadata: map[string]any{
			"changed":  res.Changed,
			"inactive": swept,
		}}, nil
	}})

	reg.Register(stage.Func{StageName: "core", Fn: func(ctx context.Context) (*stage.Result, error) {
		res, err := reconcile.NewPolicyReconciler(d.Pool, c.Policy.ExtSource, d.Metrics).
			WithBatchSize(c.Policy.BatchSize).
			Reconcile(ctx)
		if err != nil {
			return nil, err
		}
		unknown := make(map[string]int, len(res.Unknown))
		for kind, tags := range res.Unknown {
			unknown[string(kind)] = len(tags)
		}
		return &stage.Result{Rows: res.Inserted + res.Closed + res.Touched, Metadata: map[string]any{
			"candidates":   res.Candidates,
			"closed":       res.Closed,
			"inserted":     res.Inserted,
			"touched":      res.Touched,
			"skipped":      res.Skipped,
			"unknown_tags": unknown,
		}}, nil
	}})

	reg.Register(stage.Func{StageName: "status", Fn: func(ctx context.Context) (*stage.Result, error) {
		n, err := status.NewProjector(d.Pool).Run(ctx, o.today())
		if err != nil {
			return nil, err
		}
		return &stage.Result{Rows: n}, nil
	}})

	return reg
}

func financeStages(d stageDeps, o stageOptions) *stage.Registry {
	c := d.Config
	reg := stage.NewRegistry(stage.PipelineFinance)

	reg.Register(stage.Func{StageName: "raw", Fn: func(ctx context.Context) (*stage.Result, error) {
		results, err := raw.NewFinanceIngest(d.Pool, d.Fetcher, c.Finance, rawOptions(c, c.Finance.StartPage, c.Finance.EndPage)).
			RunTypes(ctx, o.ProductTypes)
		if err != nil {
			return nil, err
		}
		out := &stage.Result{Metadata: map[string]any{}}
		for _, r := range results {
			out.Rows += int64(r.Total())
			out.Metadata[string(r.ProductType)] = r.Pages
		}
		return out, nil
	}})

	reg.Register(stage.Func{StageName: "landing", Fn: func(ctx context.Context) (*stage.Result, error) {
		l := landing.NewFinanceLanding(d.Pool)
		out := &stage.Result{Metadata: map[string]any{}}
		for _, pt := range o.ProductTypes {
			res, err := l.Run(ctx, pt)
			if err != nil {
				return nil, err
			}
			out.Rows += res.InsertedBases + res.InsertedOptions
			out.Metadata[string(pt)] = map[string]any{
				"pages":            res.Pages,
				"inserted_bases":   res.InsertedBases,
				"inserted_options": res.InsertedOptions,
				"dropped":          res.Dropped,
			}
		}
		return out, nil
	}})

	reg.Register(stage.Func{StageName: "core", Fn: func(ctx context.Context) (*stage.Result, error) {
		results, err := reconcile.NewProductReconciler(d.Pool, d.Metrics).
			WithBuckets(c.Finance.ReconcileBuckets).
			ReconcileAll(ctx, o.ProductTypes)
		if err != nil {
			return nil, err
		}
		out := &stage.Result{Metadata: map[string]any{}}
		for _, r := range results {
			out.Rows += r.Products.Inserted + r.Options.Inserted
			out.Metadata[string(r.ProductType)] = map[string]any{
				"products":       r.Products,
				"options":        r.Options,
				"cascade_closed": r.CascadeClosed,
				"option_sets":    r.OptionSets,
			}
		}
		return out, nil
	}})

	reg.Register(stage.Func{StageName: "classify", Fn: func(ctx context.Context) (*stage.Result, error) {
		runner := classify.NewRunner(d.Pool, classify.New(c.Classify), c.Classify, resilience.FromConfig(c.Retry), d.Metrics)
		ids, err := runner.Pending(ctx, o.ClassifyAll)
		if err != nil {
			return nil, err
		}
		res, err := runner.Run(ctx, ids)
		if err != nil {
			return nil, err
		}
		return &stage.Result{Rows: res.Upserted, Metadata: map[string]any{
			"ok":          res.OK,
			"placeholder": res.Placeholder,
			"noop":        res.Noop,
			"failed":      res.Failed,
		}}, nil
	}})

	return reg
}
