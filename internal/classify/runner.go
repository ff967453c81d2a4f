package classify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/youthfin-elt/internal/config"
	"github.com/sells-group/youthfin-elt/internal/db"
	"github.com/sells-group/youthfin-elt/internal/metrics"
	"github.com/sells-group/youthfin-elt/internal/model"
	"github.com/sells-group/youthfin-elt/internal/resilience"
)

const conditionTexts = `
SELECT id, COALESCE(spcl_cnd, '')
  FROM core.product
 WHERE is_current AND id = ANY($1)
 ORDER BY id`

// pendingProducts selects current products never classified or whose last
// classification failed.
const pendingProducts = `
SELECT p.id
  FROM core.product p
  LEFT JOIN core.product_special_condition s ON s.product_id = p.id
 WHERE p.is_current AND (s.product_id IS NULL OR s.error)
 ORDER BY p.id`

const currentProducts = `SELECT id FROM core.product WHERE is_current ORDER BY id`

// Outcomes recorded per product.
const (
	OutcomeOK          = "ok"
	OutcomePlaceholder = "placeholder"
	OutcomeError       = "error"
	OutcomeNoop        = "noop"
)

func specialConditionUpsert() db.UpsertConfig {
	cols := make([]string, 0, len(model.SpecialFlagColumns)+3)
	cols = append(cols, "product_id")
	cols = append(cols, model.SpecialFlagColumns...)
	cols = append(cols, "error", "classified_at")
	return db.UpsertConfig{
		Table:        "core.product_special_condition",
		Columns:      cols,
		ConflictKeys: []string{"product_id"},
	}
}

// Result summarizes one classification run.
type Result struct {
	Products    int
	OK          int
	Placeholder int
	Failed      int
	Noop        int
	Upserted    int64
}

// Record is one product's persisted classification.
type Record struct {
	ProductID int64
	Flags     model.SpecialFlags
	Error     bool
	Outcome   string
}

type conditionText struct {
	id   int64
	text string
}

// Runner classifies committed current products and stores the flags.
type Runner struct {
	pool        db.Pool
	classifier  Classifier
	retry       resilience.RetryConfig
	concurrency int
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewRunner creates a Runner. retry bounds the attempts per product; a
// positive cfg.MaxAttempts overrides it.
func NewRunner(pool db.Pool, c Classifier, cfg config.ClassifyConfig, retry resilience.RetryConfig, m *metrics.Metrics) *Runner {
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	retry = retry.WithAttempts(cfg.MaxAttempts)
	retry.OnRetry = resilience.RetryLogger("classify", "classify_special_condition")

	return &Runner{
		pool:        pool,
		classifier:  c,
		retry:       retry,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(limit, 1),
		metrics:     m,
		now:         time.Now,
	}
}

// Pending returns the product ids a classify stage should process: every
// current product when all is set, otherwise those without a successful
// classification.
func (r *Runner) Pending(ctx context.Context, all bool) ([]int64, error) {
	query := pendingProducts
	if all {
		query = currentProducts
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "classify: pending products")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, eris.Wrap(err, "classify: scan pending products")
	}
	return ids, nil
}

// Run classifies productIDs and upserts one row per product. A product whose
// classification fails is stored with error=true and does not fail the run;
// only a cancelled context or a database fault does.
func (r *Runner) Run(ctx context.Context, productIDs []int64) (*Result, error) {
	log := zap.L().With(zap.String("component", "classify"))
	res := &Result{}
	if len(productIDs) == 0 {
		return res, nil
	}

	rows, err := r.pool.Query(ctx, conditionTexts, productIDs)
	if err != nil {
		return nil, eris.Wrap(err, "classify: load condition texts")
	}
	texts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (conditionText, error) {
		var t conditionText
		err := row.Scan(&t.id, &t.text)
		return t, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "classify: scan condition texts")
	}
	res.Products = len(texts)

	records := make([]Record, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, t := range texts {
		g.Go(func() error {
			rec, err := r.classifyOne(gctx, t)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "classify: run")
	}

	classifiedAt := r.now().UTC()
	upsertRows := make([][]any, 0, len(records))
	for _, rec := range records {
		switch rec.Outcome {
		case OutcomeOK:
			res.OK++
		case OutcomePlaceholder:
			res.Placeholder++
		case OutcomeNoop:
			res.Noop++
		default:
			res.Failed++
		}
		r.metrics.IncClassify(rec.Outcome)

		row := make([]any, 0, len(model.SpecialFlagColumns)+3)
		row = append(row, rec.ProductID)
		row = append(row, rec.Flags.Values()...)
		row = append(row, rec.Error, classifiedAt)
		upsertRows = append(upsertRows, row)
	}

	res.Upserted, err = db.BulkUpsert(ctx, r.pool, specialConditionUpsert(), upsertRows)
	if err != nil {
		return nil, eris.Wrap(err, "classify: store special conditions")
	}

	log.Info("special conditions classified",
		zap.Int("products", res.Products),
		zap.Int("ok", res.OK),
		zap.Int("placeholder", res.Placeholder),
		zap.Int("noop", res.Noop),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// classifyOne returns an error only when ctx is done.
func (r *Runner) classifyOne(ctx context.Context, t conditionText) (Record, error) {
	rec := Record{ProductID: t.id}
	if IsPlaceholder(t.text) {
		rec.Outcome = OutcomePlaceholder
		return rec, nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return rec, err
	}

	type reply struct {
		flags model.SpecialFlags
		ok    bool
	}
	out, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) (reply, error) {
		flags, ok, err := r.classifier.Classify(ctx, t.id, t.text)
		return reply{flags: flags, ok: ok}, err
	})
	switch {
	case ctx.Err() != nil:
		return rec, ctx.Err()
	case err != nil:
		zap.L().Warn("classify: product failed",
			zap.Int64("product_id", t.id),
			zap.Error(err),
		)
		rec.Error = true
		rec.Outcome = OutcomeError
	case !out.ok:
		rec.Error = true
		rec.Outcome = OutcomeNoop
	default:
		rec.Flags = out.flags
		rec.Outcome = OutcomeOK
	}
	return rec, nil
}
