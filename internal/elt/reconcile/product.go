package reconcile

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/youthfin-elt/internal/db"
	"github.com/sells-group/youthfin-elt/internal/metrics"
	"github.com/sells-group/youthfin-elt/internal/model"
)

// Sources take (product_type, bucket count, bucket index). A product and its
// options always hash to the same bucket.
const productSource = `
SELECT b.product_type, b.ext_source, b.fin_prdt_cd AS ext_id, b.payload, b.content_hash,
       b.dcls_month AS period, b.run_ts AS observed_at
  FROM stg.finproduct_base_landing b
 WHERE b.product_type = $1
   AND (hashtext(b.fin_prdt_cd) & 2147483647) % $2::int = $3::int`

// optionSource only admits options staged for the owning product's current
// disclosure month, or with no month at all.
const optionSource = `
SELECT p.id AS product_id, o.payload, o.content_hash,
       o.dcls_month AS period, o.run_ts AS observed_at,
       COALESCE(NULLIF(o.payload->>'save_trm', '')::int, -1) AS k_save_trm,
       COALESCE(o.payload->>'intr_rate_type', '')           AS k_intr_rate_type,
       COALESCE(o.payload->>'rsrv_type', '')                AS k_rsrv_type
  FROM stg.finproduct_option_landing o
  JOIN core.product p
    ON p.is_current AND p.ext_source = o.ext_source AND p.ext_id = o.fin_prdt_cd
 WHERE o.product_type = $1
   AND (hashtext(o.fin_prdt_cd) & 2147483647) % $2::int = $3::int
   AND (o.dcls_month IS NULL OR o.dcls_month = p.dcls_month)`

const cascadeCloseOptions = `
UPDATE core.product_option
   SET is_current = FALSE, valid_to_ts = now(), updated_at = now()
 WHERE is_current AND product_id = ANY($1)`

const productJoinWays = `SELECT id, COALESCE(join_way, '') FROM core.product WHERE id = ANY($1)`

// JoinWaySpec is the product sales-channel edge table.
var JoinWaySpec = AssocSpec{
	Name:     "product_join_way",
	Table:    "core.product_join_way",
	OwnerCol: "product_id",
	RefCol:   "join_way",
	RefType:  "text",
}

// bucket is one hash slice of a partition's natural keys.
type bucket struct {
	index, of int
}

var wholePartition = bucket{index: 0, of: 1}

func productGroup(pt model.ProductType, b bucket) VersionedGroup {
	return VersionedGroup{
		Name:         "product",
		Target:       "core.product",
		TargetKey:    []string{"t.ext_source", "t.ext_id"},
		CandidateKey: []string{"ext_source", "ext_id"},
		Columns:      []string{"product_type", "ext_source", "ext_id", "payload"},
		Source:       productSource,
		Args:         []any{string(pt), b.of, b.index},
	}
}

func optionGroup(pt model.ProductType, b bucket) VersionedGroup {
	return VersionedGroup{
		Name:   "option",
		Target: "core.product_option",
		TargetKey: []string{
			"t.product_id",
			"COALESCE(t.save_trm, -1)",
			"COALESCE(t.intr_rate_type, '')",
			"COALESCE(t.rsrv_type, '')",
		},
		CandidateKey: []string{"product_id", "k_save_trm", "k_intr_rate_type", "k_rsrv_type"},
		Columns:      []string{"product_id", "payload"},
		Source:       optionSource,
		Args:         []any{string(pt), b.of, b.index},
	}
}

// PartitionResult reports one product-type partition.
type PartitionResult struct {
	ProductType   model.ProductType
	Buckets       int
	Products      Counts
	Options       Counts
	CascadeClosed int64
	OptionSets    int64
	JoinWay       AssocResult
	// CurrentIDs are the product ids current after the run, for enrichment.
	CurrentIDs []int64
}

func (p *PartitionResult) add(o *PartitionResult) {
	p.Buckets++
	p.Products.Add(o.Products)
	p.Options.Add(o.Options)
	p.CascadeClosed += o.CascadeClosed
	p.OptionSets += o.OptionSets
	p.JoinWay.Inserted += o.JoinWay.Inserted
	p.JoinWay.Deleted += o.JoinWay.Deleted
	p.CurrentIDs = append(p.CurrentIDs, o.CurrentIDs...)
}

// ProductReconciler versions finance products and their options.
type ProductReconciler struct {
	pool    db.Pool
	metrics *metrics.Metrics
	buckets int
}

// NewProductReconciler creates a product reconciler that handles each
// partition in a single bucket. m may be nil.
func NewProductReconciler(pool db.Pool, m *metrics.Metrics) *ProductReconciler {
	return &ProductReconciler{pool: pool, metrics: m, buckets: 1}
}

// WithBuckets splits each partition into n hash buckets of fin_prdt_cd, each
// reconciled in its own transaction.
func (r *ProductReconciler) WithBuckets(n int) *ProductReconciler {
	r.buckets = max(1, n)
	return r
}

// Reconcile runs the partition one bucket at a time. Each bucket versions
// its products, options, option sets and join ways in one transaction, so
// an interrupted run leaves committed buckets complete. Any failure,
// including a second current row for a key, rolls back that bucket and
// stops the partition.
func (r *ProductReconciler) Reconcile(ctx context.Context, pt model.ProductType) (*PartitionResult, error) {
	log := zap.L().With(zap.String("component", "reconcile.product"), zap.String("product_type", string(pt)))
	res := &PartitionResult{ProductType: pt}

	for i := range r.buckets {
		br, err := r.reconcileBucket(ctx, pt, bucket{index: i, of: r.buckets})
		if err != nil {
			if IsInvariantViolation(err) {
				log.Error("single-current invariant violated; bucket rolled back", zap.Int("bucket", i), zap.Error(err))
			}
			return nil, eris.Wrapf(err, "reconcile: partition %s bucket %d/%d", pt, i, r.buckets)
		}
		res.add(br)
	}

	r.metrics.AddReconcile("product", res.Products.Closed, res.Products.Inserted, res.Products.Touched)
	r.metrics.AddReconcile("option", res.Options.Closed+res.CascadeClosed, res.Options.Inserted, res.Options.Touched)
	r.metrics.AddAssoc(JoinWaySpec.Name, res.JoinWay.Inserted, res.JoinWay.Deleted, 0)
	log.Info("partition reconciled",
		zap.Int("buckets", res.Buckets),
		zap.Int64("products_closed", res.Products.Closed),
		zap.Int64("products_inserted", res.Products.Inserted),
		zap.Int64("products_touched", res.Products.Touched),
		zap.Int64("options_cascade_closed", res.CascadeClosed),
		zap.Int64("options_closed", res.Options.Closed),
		zap.Int64("options_inserted", res.Options.Inserted),
		zap.Int64("options_touched", res.Options.Touched),
		zap.Int64("option_sets", res.OptionSets),
	)
	return res, nil
}

func (r *ProductReconciler) reconcileBucket(ctx context.Context, pt model.ProductType, b bucket) (*PartitionResult, error) {
	res := &PartitionResult{ProductType: pt}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		products, err := ReconcileGroup(ctx, tx, productGroup(pt, b))
		if err != nil {
			return err
		}
		res.Products = products.Counts
		res.CurrentIDs = products.CurrentIDs()

		if len(products.ClosedIDs) > 0 {
			tag, err := tx.Exec(ctx, cascadeCloseOptions, products.ClosedIDs)
			if err != nil {
				return eris.Wrap(err, "reconcile: cascade close options")
			}
			res.CascadeClosed = tag.RowsAffected()
		}

		options, err := ReconcileGroup(ctx, tx, optionGroup(pt, b))
		if err != nil {
			return err
		}
		res.Options = options.Counts

		if res.OptionSets, err = RecomputeOptionSets(ctx, tx, res.CurrentIDs); err != nil {
			return err
		}

		pairs, err := joinWayPairs(ctx, tx, res.CurrentIDs)
		if err != nil {
			return err
		}
		jw, err := SyncAssociation(ctx, tx, JoinWaySpec, res.CurrentIDs, pairs)
		if err != nil {
			return err
		}
		res.JoinWay = *jw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReconcileAll reconciles partitions concurrently. Partitions share no
// natural keys, so their transactions cannot collide.
func (r *ProductReconciler) ReconcileAll(ctx context.Context, types []model.ProductType) ([]*PartitionResult, error) {
	var mu sync.Mutex
	results := make([]*PartitionResult, 0, len(types))

	g, gctx := errgroup.WithContext(ctx)
	for _, pt := range types {
		g.Go(func() error {
			res, err := r.Reconcile(gctx, pt)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

func joinWayPairs(ctx context.Context, tx db.Querier, ids []int64) ([]Pair, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := tx.Query(ctx, productJoinWays, ids)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: load join ways")
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var id int64
		var ways string
		if err := rows.Scan(&id, &ways); err != nil {
			return nil, eris.Wrap(err, "reconcile: scan join way")
		}
		for _, w := range strings.Split(ways, ",") {
			if w = strings.TrimSpace(w); w != "" {
				pairs = append(pairs, Pair{Owner: id, Ref: w})
			}
		}
	}
	return pairs, eris.Wrap(rows.Err(), "reconcile: iterate join ways")
}
