package landing

import (
	"context"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/db"
	"github.com/sells-group/youthfin-elt/internal/fetcher"
	"github.com/sells-group/youthfin-elt/internal/model"
)

const unlandedFinancePages = `
SELECT p.ingest_id, p.now_page_no, p.ingested_at, p.payload
  FROM raw.finproduct_pages p
 WHERE p.product_type = $1
   AND NOT EXISTS (
       SELECT 1 FROM stg.landed_pages m
        WHERE m.source = 'finproduct' AND m.ingest_id = p.ingest_id)
 ORDER BY p.ingested_at, p.top_fin_grp_no, p.now_page_no`

var financeColumns = []string{"product_type", "ext_source", "fin_prdt_cd", "payload", "content_hash", "source_ingest_id"}

var (
	baseLandingUpsert = db.UpsertConfig{
		Table:        "stg.finproduct_base_landing",
		Columns:      financeColumns,
		ConflictKeys: []string{"product_type", "ext_source", "fin_prdt_cd", "content_hash"},
		UpdateCols:   []string{},
	}
	optionLandingUpsert = db.UpsertConfig{
		Table:        "stg.finproduct_option_landing",
		Columns:      financeColumns,
		ConflictKeys: []string{"product_type", "ext_source", "fin_prdt_cd", "content_hash"},
		UpdateCols:   []string{},
	}
)

// FinanceResult summarizes one finance landing partition.
type FinanceResult struct {
	ProductType     model.ProductType
	Pages           int
	Bases           int
	Options         int
	InsertedBases   int64
	InsertedOptions int64
	Dropped         int
}

// FinanceLanding lands deposit/saving base and option items.
type FinanceLanding struct {
	pool           db.Pool
	baseVolatile   []string
	optionVolatile []string
}

// NewFinanceLanding creates a finance landing with the current volatile sets.
func NewFinanceLanding(pool db.Pool) *FinanceLanding {
	return &FinanceLanding{pool: pool, baseVolatile: FinanceBaseVolatileV1, optionVolatile: FinanceOptionVolatileV1}
}

// Run lands unmarked raw pages of one product type. Base and option rows of
// a page commit together with the page's mark.
func (l *FinanceLanding) Run(ctx context.Context, pt model.ProductType) (*FinanceResult, error) {
	log := zap.L().With(zap.String("component", "landing.finance"), zap.String("product_type", string(pt)))
	res := &FinanceResult{ProductType: pt}
	src := pt.ExtSource()

	pages, err := loadPages(ctx, l.pool, unlandedFinancePages, string(pt))
	if err != nil {
		return res, err
	}

	for _, page := range pages {
		res.Pages++
		bases, err := decodeItems(page.Payload, "baseList")
		if err != nil {
			log.Warn("skipping undecodable raw page", zap.Stringer("ingest_id", page.IngestID), zap.Error(err))
			if err := markLanded(ctx, l.pool, sourceFinance, page, 0, 0); err != nil {
				return res, err
			}
			continue
		}
		options, err := decodeItems(page.Payload, "optionList")
		if err != nil {
			return res, err
		}
		res.Bases += len(bases)
		res.Options += len(options)

		baseRows, dropped, err := l.rows(pt, src, page, bases, l.baseVolatile)
		if err != nil {
			return res, err
		}
		res.Dropped += dropped
		optRows, dropped, err := l.rows(pt, src, page, options, l.optionVolatile)
		if err != nil {
			return res, err
		}
		res.Dropped += dropped

		err = db.WithTx(ctx, l.pool, func(tx pgx.Tx) error {
			nb, err := db.UpsertTx(ctx, tx, baseLandingUpsert, baseRows)
			if err != nil {
				return err
			}
			no, err := db.UpsertTx(ctx, tx, optionLandingUpsert, optRows)
			if err != nil {
				return err
			}
			res.InsertedBases += nb
			res.InsertedOptions += no
			return markLanded(ctx, tx, sourceFinance, page, len(bases)+len(options), nb+no)
		})
		if err != nil {
			return res, err
		}
	}

	log.Info("finance landing complete",
		zap.Int("pages", res.Pages),
		zap.Int("bases", res.Bases),
		zap.Int("options", res.Options),
		zap.Int64("inserted_bases", res.InsertedBases),
		zap.Int64("inserted_options", res.InsertedOptions),
		zap.Int("dropped", res.Dropped),
	)
	return res, nil
}

func (l *FinanceLanding) rows(pt model.ProductType, src string, page rawPage, items []map[string]any, volatile []string) ([][]any, int, error) {
	seen := make(map[string]bool, len(items))
	rows := make([][]any, 0, len(items))
	dropped := 0
	for _, item := range items {
		code := fetcher.AsString(item["fin_prdt_cd"])
		if code == "" {
			dropped++
			zap.L().Warn("dropping finance item without fin_prdt_cd", zap.Stringer("ingest_id", page.IngestID))
			continue
		}
		hash, err := ContentHash(item, volatile)
		if err != nil {
			return nil, 0, err
		}
		if seen[code+hash] {
			continue
		}
		seen[code+hash] = true
		payload, err := marshalItem(item)
		if err != nil {
			return nil, 0, err
		}
		rows = append(rows, []any{string(pt), src, code, payload, hash, page.IngestID})
	}
	return rows, dropped, nil
}
