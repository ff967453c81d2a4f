package landing

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/db"
	"github.com/sells-group/youthfin-elt/internal/fetcher"
)

const unlandedPolicyPages = `
SELECT p.ingest_id, p.page_no, p.ingested_at, p.payload
  FROM raw.youthpolicy_pages p
 WHERE NOT EXISTS (
       SELECT 1 FROM stg.landed_pages m
        WHERE m.source = 'youthpolicy' AND m.ingest_id = p.ingest_id)
 ORDER BY p.ingested_at, p.page_no`

// observePolicies advances last_seen_at of landing rows re-observed unchanged.
const observePolicies = `
UPDATE stg.youthpolicy_landing l
   SET last_seen_at = $3
  FROM unnest($1::text[], $2::text[]) AS o(policy_id, record_hash)
 WHERE l.policy_id = o.policy_id
   AND l.record_hash = o.record_hash
   AND l.last_seen_at < $3`

var policyLandingUpsert = db.UpsertConfig{
	Table:        "stg.youthpolicy_landing",
	Columns:      []string{"policy_id", "record_hash", "raw_json", "source_ingest_id", "page_no", "last_seen_at"},
	ConflictKeys: []string{"policy_id", "record_hash"},
	UpdateCols:   []string{},
}

// PolicyResult summarizes one policy landing run.
type PolicyResult struct {
	Pages    int
	Items    int
	Inserted int64
	Observed int64
	Dropped  int
}

// PolicyLanding lands youth-policy items from raw pages.
type PolicyLanding struct {
	pool     db.Pool
	volatile []string
}

// NewPolicyLanding creates a policy landing with the current volatile set.
func NewPolicyLanding(pool db.Pool) *PolicyLanding {
	return &PolicyLanding{pool: pool, volatile: PolicyVolatileV1}
}

// Run lands every raw page not yet marked landed. Each page commits in its
// own transaction together with its mark. An item already landed with the
// same hash is not inserted again; its last_seen_at moves to the page's
// ingest time instead.
func (l *PolicyLanding) Run(ctx context.Context) (*PolicyResult, error) {
	log := zap.L().With(zap.String("component", "landing.policy"))
	res := &PolicyResult{}

	pages, err := loadPages(ctx, l.pool, unlandedPolicyPages)
	if err != nil {
		return res, err
	}

	for _, page := range pages {
		res.Pages++
		items, err := decodeItems(page.Payload, "youthPolicyList", "items")
		if err != nil {
			log.Warn("skipping undecodable raw page", zap.Stringer("ingest_id", page.IngestID), zap.Error(err))
			if err := markLanded(ctx, l.pool, sourcePolicy, page, 0, 0); err != nil {
				return res, err
			}
			continue
		}

		seen := make(map[string]bool, len(items))
		rows := make([][]any, 0, len(items))
		for _, item := range items {
			res.Items++
			id := fetcher.AsString(item["plcyNo"])
			if id == "" {
				res.Dropped++
				log.Warn("dropping policy item without plcyNo", zap.Stringer("ingest_id", page.IngestID), zap.Int("page", page.PageNo))
				continue
			}
			hash, err := ContentHash(item, l.volatile)
			if err != nil {
				return res, err
			}
			if seen[id+hash] {
				continue
			}
			seen[id+hash] = true
			raw, err := marshalItem(item)
			if err != nil {
				return res, err
			}
			rows = append(rows, []any{id, hash, raw, page.IngestID, page.PageNo, page.ObservedAt})
		}

		err = db.WithTx(ctx, l.pool, func(tx pgx.Tx) error {
			n, err := db.UpsertTx(ctx, tx, policyLandingUpsert, rows)
			if err != nil {
				return err
			}
			observed, err := observe(ctx, tx, rows, page)
			if err != nil {
				return err
			}
			res.Inserted += n
			res.Observed += observed
			return markLanded(ctx, tx, sourcePolicy, page, len(items), n)
		})
		if err != nil {
			return res, err
		}
	}

	log.Info("policy landing complete",
		zap.Int("pages", res.Pages),
		zap.Int("items", res.Items),
		zap.Int64("inserted", res.Inserted),
		zap.Int64("re_observed", res.Observed),
		zap.Int("dropped", res.Dropped),
	)
	return res, nil
}

// observe stamps the page's ingest time on already-landed rows it repeats.
func observe(ctx context.Context, tx db.Querier, rows [][]any, page rawPage) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	ids := make([]string, len(rows))
	hashes := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r[0].(string)
		hashes[i] = r[1].(string)
	}
	tag, err := tx.Exec(ctx, observePolicies, ids, hashes, page.ObservedAt)
	if err != nil {
		return 0, eris.Wrapf(err, "landing: observe page %s", page.IngestID)
	}
	return tag.RowsAffected(), nil
}
