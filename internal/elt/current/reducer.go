// Package current maintains stg.youthpolicy_current, the latest landed
// record per policy.
package current

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/db"
)

// refreshSQL picks the most recently observed landing row per policy inside
// the window ($1 days, 0 = all history). A landing row is observed each time
// a raw page repeats it, so unchanged policies stay in the window.
// first_seen_at always spans full history.
const refreshSQL = `
WITH win AS (
    SELECT policy_id, record_hash, raw_json, ingested_at, last_seen_at
      FROM stg.youthpolicy_landing
     WHERE $1::int <= 0 OR last_seen_at >= now() - make_interval(days => $1::int)
), latest AS (
    SELECT DISTINCT ON (policy_id) policy_id, record_hash, raw_json
      FROM win
     ORDER BY policy_id, last_seen_at DESC, ingested_at DESC, record_hash DESC
), seen AS (
    SELECT policy_id, MAX(last_seen_at) AS last_seen_at FROM win GROUP BY policy_id
), first_seen AS (
    SELECT l.policy_id, MIN(l.ingested_at) AS first_seen_at
      FROM stg.youthpolicy_landing l
      JOIN latest USING (policy_id)
     GROUP BY l.policy_id
)
INSERT INTO stg.youthpolicy_current
       (policy_id, record_hash, raw_json, first_seen_at, last_seen_at, is_active)
SELECT latest.policy_id, latest.record_hash, latest.raw_json, f.first_seen_at, s.last_seen_at, TRUE
  FROM latest
  JOIN seen s USING (policy_id)
  JOIN first_seen f USING (policy_id)
ON CONFLICT (policy_id) DO UPDATE
   SET record_hash   = EXCLUDED.record_hash,
       raw_json      = EXCLUDED.raw_json,
       first_seen_at = LEAST(stg.youthpolicy_current.first_seen_at, EXCLUDED.first_seen_at),
       last_seen_at  = GREATEST(stg.youthpolicy_current.last_seen_at, EXCLUDED.last_seen_at),
       is_active     = TRUE`

const changedSQL = `
SELECT count(*)
  FROM stg.youthpolicy_current c
  JOIN (
        SELECT DISTINCT ON (policy_id) policy_id, record_hash
          FROM stg.youthpolicy_landing
         WHERE $1::int <= 0 OR last_seen_at >= now() - make_interval(days => $1::int)
         ORDER BY policy_id, last_seen_at DESC, ingested_at DESC, record_hash DESC
       ) l USING (policy_id)
 WHERE c.record_hash <> l.record_hash`

const sweepSQL = `
UPDATE stg.youthpolicy_current
   SET is_active = FALSE
 WHERE is_active
   AND last_seen_at < now() - make_interval(days => $1::int)`

// ReduceResult reports one refresh.
type ReduceResult struct {
	Upserted int64
	Changed  int64
}

// Reducer refreshes and sweeps the current-pointer table.
type Reducer struct {
	pool         db.Pool
	lookbackDays int
}

// NewReducer creates a reducer. lookbackDays limits which landing rows are
// considered; 0 scans all history.
func NewReducer(pool db.Pool, lookbackDays int) *Reducer {
	return &Reducer{pool: pool, lookbackDays: lookbackDays}
}

// Refresh upserts the latest landing row of every policy seen in the window.
// Rerunning it on unchanged landing data leaves the table as it was.
func (r *Reducer) Refresh(ctx context.Context) (*ReduceResult, error) {
	res := &ReduceResult{}
	if err := r.pool.QueryRow(ctx, changedSQL, r.lookbackDays).Scan(&res.Changed); err != nil {
		return nil, eris.Wrap(err, "current: count changed hashes")
	}

	tag, err := r.pool.Exec(ctx, refreshSQL, r.lookbackDays)
	if err != nil {
		return nil, eris.Wrap(err, "current: refresh")
	}
	res.Upserted = tag.RowsAffected()

	zap.L().Info("current set refreshed",
		zap.Int64("upserted", res.Upserted),
		zap.Int64("hash_changed", res.Changed),
		zap.Int("lookback_days", r.lookbackDays),
	)
	return res, nil
}

// Sweep marks policies not observed in any raw page for staleAfterDays
// inactive and returns the number flipped. A non-positive threshold disables
// the sweep. CORE versioning is not affected.
func (r *Reducer) Sweep(ctx context.Context, staleAfterDays int) (int64, error) {
	if staleAfterDays <= 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, sweepSQL, staleAfterDays)
	if err != nil {
		return 0, eris.Wrap(err, "current: sweep")
	}
	n := tag.RowsAffected()
	zap.L().Info("stale policies swept", zap.Int64("inactive", n), zap.Int("stale_after_days", staleAfterDays))
	return n, nil
}
