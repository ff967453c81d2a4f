// Package reconcile applies staged candidates to the versioned CORE tables:
// close-then-open per natural key, option reconciliation, derived
// aggregates and association resync.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/youthfin-elt/internal/db"
)

// candidateOrder ranks candidates of one natural key: latest effective
// period, then latest observation, then highest hash. Sources without a
// period expose NULL and fall back to observation time.
const candidateOrder = "to_date(COALESCE(s.period, '190001'), 'YYYYMM') DESC, s.observed_at DESC, s.content_hash DESC"

// VersionedGroup describes one SCD2 entity family.
type VersionedGroup struct {
	// Name labels the candidate temp table tmp_<Name>_candidates.
	Name   string
	Target string
	// TargetKey are key expressions over the target alias t, positionally
	// matching CandidateKey.
	TargetKey []string
	// CandidateKey are candidate column names forming the natural key.
	CandidateKey []string
	// Columns are copied from the candidate into new versions.
	Columns []string
	// Source selects candidate rows exposing CandidateKey, Columns,
	// content_hash, period and observed_at.
	Source string
	Args   []any
}

func (g VersionedGroup) candidates() string {
	return pgx.Identifier{"tmp_" + g.Name + "_candidates"}.Sanitize()
}

func (g VersionedGroup) keyMatch() string {
	parts := make([]string, len(g.TargetKey))
	for i := range g.TargetKey {
		parts[i] = fmt.Sprintf("%s = c.%s", g.TargetKey[i], g.CandidateKey[i])
	}
	return strings.Join(parts, " AND ")
}

func (g VersionedGroup) validate() error {
	if g.Name == "" || g.Target == "" || g.Source == "" {
		return eris.New("reconcile: group needs name, target and source")
	}
	if len(g.TargetKey) == 0 || len(g.TargetKey) != len(g.CandidateKey) {
		return eris.Errorf("reconcile: %s: key expressions mismatch", g.Name)
	}
	if len(g.Columns) == 0 {
		return eris.Errorf("reconcile: %s: no insert columns", g.Name)
	}
	return nil
}

// CandidatesSQL materializes the winning candidate per natural key.
func (g VersionedGroup) CandidatesSQL() string {
	partition := make([]string, len(g.CandidateKey))
	for i, k := range g.CandidateKey {
		partition[i] = "s." + k
	}
	return fmt.Sprintf(`CREATE TEMP TABLE %s ON COMMIT DROP AS
SELECT * FROM (
    SELECT s.*, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS rn
      FROM (%s) s
) ranked
WHERE rn = 1`, g.candidates(), strings.Join(partition, ", "), candidateOrder, g.Source)
}

// CloseSQL ends the current version of every key whose hash changed.
func (g VersionedGroup) CloseSQL() string {
	return fmt.Sprintf(`UPDATE %s t
   SET is_current = FALSE, valid_to_ts = now(), updated_at = now()
  FROM %s c
 WHERE t.is_current AND %s AND t.content_hash <> c.content_hash
RETURNING t.id`, g.Target, g.candidates(), g.keyMatch())
}

// InsertSQL opens a version for every key with no current row. A current
// row with a different hash can only remain if the close step missed it;
// selecting it here lets the partial unique index reject the insert.
func (g VersionedGroup) InsertSQL() string {
	cols := strings.Join(g.Columns, ", ")
	sel := make([]string, len(g.Columns))
	for i, c := range g.Columns {
		sel[i] = "c." + c
	}
	return fmt.Sprintf(`INSERT INTO %s (%s, content_hash, is_current, valid_from_ts, updated_at)
SELECT %s, c.content_hash, TRUE, now(), now()
  FROM %s c
  LEFT JOIN %s t ON t.is_current AND %s
 WHERE t.id IS NULL OR t.content_hash <> c.content_hash
RETURNING id`, g.Target, cols, strings.Join(sel, ", "), g.candidates(), g.Target, g.keyMatch())
}

// TouchSQL bumps updated_at on unchanged current rows, skipping rows this
// run inserted ($1).
func (g VersionedGroup) TouchSQL() string {
	return fmt.Sprintf(`UPDATE %s t
   SET updated_at = now()
  FROM %s c
 WHERE t.is_current AND %s AND t.content_hash = c.content_hash
   AND NOT (t.id = ANY($1))
RETURNING t.id`, g.Target, g.candidates(), g.keyMatch())
}

// Counts reports one reconcile pass.
type Counts struct {
	Candidates int64
	Closed     int64
	Inserted   int64
	Touched    int64
}

// Add accumulates o into c.
func (c *Counts) Add(o Counts) {
	c.Candidates += o.Candidates
	c.Closed += o.Closed
	c.Inserted += o.Inserted
	c.Touched += o.Touched
}

// GroupResult holds the ids each step returned.
type GroupResult struct {
	Counts
	ClosedIDs   []int64
	InsertedIDs []int64
	TouchedIDs  []int64
}

// CurrentIDs are the ids that are current for a candidate key after the
// pass: new versions plus unchanged ones.
func (r *GroupResult) CurrentIDs() []int64 {
	out := make([]int64, 0, len(r.InsertedIDs)+len(r.TouchedIDs))
	out = append(out, r.InsertedIDs...)
	return append(out, r.TouchedIDs...)
}

// ReconcileGroup runs candidates, close, insert and touch for g inside tx.
func ReconcileGroup(ctx context.Context, tx db.Querier, g VersionedGroup) (*GroupResult, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	res := &GroupResult{}

	tag, err := tx.Exec(ctx, g.CandidatesSQL(), g.Args...)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: %s: build candidates", g.Name)
	}
	res.Candidates = tag.RowsAffected()

	if res.ClosedIDs, err = collectIDs(ctx, tx, g.CloseSQL()); err != nil {
		return nil, eris.Wrapf(err, "reconcile: %s: close", g.Name)
	}
	if res.InsertedIDs, err = collectIDs(ctx, tx, g.InsertSQL()); err != nil {
		return nil, eris.Wrapf(err, "reconcile: %s: insert", g.Name)
	}
	if res.TouchedIDs, err = collectIDs(ctx, tx, g.TouchSQL(), nonNil(res.InsertedIDs)); err != nil {
		return nil, eris.Wrapf(err, "reconcile: %s: touch", g.Name)
	}

	res.Closed = int64(len(res.ClosedIDs))
	res.Inserted = int64(len(res.InsertedIDs))
	res.Touched = int64(len(res.TouchedIDs))
	return res, nil
}

func collectIDs(ctx context.Context, tx db.Querier, sql string, args ...any) ([]int64, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// nonNil keeps ANY($n) binding to an empty array instead of NULL.
func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
