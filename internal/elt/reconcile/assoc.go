package reconcile

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/youthfin-elt/internal/db"
)

// AssocSpec describes a flat many-to-many edge table.
type AssocSpec struct {
	Name     string // metrics label and temp table stem
	Table    string
	OwnerCol string
	RefCol   string
	RefType  string // SQL type of RefCol
}

// Pair is one (owner, ref) edge. Ref holds an int64 id or a string value.
type Pair struct {
	Owner int64
	Ref   any
}

// AssocResult counts one resync.
type AssocResult struct {
	Inserted int64
	Deleted  int64
}

// BoundPairs keeps the distinct pairs whose owner is in owners.
func BoundPairs(owners []int64, pairs []Pair) []Pair {
	in := make(map[int64]bool, len(owners))
	for _, o := range owners {
		in[o] = true
	}
	seen := make(map[Pair]bool, len(pairs))
	out := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if !in[p.Owner] || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func (s AssocSpec) idsTable() string   { return pgx.Identifier{"tmp_" + s.Name + "_ids"}.Sanitize() }
func (s AssocSpec) pairsTable() string { return pgx.Identifier{"tmp_" + s.Name + "_pairs"}.Sanitize() }

// InsertSQL adds target pairs that are not yet present.
func (s AssocSpec) InsertSQL() string {
	owner := pgx.Identifier{s.OwnerCol}.Sanitize()
	ref := pgx.Identifier{s.RefCol}.Sanitize()
	return fmt.Sprintf(`INSERT INTO %s (%s, %s)
SELECT p.owner_id, p.ref_id
  FROM %s p
  LEFT JOIN %s a ON a.%s = p.owner_id AND a.%s = p.ref_id
 WHERE a.%s IS NULL`, db.Ident(s.Table).Sanitize(), owner, ref, s.pairsTable(), db.Ident(s.Table).Sanitize(), owner, ref, owner)
}

// DeleteSQL removes pairs of the resynced owners that are no longer targeted.
// Owners outside the id set are never touched.
func (s AssocSpec) DeleteSQL() string {
	owner := pgx.Identifier{s.OwnerCol}.Sanitize()
	ref := pgx.Identifier{s.RefCol}.Sanitize()
	return fmt.Sprintf(`DELETE FROM %s a
 USING %s i
 WHERE a.%s = i.owner_id
   AND NOT EXISTS (
       SELECT 1 FROM %s p WHERE p.owner_id = a.%s AND p.ref_id = a.%s)`,
		db.Ident(s.Table).Sanitize(), s.idsTable(), owner, s.pairsTable(), owner, ref)
}

// SyncAssociation makes the edges of owners equal to pairs inside tx.
func SyncAssociation(ctx context.Context, tx db.Querier, spec AssocSpec, owners []int64, pairs []Pair) (*AssocResult, error) {
	res := &AssocResult{}
	if len(owners) == 0 {
		return res, nil
	}

	idRows := make([][]any, len(owners))
	for i, o := range owners {
		idRows[i] = []any{o}
	}
	if _, err := db.LoadTemp(ctx, tx, "tmp_"+spec.Name+"_ids", []db.TempColumn{
		{Name: "owner_id", Type: "bigint"},
	}, idRows); err != nil {
		return nil, err
	}

	bounded := BoundPairs(owners, pairs)
	pairRows := make([][]any, len(bounded))
	for i, p := range bounded {
		pairRows[i] = []any{p.Owner, p.Ref}
	}
	if _, err := db.LoadTemp(ctx, tx, "tmp_"+spec.Name+"_pairs", []db.TempColumn{
		{Name: "owner_id", Type: "bigint"},
		{Name: "ref_id", Type: spec.RefType},
	}, pairRows); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, spec.InsertSQL())
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: %s: insert pairs", spec.Name)
	}
	res.Inserted = tag.RowsAffected()

	tag, err = tx.Exec(ctx, spec.DeleteSQL())
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: %s: delete pairs", spec.Name)
	}
	res.Deleted = tag.RowsAffected()
	return res, nil
}
