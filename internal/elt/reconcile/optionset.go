package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/youthfin-elt/internal/db"
)

// liveOptionLines renders each live option's key and rate fields in the
// digest line format. Rates use a fixed scale so 3.1 and 3.10 agree.
const liveOptionLines = `
SELECT product_id,
       COALESCE(save_trm, -1)::text,
       COALESCE(intr_rate_type, ''),
       COALESCE(rsrv_type, ''),
       COALESCE(TO_CHAR(intr_rate, 'FM999999999.00000'), ''),
       COALESCE(TO_CHAR(intr_rate2, 'FM999999999.00000'), '')
  FROM core.product_option
 WHERE is_current AND product_id = ANY($1)`

const applyOptionSets = `
UPDATE core.product p
   SET options_set_hash = s.options_set_hash,
       options_count    = s.options_count
  FROM tmp_option_sets s
 WHERE p.id = s.product_id`

// OptionLine is one live option in digest form.
type OptionLine struct {
	SaveTrm      string
	IntrRateType string
	RsrvType     string
	IntrRate     string
	IntrRate2    string
}

func (l OptionLine) String() string {
	return strings.Join([]string{l.SaveTrm, l.IntrRateType, l.RsrvType, l.IntrRate, l.IntrRate2}, "|")
}

// OptionSetDigest hashes a product's live options independent of their
// order. An empty set has no digest.
func OptionSetDigest(lines []OptionLine) string {
	if len(lines) == 0 {
		return ""
	}
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.String()
	}
	slices.Sort(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, ";")))
	return hex.EncodeToString(sum[:])
}

// RecomputeOptionSets refreshes options_count and options_set_hash for
// productIDs. Products without live options get a NULL hash and count 0.
func RecomputeOptionSets(ctx context.Context, tx db.Querier, productIDs []int64) (int64, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}

	rows, err := tx.Query(ctx, liveOptionLines, productIDs)
	if err != nil {
		return 0, eris.Wrap(err, "reconcile: load live options")
	}
	lines := make(map[int64][]OptionLine, len(productIDs))
	for rows.Next() {
		var id int64
		var l OptionLine
		if err := rows.Scan(&id, &l.SaveTrm, &l.IntrRateType, &l.RsrvType, &l.IntrRate, &l.IntrRate2); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "reconcile: scan live option")
		}
		lines[id] = append(lines[id], l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "reconcile: iterate live options")
	}

	data := make([][]any, 0, len(productIDs))
	for _, id := range productIDs {
		set := lines[id]
		var hash any
		if d := OptionSetDigest(set); d != "" {
			hash = d
		}
		data = append(data, []any{id, hash, len(set)})
	}

	if _, err := db.LoadTemp(ctx, tx, "tmp_option_sets", []db.TempColumn{
		{Name: "product_id", Type: "bigint"},
		{Name: "options_set_hash", Type: "text"},
		{Name: "options_count", Type: "int"},
	}, data); err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, applyOptionSets)
	if err != nil {
		return 0, eris.Wrap(err, "reconcile: apply option sets")
	}
	return tag.RowsAffected(), nil
}
