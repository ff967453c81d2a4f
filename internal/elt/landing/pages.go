package landing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/youthfin-elt/internal/db"
)

// Sources recorded in stg.landed_pages.
const (
	sourcePolicy  = "youthpolicy"
	sourceFinance = "finproduct"
)

const markLandedSQL = `
INSERT INTO stg.landed_pages (source, ingest_id, items, inserted)
VALUES ($1, $2, $3, $4)
ON CONFLICT (source, ingest_id) DO NOTHING`

type rawPage struct {
	IngestID   uuid.UUID
	PageNo     int
	ObservedAt time.Time
	Payload    []byte
}

// loadPages reads unlanded raw pages. The query must select ingest_id,
// page number, ingested_at and payload in that order.
func loadPages(ctx context.Context, q db.Querier, sql string, args ...any) ([]rawPage, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "landing: query raw pages")
	}
	defer rows.Close()

	var pages []rawPage
	for rows.Next() {
		var p rawPage
		if err := rows.Scan(&p.IngestID, &p.PageNo, &p.ObservedAt, &p.Payload); err != nil {
			return nil, eris.Wrap(err, "landing: scan raw page")
		}
		pages = append(pages, p)
	}
	return pages, eris.Wrap(rows.Err(), "landing: iterate raw pages")
}

// markLanded records that a raw page was processed so later runs skip it,
// including pages whose items all deduplicated.
func markLanded(ctx context.Context, q db.Querier, source string, page rawPage, items int, inserted int64) error {
	if _, err := q.Exec(ctx, markLandedSQL, source, page.IngestID, items, inserted); err != nil {
		return eris.Wrapf(err, "landing: mark page %s landed", page.IngestID)
	}
	return nil
}
