package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into a table (optionally schema-qualified)
// using the PostgreSQL COPY protocol.
func CopyFrom(ctx context.Context, q Querier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := q.CopyFrom(ctx, Ident(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// TempColumn declares one column of a temp table.
type TempColumn struct {
	Name string
	Type string
}

// LoadTemp creates a transaction-scoped temp table and COPYs rows into it.
// q must be a transaction; the table is dropped on commit.
func LoadTemp(ctx context.Context, q Querier, name string, cols []TempColumn, rows [][]any) (int64, error) {
	if len(cols) == 0 {
		return 0, eris.Errorf("db: temp %s: no columns specified", name)
	}

	names := make([]string, len(cols))
	defs := ""
	for i, c := range cols {
		names[i] = c.Name
		if i > 0 {
			defs += ", "
		}
		defs += fmt.Sprintf("%s %s", pgx.Identifier{c.Name}.Sanitize(), c.Type)
	}

	ddl := fmt.Sprintf("CREATE TEMP TABLE %s (%s) ON COMMIT DROP", pgx.Identifier{name}.Sanitize(), defs)
	if _, err := q.Exec(ctx, ddl); err != nil {
		return 0, eris.Wrapf(err, "db: create temp %s", name)
	}

	return CopyFrom(ctx, q, name, names, rows)
}
