package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// MasterItem is one reference-table row. Code and ParentID are set only for
// the kinds that carry them.
type MasterItem struct {
	ID       int64   `json:"id"`
	Code     *string `json:"code,omitempty"`
	Name     string  `json:"name"`
	ParentID *int64  `json:"parent_id,omitempty"`
}

var masterQueries = map[string]string{
	"category":       `SELECT id, NULL::text, name, parent_id FROM master.category ORDER BY id`,
	"region":         `SELECT id, zip_code, name, parent_id FROM master.region ORDER BY id`,
	"keyword":        `SELECT id, NULL::text, name, NULL::bigint FROM master.keyword WHERE is_active ORDER BY id`,
	"education":      `SELECT id, code, name, NULL::bigint FROM master.education WHERE is_active ORDER BY id`,
	"major":          `SELECT id, code, name, NULL::bigint FROM master.major WHERE is_active ORDER BY id`,
	"job_status":     `SELECT id, code, name, NULL::bigint FROM master.job_status WHERE is_active ORDER BY id`,
	"specialization": `SELECT id, code, name, NULL::bigint FROM master.specialization WHERE is_active ORDER BY id`,
}

func (s *Server) listMaster(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	query, ok := masterQueries[kind]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown master kind "+kind)
		return
	}

	rows, err := s.q.Query(r.Context(), query)
	if err != nil {
		fail(w, r, eris.Wrapf(err, "list master %s", kind))
		return
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MasterItem, error) {
		var m MasterItem
		err := row.Scan(&m.ID, &m.Code, &m.Name, &m.ParentID)
		return m, err
	})
	if err != nil {
		fail(w, r, eris.Wrapf(err, "scan master %s", kind))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": items})
}
