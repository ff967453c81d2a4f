package elt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/youthfin-elt/internal/db"
	"github.com/sells-group/youthfin-elt/internal/model"
)

// RunEntry is a row of elt.run_log.
type RunEntry struct {
	ID          int64             `json:"id"`
	Pipeline    string            `json:"pipeline"`
	Stage       string            `json:"stage"`
	Partition   string            `json:"partition,omitempty"`
	Status      model.StageStatus `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Rows        int64             `json:"rows"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// RunLog reads and writes elt.run_log.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a RunLog backed by pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start records the beginning of a stage run and returns its id.
func (r *RunLog) Start(ctx context.Context, pipeline, stage, partition string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO elt.run_log (pipeline, stage, partition, status, started_at)
		 VALUES ($1, $2, $3, $4, now()) RETURNING id`,
		pipeline, stage, partition, string(model.StageRunning),
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start %s/%s", pipeline, stage)
	}
	return id, nil
}

// Complete marks a run successful.
func (r *RunLog) Complete(ctx context.Context, id int64, rows int64, metadata map[string]any) error {
	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE elt.run_log
		 SET status = $4, completed_at = now(), rows = $1, metadata = $2
		 WHERE id = $3`,
		rows, metaJSON, id, string(model.StageComplete),
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", id)
	}
	return nil
}

// Fail marks a run failed.
func (r *RunLog) Fail(ctx context.Context, id int64, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE elt.run_log
		 SET status = $3, completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, id, string(model.StageFailed),
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", id)
	}
	return nil
}

// LastSuccess returns the start time of the latest complete run of a stage,
// or nil when it never succeeded.
func (r *RunLog) LastSuccess(ctx context.Context, pipeline, stage string) (*time.Time, error) {
	var t time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT started_at FROM elt.run_log
		 WHERE pipeline = $1 AND stage = $2 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		pipeline, stage,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: last success for %s/%s", pipeline, stage)
	}
	return &t, nil
}

// Recent returns the newest limit entries, most recent first.
func (r *RunLog) Recent(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, pipeline, stage, partition, status, started_at, completed_at, rows, error, metadata
		 FROM elt.run_log ORDER BY started_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list recent")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var e RunEntry
		var status string
		var errStr *string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Pipeline, &e.Stage, &e.Partition, &status,
			&e.StartedAt, &e.CompletedAt, &e.Rows, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		e.Status = model.StageStatus(status)
		if errStr != nil {
			e.Error = *errStr
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
