// Package status derives the user-facing application status of current
// policies.
package status

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/db"
	"github.com/sells-group/youthfin-elt/internal/model"
)

// Project returns the status of a policy on today. Only PERIODIC policies
// with both bounds look at dates; bounds are inclusive.
func Project(applyType model.ApplyType, start, end *time.Time, today time.Time) model.PolicyStatus {
	switch applyType {
	case model.ApplyAlwaysOpen:
		return model.StatusOpen
	case model.ApplyClosed:
		return model.StatusClosed
	case model.ApplyPeriodic:
		if start == nil || end == nil {
			return model.StatusUnknown
		}
		d := dateOf(today)
		switch {
		case d.Before(dateOf(*start)):
			return model.StatusUpcoming
		case d.After(dateOf(*end)):
			return model.StatusClosed
		default:
			return model.StatusOpen
		}
	default:
		return model.StatusUnknown
	}
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// projectSQL is Project over every current policy.
const projectSQL = `
UPDATE core.policy
   SET status = CASE
         WHEN apply_type = 'ALWAYS_OPEN' THEN 'OPEN'
         WHEN apply_type = 'CLOSED' THEN 'CLOSED'
         WHEN apply_type = 'PERIODIC' AND apply_start IS NOT NULL AND apply_end IS NOT NULL THEN
              CASE
                WHEN $1::date < apply_start THEN 'UPCOMING'
                WHEN $1::date > apply_end THEN 'CLOSED'
                ELSE 'OPEN'
              END
         ELSE 'UNKNOWN'
       END
 WHERE is_current`

// Projector applies Project in bulk.
type Projector struct {
	pool db.Pool
}

// NewProjector creates a projector.
func NewProjector(pool db.Pool) *Projector {
	return &Projector{pool: pool}
}

// Run sets the status of every current policy as of today and returns the
// number of rows written.
func (p *Projector) Run(ctx context.Context, today time.Time) (int64, error) {
	day := today.Format(time.DateOnly)
	tag, err := p.pool.Exec(ctx, projectSQL, day)
	if err != nil {
		return 0, eris.Wrap(err, "status: project")
	}
	zap.L().Info("policy status projected", zap.String("date", day), zap.Int64("rows", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}
