package status

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func day(s string) *time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestProject(t *testing.T) {
	today := time.Date(2025, 3, 15, 18, 30, 0, 0, time.UTC)
	tests := []struct {
		name      string
		applyType model.ApplyType
		start     *time.Time
		end       *time.Time
		want      model.PolicyStatus
	}{
		{"always open", model.ApplyAlwaysOpen, nil, nil, model.StatusOpen},
		{"always open ignores dates", model.ApplyAlwaysOpen, day("2020-01-01"), day("2020-01-02"), model.StatusOpen},
		{"closed", model.ApplyClosed, nil, nil, model.StatusClosed},
		{"periodic open", model.ApplyPeriodic, day("2025-03-01"), day("2025-03-31"), model.StatusOpen},
		{"periodic first day", model.ApplyPeriodic, day("2025-03-15"), day("2025-03-31"), model.StatusOpen},
		{"periodic last day", model.ApplyPeriodic, day("2025-03-01"), day("2025-03-15"), model.StatusOpen},
		{"periodic upcoming", model.ApplyPeriodic, day("2025-03-16"), day("2025-04-30"), model.StatusUpcoming},
		{"periodic ended", model.ApplyPeriodic, day("2025-02-01"), day("2025-03-14"), model.StatusClosed},
		{"periodic missing end", model.ApplyPeriodic, day("2025-03-01"), nil, model.StatusUnknown},
		{"periodic missing both", model.ApplyPeriodic, nil, nil, model.StatusUnknown},
		{"unknown", model.ApplyUnknown, day("2025-03-01"), day("2025-03-31"), model.StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Project(tt.applyType, tt.start, tt.end, today))
		})
	}
}

func TestProjector_Run(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE core.policy").WithArgs("2025-03-15").
		WillReturnResult(pgxmock.NewResult("UPDATE", 42))

	n, err := NewProjector(mock).Run(context.Background(), time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectSQL_OnlyCurrentRows(t *testing.T) {
	assert.Contains(t, projectSQL, "WHERE is_current")
	assert.Contains(t, projectSQL, "ELSE 'UNKNOWN'")
}
