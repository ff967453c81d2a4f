package current

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRefresh(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT count").WithArgs(7).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectExec("INSERT INTO stg.youthpolicy_current").WithArgs(7).
		WillReturnResult(pgxmock.NewResult("INSERT", 10))

	res, err := NewReducer(mock, 7).Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Upserted)
	assert.Equal(t, int64(2), res.Changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefresh_SQLShape(t *testing.T) {
	assert.Contains(t, refreshSQL, "ORDER BY policy_id, last_seen_at DESC, ingested_at DESC, record_hash DESC")
	assert.Contains(t, refreshSQL, "ON CONFLICT (policy_id) DO UPDATE")
	assert.Contains(t, refreshSQL, "is_active     = TRUE")
	assert.NotContains(t, sweepSQL, "core.")
}

func TestRefresh_LastSeenFollowsObservation(t *testing.T) {
	// An unchanged policy keeps its first ingested_at but gains a newer
	// last_seen_at each time a raw page repeats it.
	assert.Contains(t, refreshSQL, "MAX(last_seen_at) AS last_seen_at")
	assert.Contains(t, refreshSQL, "last_seen_at >= now() - make_interval(days => $1::int)")
	assert.Contains(t, changedSQL, "last_seen_at >= now() - make_interval(days => $1::int)")
	assert.Contains(t, refreshSQL, "MIN(l.ingested_at) AS first_seen_at")
}

func TestRefresh_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT count").WithArgs(0).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectExec("INSERT INTO stg.youthpolicy_current").WithArgs(0).
		WillReturnError(errors.New("deadlock detected"))

	_, err = NewReducer(mock, 0).Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "current: refresh")
}

func TestSweep(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE stg.youthpolicy_current").WithArgs(14).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := NewReducer(mock, 0).Sweep(context.Background(), 14)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweep_Disabled(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n, err := NewReducer(mock, 0).Sweep(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
