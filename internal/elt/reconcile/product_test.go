package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/youthfin-elt/internal/metrics"
	"github.com/sells-group/youthfin-elt/internal/model"
)

func expectAssoc(mock pgxmock.PgxPoolIface, spec AssocSpec, pairs int64, inserted, deleted int64) {
	mock.ExpectExec(q(`CREATE TEMP TABLE "tmp_` + spec.Name + `_ids"`)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"tmp_" + spec.Name + "_ids"}, []string{"owner_id"}).WillReturnResult(1)
	mock.ExpectExec(q(`CREATE TEMP TABLE "tmp_` + spec.Name + `_pairs"`)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	if pairs > 0 {
		mock.ExpectCopyFrom(pgx.Identifier{"tmp_" + spec.Name + "_pairs"}, []string{"owner_id", "ref_id"}).WillReturnResult(pairs)
	}
	mock.ExpectExec(q(spec.InsertSQL())).WillReturnResult(pgxmock.NewResult("INSERT", inserted))
	mock.ExpectExec(q(spec.DeleteSQL())).WillReturnResult(pgxmock.NewResult("DELETE", deleted))
}

func TestProductReconcile_FullPartition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	pt := model.ProductDeposit
	mock.ExpectBegin()
	// product 10 changed (closed, reopened as 11); product 12 unchanged
	expectGroup(mock, productGroup(pt, wholePartition), 2, []int64{10}, []int64{11}, []int64{12})
	mock.ExpectExec("UPDATE core.product_option").WithArgs([]int64{10}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	expectGroup(mock, optionGroup(pt, wholePartition), 4, nil, []int64{100, 101, 102}, []int64{103})
	mock.ExpectQuery("FROM core.product_option").WithArgs([]int64{11, 12}).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "save_trm", "intr_rate_type", "rsrv_type", "intr_rate", "intr_rate2"}).
			AddRow(int64(11), "12", "S", "", "3.10000", "3.50000").
			AddRow(int64(12), "6", "S", "", "2.90000", "3.00000"))
	mock.ExpectExec(`CREATE TEMP TABLE "tmp_option_sets"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"tmp_option_sets"}, []string{"product_id", "options_set_hash", "options_count"}).WillReturnResult(2)
	mock.ExpectExec("UPDATE core.product p").WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectQuery("SELECT id, COALESCE\\(join_way").WithArgs([]int64{11, 12}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "join_way"}).
			AddRow(int64(11), "영업점, 인터넷,스마트폰").
			AddRow(int64(12), ""))
	expectAssoc(mock, JoinWaySpec, 3, 3, 1)
	mock.ExpectCommit()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	res, err := NewProductReconciler(mock, m).Reconcile(context.Background(), pt)
	require.NoError(t, err)

	assert.Equal(t, Counts{Candidates: 2, Closed: 1, Inserted: 1, Touched: 1}, res.Products)
	assert.Equal(t, int64(3), res.CascadeClosed)
	assert.Equal(t, int64(3), res.Options.Inserted)
	assert.Equal(t, int64(2), res.OptionSets)
	assert.Equal(t, AssocResult{Inserted: 3, Deleted: 1}, res.JoinWay)
	assert.Equal(t, []int64{11, 12}, res.CurrentIDs)
	assert.InDelta(t, 3, testutil.ToFloat64(m.ReconcileRows.WithLabelValues("option", "closed")), 0)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductReconcile_UniqueViolationRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	g := productGroup(model.ProductSaving, wholePartition)
	mock.ExpectBegin()
	mock.ExpectExec(q(g.CandidatesSQL())).WithArgs(g.Args...).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(q(g.CloseSQL())).WillReturnRows(idRows())
	mock.ExpectQuery(q(g.InsertSQL())).WillReturnError(&pgconn.PgError{
		Code:           "23505",
		Message:        `duplicate key value violates unique constraint "uq_product_current"`,
		ConstraintName: "uq_product_current",
	})
	mock.ExpectRollback()

	res, err := NewProductReconciler(mock, nil).Reconcile(context.Background(), model.ProductSaving)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsInvariantViolation(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductReconcile_BucketsCommitSeparately(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	pt := model.ProductDeposit
	first, second := bucket{index: 0, of: 2}, bucket{index: 1, of: 2}

	mock.ExpectBegin()
	expectGroup(mock, productGroup(pt, first), 1, nil, []int64{21}, nil)
	expectGroup(mock, optionGroup(pt, first), 0, nil, nil, nil)
	mock.ExpectQuery("FROM core.product_option").WithArgs([]int64{21}).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "save_trm", "intr_rate_type", "rsrv_type", "intr_rate", "intr_rate2"}))
	mock.ExpectExec(`CREATE TEMP TABLE "tmp_option_sets"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"tmp_option_sets"}, []string{"product_id", "options_set_hash", "options_count"}).WillReturnResult(1)
	mock.ExpectExec("UPDATE core.product p").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT id, COALESCE\\(join_way").WithArgs([]int64{21}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "join_way"}).AddRow(int64(21), "인터넷"))
	expectAssoc(mock, JoinWaySpec, 1, 1, 0)
	mock.ExpectCommit()

	mock.ExpectBegin()
	expectGroup(mock, productGroup(pt, second), 0, nil, nil, nil)
	expectGroup(mock, optionGroup(pt, second), 0, nil, nil, nil)
	mock.ExpectCommit()

	res, err := NewProductReconciler(mock, nil).WithBuckets(2).Reconcile(context.Background(), pt)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Buckets)
	assert.Equal(t, int64(1), res.Products.Inserted)
	assert.Equal(t, []int64{21}, res.CurrentIDs)
	assert.Equal(t, AssocResult{Inserted: 1}, res.JoinWay)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductReconcile_FailedBucketKeepsEarlierOnes(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	pt := model.ProductSaving
	first, second := bucket{index: 0, of: 2}, bucket{index: 1, of: 2}

	mock.ExpectBegin()
	expectGroup(mock, productGroup(pt, first), 0, nil, nil, nil)
	expectGroup(mock, optionGroup(pt, first), 0, nil, nil, nil)
	mock.ExpectCommit()

	g := productGroup(pt, second)
	mock.ExpectBegin()
	mock.ExpectExec(q(g.CandidatesSQL())).WithArgs(g.Args...).WillReturnError(errors.New("canceling statement due to user request"))
	mock.ExpectRollback()

	res, err := NewProductReconciler(mock, nil).WithBuckets(2).Reconcile(context.Background(), pt)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "bucket 1/2")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsInvariantViolation(t *testing.T) {
	assert.False(t, IsInvariantViolation(nil))
	assert.False(t, IsInvariantViolation(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsInvariantViolation(&pgconn.PgError{Code: "23505"}))
}
