package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/elt"
	"github.com/sells-group/youthfin-elt/internal/metrics"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func policyRegistry(order *[]string, failAt string) (*Registry, map[string]*mockStage) {
	r := NewRegistry(PipelinePolicy)
	stages := map[string]*mockStage{}
	for _, n := range []string{"raw", "landing", "current", "core", "status"} {
		s := &mockStage{name: n, rows: 1, order: order}
		if n == failAt {
			s.err = errors.New("duplicate key value violates unique constraint")
		}
		stages[n] = s
		r.Register(s)
	}
	return r, stages
}

func expectStart(mock pgxmock.PgxPoolIface, stage string, id int64) {
	mock.ExpectQuery("INSERT INTO elt.run_log").
		WithArgs(PipelinePolicy, stage, "", "running").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id))
}

func expectComplete(mock pgxmock.PgxPoolIface, id int64) {
	mock.ExpectExec("UPDATE elt.run_log").
		WithArgs(int64(1), pgxmock.AnyArg(), id, "complete").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func TestOrchestrator_RunsInPlanOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var order []string
	reg, _ := policyRegistry(&order, "")
	plan, err := LoadPlan("")
	require.NoError(t, err)

	for i, n := range []string{"raw", "landing", "current", "core", "status"} {
		expectStart(mock, n, int64(i+1))
		expectComplete(mock, int64(i+1))
	}

	o := NewOrchestrator(plan, elt.NewRunLog(mock), nil, reg)
	require.NoError(t, o.Run(context.Background(), PipelinePolicy, RunOpts{}))
	assert.Equal(t, []string{"raw", "landing", "current", "core", "status"}, order)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_FailFast(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var order []string
	reg, stages := policyRegistry(&order, "current")
	plan, err := LoadPlan("")
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())

	expectStart(mock, "raw", 1)
	expectComplete(mock, 1)
	expectStart(mock, "landing", 2)
	expectComplete(mock, 2)
	expectStart(mock, "current", 3)
	mock.ExpectExec("UPDATE elt.run_log").
		WithArgs("duplicate key value violates unique constraint", int64(3), "failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	o := NewOrchestrator(plan, elt.NewRunLog(mock), m, reg)
	err = o.Run(context.Background(), PipelinePolicy, RunOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy/current")

	assert.Equal(t, []string{"raw", "landing", "current"}, order)
	assert.Equal(t, 0, stages["core"].ran)
	assert.Equal(t, 0, stages["status"].ran)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.StageRuns.WithLabelValues(PipelinePolicy, "current", "failed")), 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_FromStage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var order []string
	reg, _ := policyRegistry(&order, "")
	plan, err := LoadPlan("")
	require.NoError(t, err)

	expectStart(mock, "core", 1)
	expectComplete(mock, 1)
	expectStart(mock, "status", 2)
	expectComplete(mock, 2)

	o := NewOrchestrator(plan, elt.NewRunLog(mock), nil, reg)
	require.NoError(t, o.Run(context.Background(), PipelinePolicy, RunOpts{From: "core"}))
	assert.Equal(t, []string{"core", "status"}, order)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_RunStage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var order []string
	reg, _ := policyRegistry(&order, "")
	plan, err := LoadPlan("")
	require.NoError(t, err)

	expectStart(mock, "status", 9)
	expectComplete(mock, 9)

	o := NewOrchestrator(plan, elt.NewRunLog(mock), nil, reg)
	require.NoError(t, o.RunStage(context.Background(), PipelinePolicy, "status"))
	assert.Equal(t, []string{"status"}, order)

	assert.Error(t, o.RunStage(context.Background(), PipelinePolicy, "nope"))
	assert.Error(t, o.RunStage(context.Background(), "nope", "raw"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrchestrator_UnknownPipeline(t *testing.T) {
	plan, err := LoadPlan("")
	require.NoError(t, err)
	o := NewOrchestrator(plan, nil, nil)
	assert.Error(t, o.Run(context.Background(), PipelineFinance, RunOpts{}))
}

func TestOrchestrator_StartLogError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var order []string
	reg, _ := policyRegistry(&order, "")
	plan, err := LoadPlan("")
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO elt.run_log").WillReturnError(errors.New("db down"))

	o := NewOrchestrator(plan, elt.NewRunLog(mock), nil, reg)
	err = o.Run(context.Background(), PipelinePolicy, RunOpts{})
	require.Error(t, err)
	assert.Empty(t, order)
}
