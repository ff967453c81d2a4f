package landing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var pageCols = []string{"ingest_id", "page_no", "ingested_at", "payload"}

var observedAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestPolicyLanding_InsertsAndDropsKeyless(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	payload := `{"result":{"youthPolicyList":[{"plcyNo":"A","inqCnt":3},{"plcyNo":"A","inqCnt":4},{"plcyNm":"no key"},{"plcyNo":"B"}]}}`
	mock.ExpectQuery("FROM raw.youthpolicy_pages").
		WillReturnRows(pgxmock.NewRows(pageCols).AddRow(id, 1, observedAt, []byte(payload)))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_stg_youthpolicy_landing"}, policyLandingUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("policy_id", "record_hash"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("UPDATE stg.youthpolicy_landing").
		WithArgs([]string{"A", "B"}, pgxmock.AnyArg(), observedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("INSERT INTO stg.landed_pages").
		WithArgs(sourcePolicy, id, 4, int64(2)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := NewPolicyLanding(mock).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, 4, res.Items)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, int64(2), res.Inserted)
	assert.Zero(t, res.Observed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyLanding_NothingToLand(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM raw.youthpolicy_pages").WillReturnRows(pgxmock.NewRows(pageCols))

	res, err := NewPolicyLanding(mock).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Pages)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyLanding_UnchangedItemIsObservedAndPageMarked(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	payload := `{"result":{"youthPolicyList":[{"plcyNo":"A"}]}}`
	mock.ExpectQuery("FROM raw.youthpolicy_pages").
		WillReturnRows(pgxmock.NewRows(pageCols).AddRow(id, 2, observedAt, []byte(payload)))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_stg_youthpolicy_landing"}, policyLandingUpsert.Columns).WillReturnResult(1)
	mock.ExpectExec("DO NOTHING").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("SET last_seen_at = \\$3").
		WithArgs([]string{"A"}, pgxmock.AnyArg(), observedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO stg.landed_pages").
		WithArgs(sourcePolicy, id, 1, int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := NewPolicyLanding(mock).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Equal(t, int64(1), res.Observed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyLanding_UndecodablePageMarked(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM raw.youthpolicy_pages").
		WillReturnRows(pgxmock.NewRows(pageCols).AddRow(id, 1, observedAt, []byte(`[]`)))
	mock.ExpectExec("INSERT INTO stg.landed_pages").
		WithArgs(sourcePolicy, id, 0, int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	res, err := NewPolicyLanding(mock).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.Zero(t, res.Items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlandedQueriesSkipMarkedPages(t *testing.T) {
	assert.Contains(t, unlandedPolicyPages, "m.source = 'youthpolicy' AND m.ingest_id = p.ingest_id")
	assert.Contains(t, unlandedFinancePages, "m.source = 'finproduct' AND m.ingest_id = p.ingest_id")
	assert.NotContains(t, unlandedPolicyPages, "stg.youthpolicy_landing")
	assert.NotContains(t, unlandedFinancePages, "finproduct_base_landing")
}

func TestFinanceLanding_BaseAndOptionsTogether(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	payload := `{"result":{"max_page_no":"1",
		"baseList":[{"fin_prdt_cd":"P1","dcls_month":"202501"}],
		"optionList":[{"fin_prdt_cd":"P1","save_trm":"12","intr_rate":3.1},{"fin_prdt_cd":"P1","save_trm":"24","intr_rate":3.3},{"save_trm":"6"}]}}`
	id := uuid.New()
	mock.ExpectQuery("FROM raw.finproduct_pages").
		WithArgs("DEPOSIT").
		WillReturnRows(pgxmock.NewRows(pageCols).AddRow(id, 1, observedAt, []byte(payload)))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_stg_finproduct_base_landing"}, financeColumns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "stg"."finproduct_base_landing"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_stg_finproduct_option_landing"}, financeColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "stg"."finproduct_option_landing"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("INSERT INTO stg.landed_pages").
		WithArgs(sourceFinance, id, 4, int64(3)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := NewFinanceLanding(mock).Run(context.Background(), model.ProductDeposit)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Bases)
	assert.Equal(t, 3, res.Options)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, int64(1), res.InsertedBases)
	assert.Equal(t, int64(2), res.InsertedOptions)
	require.NoError(t, mock.ExpectationsWereMet())
}
