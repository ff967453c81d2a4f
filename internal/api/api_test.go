package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/youthfin-elt/internal/model"
)

var today = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type memCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	sets   int
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, body []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = append([]byte(nil), body...)
	c.sets++
	return nil
}

func newTestServer(t *testing.T, opts Options) (http.Handler, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	opts.Now = func() time.Time { return today }
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	return NewRouter(mock, opts), mock
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	rec := get(h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListPolicies(t *testing.T) {
	h, mock := newTestServer(t, Options{})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM core.policy p WHERE p.is_current AND EXISTS (SELECT 1 FROM core.policy_region pr")).
		WithArgs([]int64{11, 12}, int64(25)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectQuery(`ORDER BY CASE WHEN p.status = 'CLOSED' THEN 1 ELSE 0 END`).
		WithArgs([]int64{11, 12}, int64(25), 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "apply_type", "apply_start", "apply_end", "title", "summary_raw", "category_large", "keywords"}).
			AddRow(int64(1), "OPEN", "PERIODIC", ptr(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)), ptr(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)),
				"청년 월세 지원", "월세 지원", "주거", []string{"월세", "주거지원"}).
			AddRow(int64(2), "OPEN", "ALWAYS_OPEN", (*time.Time)(nil), (*time.Time)(nil),
				"청년 도약", "저축", "", []string{}))

	rec := get(h, "/api/policy?regions=11,12&age=25")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	result := body["result"].(map[string]any)
	assert.Equal(t, map[string]any{"total_count": 2.0, "page_num": 1.0, "page_size": 10.0}, result["paging"])

	list := result["youthPolicyList"].([]any)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Equal(t, "마감 D-9", first["status"])
	assert.Equal(t, "2025-02-01 ~ 2025-03-10", first["period_apply"])
	assert.Equal(t, []any{"월세", "주거지원"}, first["keyword"])
	assert.Equal(t, "상시", list[1].(map[string]any)["status"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPolicies_BadInput(t *testing.T) {
	h, mock := newTestServer(t, Options{})

	for _, target := range []string{
		"/api/policy?age=abc",
		"/api/policy?regions=seoul",
		"/api/policy?marital_status=unknown",
		"/api/policy?sort_by=random",
		"/api/policy?page_num=0",
	} {
		rec := get(h, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPolicy_NotFound(t *testing.T) {
	h, mock := newTestServer(t, Options{})

	mock.ExpectQuery("FROM core.policy p").WithArgs(int64(42)).WillReturnError(pgx.ErrNoRows)
	assert.Equal(t, http.StatusNotFound, get(h, "/api/policy/42").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/api/policy/abc").Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListProducts(t *testing.T) {
	h, mock := newTestServer(t, Options{})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs([]int64{12}).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("psc.is_salary_linked")).
		WithArgs([]int64{12}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "product_type", "bank_id", "bank_name", "product_name", "join_member", "join_ways", "min", "max"}).
			AddRow(int64(7), "deposit", ptr(int64(3)), "우리은행", "WON플러스예금", "실명의 개인", []string{"인터넷", "스마트폰"}, 2.5, 3.1))

	rec := get(h, "/api/finproduct/list?periods=12&special_conditions=salary_linked&page_size=0")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode(t, rec)["result"].(map[string]any)
	assert.Equal(t, 1.0, result["paging"].(map[string]any)["page_size"])
	item := result["finProductList"].([]any)[0].(map[string]any)
	assert.Equal(t, []any{ChipNoVisit, ChipAnyone}, item["product_type_chip"])
	assert.Equal(t, 3.1, item["max_interest_rate"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListProducts_UnknownCondition(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	assert.Equal(t, http.StatusBadRequest, get(h, "/api/finproduct/list?special_conditions=lottery").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/api/finproduct/list?interest_rate_sort=worst").Code)
}

func TestListBanks(t *testing.T) {
	h, mock := newTestServer(t, Options{})

	mock.ExpectQuery("FROM master.bank").
		WithArgs([]string{GroupSavingsBank}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "top_fin_grp_no", "fin_co_no", "kor_co_nm", "nickname"}).
			AddRow(int64(1), GroupSavingsBank, "0010001", "OK저축은행", (*string)(nil)))

	rec := get(h, "/api/finproduct/filter/bank?type=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":1,"top_fin_grp_no":"030300","fin_co_no":"0010001","kor_co_nm":"OK저축은행","nickname":null}]`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, get(h, "/api/finproduct/filter/bank?type=9").Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMaster(t *testing.T) {
	h, mock := newTestServer(t, Options{})

	mock.ExpectQuery("FROM master.education").
		WillReturnRows(pgxmock.NewRows([]string{"id", "code", "name", "parent_id"}).
			AddRow(int64(1), ptr("0049001"), "고졸 미만", (*int64)(nil)))

	rec := get(h, "/api/master/education")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":[{"id":1,"code":"0049001","name":"고졸 미만"}]}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(h, "/api/master/planets").Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_HitSkipsDatabase(t *testing.T) {
	c := &memCache{}
	h, mock := newTestServer(t, Options{Cache: c, CacheTTL: time.Minute})

	mock.ExpectQuery("FROM master.keyword").
		WillReturnRows(pgxmock.NewRows([]string{"id", "code", "name", "parent_id"}).
			AddRow(int64(5), (*string)(nil), "월세", (*int64)(nil)))

	first := get(h, "/api/master/keyword")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, 1, c.sets)

	second := get(h, "/api/master/keyword")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_FailureIsBypassed(t *testing.T) {
	c := &memCache{getErr: errors.New("connection refused")}
	h, mock := newTestServer(t, Options{Cache: c, CacheTTL: time.Minute})

	mock.ExpectQuery("FROM master.major").
		WillReturnRows(pgxmock.NewRows([]string{"id", "code", "name", "parent_id"}))

	rec := get(h, "/api/master/major")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_ErrorsAreNotStored(t *testing.T) {
	c := &memCache{}
	h, _ := newTestServer(t, Options{Cache: c, CacheTTL: time.Minute})

	assert.Equal(t, http.StatusBadRequest, get(h, "/api/policy?age=x").Code)
	assert.Zero(t, c.sets)
}

func TestStatusLabel(t *testing.T) {
	end := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "마감 D-0", statusLabel(model.StatusOpen, model.ApplyPeriodic, &end, today))
	assert.Equal(t, "상시", statusLabel(model.StatusOpen, model.ApplyPeriodic, nil, today))
	assert.Equal(t, "마감", statusLabel(model.StatusClosed, model.ApplyPeriodic, &end, today))
	assert.Equal(t, "오픈예정", statusLabel(model.StatusUpcoming, model.ApplyPeriodic, &end, today))
	assert.Equal(t, "UNKNOWN", statusLabel(model.StatusUnknown, model.ApplyUnknown, nil, today))
}

func TestApplyPeriodLabel(t *testing.T) {
	start := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		applyType  model.ApplyType
		start, end *time.Time
		want       string
	}{
		{"always", model.ApplyAlwaysOpen, nil, nil, "상시"},
		{"closed", model.ApplyClosed, nil, nil, "마감"},
		{"unknown", model.ApplyUnknown, nil, nil, "미정"},
		{"both", model.ApplyPeriodic, &start, &end, "2025-01-02 ~ 2025-02-03"},
		{"start only", model.ApplyPeriodic, &start, nil, "2025-01-02 ~ 별도공지"},
		{"end only", model.ApplyPeriodic, nil, &end, "별도공지 ~ 2025-02-03"},
		{"neither", model.ApplyPeriodic, nil, nil, "별도공지"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, applyPeriodLabel(tt.applyType, tt.start, tt.end))
		})
	}
}

func TestProductChips(t *testing.T) {
	assert.Equal(t, []string{ChipNoVisit}, productChips([]string{"인터넷"}, "만 19~34세 청년"))
	assert.Equal(t, []string{ChipAnyone}, productChips([]string{"영업점", "인터넷"}, "제한 없음"))
	assert.Empty(t, productChips([]string{"영업점"}, "만 65세 이상"))
	assert.Equal(t, []string{ChipNoVisit}, productChips(nil, ""))
}

func TestFlagColumn(t *testing.T) {
	col, ok := flagColumn("salary_linked")
	assert.True(t, ok)
	assert.Equal(t, "is_salary_linked", col)

	col, ok = flagColumn("is_bank_app")
	assert.True(t, ok)
	assert.Equal(t, "is_bank_app", col)

	_, ok = flagColumn("drop table")
	assert.False(t, ok)
}
