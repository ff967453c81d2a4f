package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/youthfin-elt/internal/model"
)

const samplePolicy = `{
  "plcyNo": "20250101005400210001",
  "plcyNm": "청년 월세 지원",
  "plcyCn": "월세 부담 완화",
  "plcySprtCn": "월 20만원",
  "aplyPrdSeCd": "0057001",
  "aplyYmd": "20250301 ~ 20250331",
  "bizPrdSeCd": "0056002",
  "bizPrdBgngYmd": "",
  "bizPrdEndYmd": "20251231",
  "bizPrdEtcCn": "-",
  "lastMdfcnDt": "2025-02-10 13:45:00",
  "frstRegDt": "bad",
  "inqCnt": 1234,
  "sprvsnInstCdNm": "국토교통부",
  "operInstCdNm": "",
  "aplyUrlAddr": "https://example.go.kr/apply",
  "srngMthdCn": " 서류 심사 ",
  "sbmsnDcmntCn": "-",
  "mrgSttsCd": "0055003",
  "sprtTrgtMinAge": "19",
  "sprtTrgtMaxAge": "34",
  "earnCndSeCd": "0043002",
  "earnMinAmt": "0",
  "earnMaxAmt": "x",
  "schoolCd": "0049010",
  "plcyMajorCd": "0011001,0011002",
  "jobCd": "0013001",
  "sbizCd": "0014010",
  "mclsfNm": "주거,금융",
  "plcyKywdNm": "청년, ,주거",
  "zipCd": "11110,11140"
}`

func TestNormalizePolicy(t *testing.T) {
	doc, err := DecodePolicy([]byte(samplePolicy))
	require.NoError(t, err)
	p, err := NormalizePolicy(doc)
	require.NoError(t, err)

	assert.Equal(t, "20250101005400210001", p.ExtID)
	assert.Equal(t, "청년 월세 지원", p.Title)
	assert.Equal(t, model.ApplyPeriodic, p.ApplyType)
	require.NotNil(t, p.ApplyStart)
	require.NotNil(t, p.ApplyEnd)
	assert.Equal(t, "2025-03-01", p.ApplyStart.Format(time.DateOnly))
	assert.Equal(t, "2025-03-31", p.ApplyEnd.Format(time.DateOnly))

	assert.Equal(t, "ETC", p.PeriodType)
	assert.Nil(t, p.PeriodStart)
	require.NotNil(t, p.PeriodEnd)
	assert.Nil(t, p.PeriodEtc)

	require.NotNil(t, p.LastExternalModified)
	assert.Equal(t, time.Date(2025, 2, 10, 4, 45, 0, 0, time.UTC), p.LastExternalModified.UTC())
	assert.Nil(t, p.FirstExternalCreated)
	require.NotNil(t, p.Views)
	assert.Equal(t, 1234, *p.Views)

	require.NotNil(t, p.SupervisingOrg)
	assert.Nil(t, p.OperatingOrg)
	require.NotNil(t, p.Announcement)
	assert.Equal(t, "서류 심사", *p.Announcement)
	assert.Nil(t, p.RequiredDocuments)

	e := p.Eligibility
	assert.Equal(t, "ANY", e.MaritalStatus)
	assert.Equal(t, "RANGE", e.IncomeType)
	assert.Equal(t, 19, *e.AgeMin)
	assert.Equal(t, 34, *e.AgeMax)
	assert.Equal(t, 0, *e.IncomeMin)
	assert.Nil(t, e.IncomeMax)
	assert.False(t, e.RestrictEducation)
	assert.True(t, e.RestrictMajor)
	assert.True(t, e.RestrictJobStatus)
	assert.False(t, e.RestrictSpecialization)

	assert.Equal(t, []string{"주거", "금융"}, p.Tags[TagCategory])
	assert.Equal(t, []string{"청년", "주거"}, p.Tags[TagKeyword])
	assert.Equal(t, []string{"0011001", "0011002"}, p.Tags[TagMajor])
	assert.Equal(t, []string{"11110", "11140"}, p.Tags[TagRegion])
}

func TestNormalizePolicy_UnknownCodes(t *testing.T) {
	p, err := NormalizePolicy(map[string]any{"plcyNo": "X", "aplyPrdSeCd": "9999", "aplyYmd": "20250101"})
	require.NoError(t, err)
	assert.Equal(t, model.ApplyUnknown, p.ApplyType)
	assert.Equal(t, "UNKNOWN", p.PeriodType)
	assert.Equal(t, "UNKNOWN", p.Eligibility.MaritalStatus)
	assert.Equal(t, "UNKNOWN", p.Eligibility.IncomeType)
	assert.Nil(t, p.ApplyStart)
	assert.Nil(t, p.Views)
	assert.True(t, p.Eligibility.RestrictEducation)
	assert.Empty(t, p.Tags[TagRegion])
}

func TestNormalizePolicy_MissingID(t *testing.T) {
	_, err := NormalizePolicy(map[string]any{"plcyNm": "x"})
	require.Error(t, err)
}

func TestParseApplyRange(t *testing.T) {
	s, e := parseApplyRange("20250101~20250131")
	require.NotNil(t, s)
	require.NotNil(t, e)
	s, e = parseApplyRange("20250101 ~ bad")
	assert.Nil(t, s)
	assert.Nil(t, e)
}

func TestSplitTags_Array(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitTags([]any{"a", "", " b "}))
	assert.Nil(t, splitTags(nil))
}

func TestDecodePolicy_Errors(t *testing.T) {
	_, err := DecodePolicy([]byte("null"))
	require.Error(t, err)
	_, err = DecodePolicy([]byte("{"))
	require.Error(t, err)
}
