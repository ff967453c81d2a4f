package reconcile

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/youthfin-elt/internal/fetcher"
	"github.com/sells-group/youthfin-elt/internal/model"
)

var kst = time.FixedZone("KST", 9*60*60)

const (
	ymdLayout         = "20060102"
	modifiedLayout    = "2006-01-02 15:04:05"
	anyEducation      = "0049010"
	anyMajor          = "0011009"
	anyJobStatus      = "0013010"
	anySpecialization = "0014010"
)

var (
	applyTypes = map[string]model.ApplyType{
		"0057001": model.ApplyPeriodic,
		"0057002": model.ApplyAlwaysOpen,
		"0057003": model.ApplyClosed,
	}
	periodTypes = map[string]string{
		"0056001": "PERIODIC",
		"0056002": "ETC",
	}
	maritalStatuses = map[string]string{
		"0055001": "MARRIED",
		"0055002": "SINGLE",
		"0055003": "ANY",
	}
	incomeTypes = map[string]string{
		"0043001": "ANY",
		"0043002": "RANGE",
		"0043003": "TEXT",
	}
)

// NormalizedPolicy is one youth policy projected onto CORE columns.
type NormalizedPolicy struct {
	ExtID       string
	Payload     []byte
	ContentHash string
	ObservedAt  time.Time

	Title                string
	SummaryRaw           string
	DescriptionRaw       string
	ApplyType            model.ApplyType
	ApplyStart           *time.Time
	ApplyEnd             *time.Time
	PeriodType           string
	PeriodStart          *time.Time
	PeriodEnd            *time.Time
	PeriodEtc            *string
	LastExternalModified *time.Time
	FirstExternalCreated *time.Time
	Views                *int
	SupervisingOrg       *string
	OperatingOrg         *string
	ApplyURL             *string
	RefURL1              *string
	RefURL2              *string
	Announcement         *string
	InfoEtc              *string
	RequiredDocuments    *string
	ApplicationProcess   *string

	Eligibility Eligibility
	Tags        map[TagKind][]string
}

// Eligibility is the policy_eligibility row of a policy.
type Eligibility struct {
	MaritalStatus          string
	AgeMin                 *int
	AgeMax                 *int
	IncomeType             string
	IncomeMin              *int
	IncomeMax              *int
	IncomeText             *string
	Additional             *string
	Restrictive            *string
	RestrictEducation      bool
	RestrictMajor          bool
	RestrictJobStatus      bool
	RestrictSpecialization bool
}

// tagFields maps each tag kind to its comma-separated source field.
var tagFields = map[TagKind]string{
	TagCategory:       "mclsfNm",
	TagEducation:      "schoolCd",
	TagJobStatus:      "jobCd",
	TagMajor:          "plcyMajorCd",
	TagSpecialization: "sbizCd",
	TagKeyword:        "plcyKywdNm",
	TagRegion:         "zipCd",
}

// DecodePolicy parses a stored policy document preserving number text.
func DecodePolicy(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, eris.Wrap(err, "reconcile: decode policy json")
	}
	if m == nil {
		return nil, eris.New("reconcile: policy json is null")
	}
	return m, nil
}

// NormalizePolicy maps an upstream youth-policy document to CORE columns.
// Unparseable dates and numbers become NULL rather than errors.
func NormalizePolicy(raw map[string]any) (*NormalizedPolicy, error) {
	extID := str(raw, "plcyNo")
	if extID == "" {
		return nil, eris.New("reconcile: policy without plcyNo")
	}

	p := &NormalizedPolicy{
		ExtID:          extID,
		Title:          str(raw, "plcyNm"),
		SummaryRaw:     str(raw, "plcyCn"),
		DescriptionRaw: str(raw, "plcySprtCn"),
		ApplyType:      model.ApplyUnknown,
		PeriodType:     codeOr(periodTypes, str(raw, "bizPrdSeCd")),
		PeriodStart:    parseYMD(str(raw, "bizPrdBgngYmd")),
		PeriodEnd:      parseYMD(str(raw, "bizPrdEndYmd")),
		PeriodEtc:      cleanDash(raw["bizPrdEtcCn"]),

		LastExternalModified: parseModified(str(raw, "lastMdfcnDt")),
		FirstExternalCreated: parseModified(str(raw, "frstRegDt")),
		Views:                intOrNil(raw["inqCnt"]),

		SupervisingOrg:     nonEmpty(str(raw, "sprvsnInstCdNm")),
		OperatingOrg:       nonEmpty(str(raw, "operInstCdNm")),
		ApplyURL:           nonEmpty(str(raw, "aplyUrlAddr")),
		RefURL1:            nonEmpty(str(raw, "refUrlAddr1")),
		RefURL2:            nonEmpty(str(raw, "refUrlAddr2")),
		Announcement:       cleanDash(raw["srngMthdCn"]),
		InfoEtc:            cleanDash(raw["etcMttrCn"]),
		RequiredDocuments:  cleanDash(raw["sbmsnDcmntCn"]),
		ApplicationProcess: cleanDash(raw["plcyAplyMthdCn"]),

		Eligibility: Eligibility{
			MaritalStatus:          codeOr(maritalStatuses, str(raw, "mrgSttsCd")),
			AgeMin:                 intOrNil(raw["sprtTrgtMinAge"]),
			AgeMax:                 intOrNil(raw["sprtTrgtMaxAge"]),
			IncomeType:             codeOr(incomeTypes, str(raw, "earnCndSeCd")),
			IncomeMin:              intOrNil(raw["earnMinAmt"]),
			IncomeMax:              intOrNil(raw["earnMaxAmt"]),
			IncomeText:             nonEmpty(str(raw, "earnEtcCn")),
			Additional:             cleanDash(raw["addAplyQlfcCndCn"]),
			Restrictive:            cleanDash(raw["ptcpPrpTrgtCn"]),
			RestrictEducation:      str(raw, "schoolCd") != anyEducation,
			RestrictMajor:          str(raw, "plcyMajorCd") != anyMajor,
			RestrictJobStatus:      str(raw, "jobCd") != anyJobStatus,
			RestrictSpecialization: str(raw, "sbizCd") != anySpecialization,
		},
		Tags: make(map[TagKind][]string, len(tagFields)),
	}
	if t, ok := applyTypes[str(raw, "aplyPrdSeCd")]; ok {
		p.ApplyType = t
	}
	p.ApplyStart, p.ApplyEnd = parseApplyRange(str(raw, "aplyYmd"))

	for kind, field := range tagFields {
		p.Tags[kind] = splitTags(raw[field])
	}
	return p, nil
}

func str(raw map[string]any, key string) string {
	return fetcher.AsString(raw[key])
}

func codeOr(m map[string]string, code string) string {
	if v, ok := m[code]; ok {
		return v
	}
	return "UNKNOWN"
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// cleanDash maps "-" and blank to NULL.
func cleanDash(v any) *string {
	if v == nil {
		return nil
	}
	s := fetcher.AsString(v)
	if s == "-" || s == "" {
		return nil
	}
	return &s
}

func intOrNil(v any) *int {
	var n int
	switch t := v.(type) {
	case json.Number:
		i, err := strconv.Atoi(t.String())
		if err != nil {
			return nil
		}
		n = i
	case float64:
		n = int(t)
	case int:
		n = t
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		n = i
	default:
		return nil
	}
	return &n
}

func parseYMD(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation(ymdLayout, s, kst)
	if err != nil {
		return nil
	}
	return &t
}

func parseModified(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation(modifiedLayout, s, kst)
	if err != nil {
		return nil
	}
	return &t
}

// parseApplyRange parses "YYYYMMDD ~ YYYYMMDD". Both bounds or neither.
func parseApplyRange(s string) (start, end *time.Time) {
	parts := strings.Split(s, "~")
	if len(parts) != 2 {
		return nil, nil
	}
	start = parseYMD(strings.TrimSpace(parts[0]))
	end = parseYMD(strings.TrimSpace(parts[1]))
	if start == nil || end == nil {
		return nil, nil
	}
	return start, end
}

func splitTags(v any) []string {
	var raw []string
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		for _, el := range t {
			raw = append(raw, fetcher.AsString(el))
		}
	default:
		raw = strings.Split(fetcher.AsString(t), ",")
	}
	out := raw[:0]
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
