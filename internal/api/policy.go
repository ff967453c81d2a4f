package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/youthfin-elt/internal/model"
)

// PolicyItem is one row of the policy list.
type PolicyItem struct {
	ID            int64    `json:"policy_id"`
	Status        string   `json:"status"`
	CategoryLarge string   `json:"category_large"`
	Title         string   `json:"title"`
	Summary       string   `json:"summary_raw"`
	PeriodApply   string   `json:"period_apply"`
	Keywords      []string `json:"keyword"`
}

const policyListSelect = `
SELECT p.id, p.status, p.apply_type, p.apply_start, p.apply_end,
       COALESCE(p.title, ''), COALESCE(p.summary_raw, ''),
       COALESCE((SELECT pc2.name
                   FROM core.policy_category pc
                   JOIN master.category c  ON c.id = pc.category_id
                   JOIN master.category pc2 ON pc2.id = c.parent_id
                  WHERE pc.policy_id = p.id
                  GROUP BY pc2.name
                  ORDER BY COUNT(*) DESC, pc2.name
                  LIMIT 1), '') AS category_large,
       COALESCE((SELECT array_agg(k.name ORDER BY k.name)
                   FROM core.policy_keyword pk
                   JOIN master.keyword k ON k.id = pk.keyword_id
                  WHERE pk.policy_id = p.id), '{}') AS keywords
  FROM core.policy p`

// policySort orders closed policies last, then by the requested key.
var policySort = map[string]string{
	"deadline": `CASE WHEN p.status = 'CLOSED' THEN DATE '9999-12-31'
                  WHEN p.apply_type = 'PERIODIC' AND p.apply_end IS NOT NULL THEN p.apply_end
                  ELSE DATE '9999-12-30' END ASC`,
	"newest": "p.created_at DESC",
	"oldest": "p.created_at ASC",
}

// tagFilter is a name-matched association filter. restrictCol, when set,
// limits the filter to policies that declare the restriction.
type tagFilter struct {
	param       string
	assoc       string
	refCol      string
	master      string
	restrictCol string
}

var policyTagFilters = []tagFilter{
	{param: "keyword", assoc: "core.policy_keyword", refCol: "keyword_id", master: "master.keyword"},
	{param: "category_small", assoc: "core.policy_category", refCol: "category_id", master: "master.category"},
	{param: "education", assoc: "core.policy_eligibility_education", refCol: "education_id", master: "master.education", restrictCol: "restrict_education"},
	{param: "major", assoc: "core.policy_eligibility_major", refCol: "major_id", master: "master.major", restrictCol: "restrict_major"},
	{param: "job_status", assoc: "core.policy_eligibility_job_status", refCol: "job_status_id", master: "master.job_status", restrictCol: "restrict_job_status"},
	{param: "specialization", assoc: "core.policy_eligibility_specialization", refCol: "specialization_id", master: "master.specialization"},
}

var maritalFilters = map[string]string{
	"제한없음": "(pe.marital_status IN ('ANY', 'UNKNOWN') OR pe.marital_status IS NULL)",
	"기혼":   "pe.marital_status = 'MARRIED'",
	"미혼":   "pe.marital_status = 'SINGLE'",
}

// policyWhere builds the WHERE clause for the list filters.
func policyWhere(r *http.Request, a *args) (string, error) {
	where := []string{"p.is_current"}

	if s := strings.TrimSpace(r.URL.Query().Get("search_word")); s != "" {
		ph := a.add("%" + s + "%")
		where = append(where, fmt.Sprintf("(p.title ILIKE %s OR p.summary_raw ILIKE %s)", ph, ph))
	}

	regions, err := intListParam(r, "regions")
	if err != nil {
		return "", err
	}
	if len(regions) > 0 {
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM core.policy_region pr WHERE pr.policy_id = p.id AND pr.region_id = ANY(%s))",
			a.add(regions)))
	}

	for _, f := range policyTagFilters {
		names := listParam(r, f.param)
		if len(names) == 0 {
			continue
		}
		restrict := ""
		if f.restrictCol != "" {
			restrict = fmt.Sprintf(
				" AND EXISTS (SELECT 1 FROM core.policy_eligibility pe WHERE pe.policy_id = p.id AND pe.%s)",
				f.restrictCol)
		}
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM %s x JOIN %s m ON m.id = x.%s WHERE x.policy_id = p.id AND m.name = ANY(%s))%s",
			f.assoc, f.master, f.refCol, a.add(names), restrict))
	}

	if ms := strings.TrimSpace(r.URL.Query().Get("marital_status")); ms != "" {
		cond, ok := maritalFilters[ms]
		if !ok {
			return "", badRequest{"marital_status must be one of 제한없음, 기혼, 미혼"}
		}
		where = append(where, "EXISTS (SELECT 1 FROM core.policy_eligibility pe WHERE pe.policy_id = p.id AND "+cond+")")
	}

	age, err := optionalInt(r, "age")
	if err != nil {
		return "", err
	}
	if age != nil {
		ph := a.add(*age)
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM core.policy_eligibility pe WHERE pe.policy_id = p.id"+
				" AND (pe.age_min IS NULL OR %s >= pe.age_min) AND (pe.age_max IS NULL OR %s <= pe.age_max))",
			ph, ph))
	}

	incomeMin, err := optionalInt(r, "income_min")
	if err != nil {
		return "", err
	}
	incomeMax, err := optionalInt(r, "income_max")
	if err != nil {
		return "", err
	}
	if incomeMin != nil || incomeMax != nil {
		lo, hi := a.add(incomeMin), a.add(incomeMax)
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM core.policy_eligibility pe WHERE pe.policy_id = p.id AND ("+
				"pe.income_type IN ('ANY', 'TEXT', 'UNKNOWN') OR (pe.income_type = 'RANGE'"+
				" AND (%[1]s::bigint IS NULL OR pe.income_min IS NULL OR %[1]s::bigint >= pe.income_min)"+
				" AND (%[2]s::bigint IS NULL OR pe.income_max IS NULL OR %[2]s::bigint <= pe.income_max))))",
			lo, hi))
	}

	return "WHERE " + strings.Join(where, " AND "), nil
}

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paging, err := parsePaging(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	sortBy := r.URL.Query().Get("sort_by")
	if sortBy == "" {
		sortBy = "deadline"
	}
	order, ok := policySort[sortBy]
	if !ok {
		fail(w, r, badRequest{"sort_by must be deadline, newest or oldest"})
		return
	}

	var a args
	where, err := policyWhere(r, &a)
	if err != nil {
		fail(w, r, err)
		return
	}

	if err := s.q.QueryRow(ctx, "SELECT COUNT(*) FROM core.policy p "+where, a...).Scan(&paging.TotalCount); err != nil {
		fail(w, r, eris.Wrap(err, "count policies"))
		return
	}

	query := policyListSelect + "\n " + where +
		"\n ORDER BY CASE WHEN p.status = 'CLOSED' THEN 1 ELSE 0 END, " + order + ", p.id"
	if limit, offset, ok := paging.limitOffset(); ok {
		query += fmt.Sprintf("\n LIMIT %s OFFSET %s", a.add(limit), a.add(offset))
	}

	rows, err := s.q.Query(ctx, query, a...)
	if err != nil {
		fail(w, r, eris.Wrap(err, "list policies"))
		return
	}
	today := s.now()
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PolicyItem, error) {
		var (
			it         PolicyItem
			status     string
			applyType  string
			start, end *time.Time
		)
		err := row.Scan(&it.ID, &status, &applyType, &start, &end, &it.Title, &it.Summary, &it.CategoryLarge, &it.Keywords)
		it.Status = statusLabel(model.PolicyStatus(status), model.ApplyType(applyType), end, today)
		it.PeriodApply = applyPeriodLabel(model.ApplyType(applyType), start, end)
		return it, err
	})
	if err != nil {
		fail(w, r, eris.Wrap(err, "scan policies"))
		return
	}
	if paging.PageSize == 0 {
		paging.PageSize = int(paging.TotalCount)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result": map[string]any{
			"paging":          paging,
			"youthPolicyList": items,
		},
	})
}

// statusLabel renders the list badge for a policy.
func statusLabel(status model.PolicyStatus, applyType model.ApplyType, end *time.Time, today time.Time) string {
	switch status {
	case model.StatusClosed:
		return "마감"
	case model.StatusUpcoming:
		return "오픈예정"
	case model.StatusOpen:
		if applyType == model.ApplyPeriodic && end != nil {
			d := dateOf(*end).Sub(dateOf(today))
			return fmt.Sprintf("마감 D-%d", int(d.Hours()/24))
		}
		return "상시"
	default:
		return string(status)
	}
}

func applyPeriodLabel(applyType model.ApplyType, start, end *time.Time) string {
	const layout = "2006-01-02"
	switch {
	case applyType == model.ApplyAlwaysOpen:
		return "상시"
	case applyType == model.ApplyClosed:
		return "마감"
	case applyType != model.ApplyPeriodic:
		return "미정"
	case start != nil && end != nil:
		return start.Format(layout) + " ~ " + end.Format(layout)
	case start != nil:
		return start.Format(layout) + " ~ 별도공지"
	case end != nil:
		return "별도공지 ~ " + end.Format(layout)
	default:
		return "별도공지"
	}
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PolicyDetail is the full view of one current policy.
type PolicyDetail struct {
	ID                   int64               `json:"policy_id"`
	Title                string              `json:"title"`
	Summary              string              `json:"summary_raw"`
	Description          string              `json:"description_raw"`
	Status               string              `json:"status"`
	ApplyType            string              `json:"apply_type"`
	ApplyStart           *time.Time          `json:"apply_start"`
	ApplyEnd             *time.Time          `json:"apply_end"`
	PeriodApply          string              `json:"period_apply"`
	SupervisingOrg       string              `json:"supervising_org"`
	OperatingOrg         string              `json:"operating_org"`
	ApplyURL             string              `json:"apply_url"`
	RefURL1              string              `json:"ref_url_1"`
	RefURL2              string              `json:"ref_url_2"`
	RequiredDocuments    string              `json:"required_documents"`
	ApplicationProcess   string              `json:"application_process"`
	Eligibility          *Eligibility        `json:"eligibility"`
	Tags                 map[string][]string `json:"tags"`
	LastExternalModified *time.Time          `json:"last_external_modified"`
}

// Eligibility is the eligibility block of a policy detail.
type Eligibility struct {
	MaritalStatus string  `json:"marital_status"`
	AgeMin        *int32  `json:"age_min"`
	AgeMax        *int32  `json:"age_max"`
	IncomeType    string  `json:"income_type"`
	IncomeMin     *int64  `json:"income_min"`
	IncomeMax     *int64  `json:"income_max"`
	IncomeText    *string `json:"income_text"`
	Additional    *string `json:"eligibility_additional"`
	Restrictive   *string `json:"eligibility_restrictive"`
}

const policyDetailQuery = `
SELECT p.id, COALESCE(p.title, ''), COALESCE(p.summary_raw, ''), COALESCE(p.description_raw, ''),
       p.status, p.apply_type, p.apply_start, p.apply_end,
       COALESCE(p.supervising_org, ''), COALESCE(p.operating_org, ''),
       COALESCE(p.apply_url, ''), COALESCE(p.ref_url_1, ''), COALESCE(p.ref_url_2, ''),
       COALESCE(p.required_documents, ''), COALESCE(p.application_process, ''),
       p.last_external_modified,
       pe.policy_id IS NOT NULL,
       COALESCE(pe.marital_status, ''), pe.age_min, pe.age_max, COALESCE(pe.income_type, ''),
       pe.income_min, pe.income_max, pe.income_text, pe.eligibility_additional, pe.eligibility_restrictive
  FROM core.policy p
  LEFT JOIN core.policy_eligibility pe ON pe.policy_id = p.id
 WHERE p.id = $1 AND p.is_current`

// policyTags unions every tag kind for one policy.
const policyTags = `
SELECT 'category', m.name FROM core.policy_category x JOIN master.category m ON m.id = x.category_id WHERE x.policy_id = $1
UNION ALL
SELECT 'region', m.name FROM core.policy_region x JOIN master.region m ON m.id = x.region_id WHERE x.policy_id = $1
UNION ALL
SELECT 'keyword', m.name FROM core.policy_keyword x JOIN master.keyword m ON m.id = x.keyword_id WHERE x.policy_id = $1
UNION ALL
SELECT 'education', m.name FROM core.policy_eligibility_education x JOIN master.education m ON m.id = x.education_id WHERE x.policy_id = $1
UNION ALL
SELECT 'major', m.name FROM core.policy_eligibility_major x JOIN master.major m ON m.id = x.major_id WHERE x.policy_id = $1
UNION ALL
SELECT 'job_status', m.name FROM core.policy_eligibility_job_status x JOIN master.job_status m ON m.id = x.job_status_id WHERE x.policy_id = $1
UNION ALL
SELECT 'specialization', m.name FROM core.policy_eligibility_specialization x JOIN master.specialization m ON m.id = x.specialization_id WHERE x.policy_id = $1
ORDER BY 1, 2`

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		fail(w, r, badRequest{"policy id must be an integer"})
		return
	}

	var (
		d       PolicyDetail
		e       Eligibility
		hasElig bool
	)
	err = s.q.QueryRow(ctx, policyDetailQuery, id).Scan(
		&d.ID, &d.Title, &d.Summary, &d.Description,
		&d.Status, &d.ApplyType, &d.ApplyStart, &d.ApplyEnd,
		&d.SupervisingOrg, &d.OperatingOrg,
		&d.ApplyURL, &d.RefURL1, &d.RefURL2,
		&d.RequiredDocuments, &d.ApplicationProcess,
		&d.LastExternalModified,
		&hasElig,
		&e.MaritalStatus, &e.AgeMin, &e.AgeMax, &e.IncomeType,
		&e.IncomeMin, &e.IncomeMax, &e.IncomeText, &e.Additional, &e.Restrictive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "policy not found")
		return
	}
	if err != nil {
		fail(w, r, eris.Wrap(err, "get policy"))
		return
	}
	if hasElig {
		d.Eligibility = &e
	}
	d.PeriodApply = applyPeriodLabel(model.ApplyType(d.ApplyType), d.ApplyStart, d.ApplyEnd)

	rows, err := s.q.Query(ctx, policyTags, id)
	if err != nil {
		fail(w, r, eris.Wrap(err, "policy tags"))
		return
	}
	d.Tags = map[string][]string{}
	var kind, name string
	_, err = pgx.ForEachRow(rows, []any{&kind, &name}, func() error {
		d.Tags[kind] = append(d.Tags[kind], name)
		return nil
	})
	if err != nil {
		fail(w, r, eris.Wrap(err, "scan policy tags"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"result": d})
}
