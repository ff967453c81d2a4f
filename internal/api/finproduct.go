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

// Product type chips.
const (
	ChipNoVisit = "방문없이 가입"
	ChipAnyone  = "누구나 가입"
)

// openMembership matches join_member texts that admit any individual. Both
// sides are compared with whitespace removed.
var openMembership = []string{
	"개인",
	"없음",
	"모든고객",
	"제한없음",
	"누구나가입가능",
	"내·외국인대상",
}

// productChips derives the list chips from a product's sales channels and
// membership text.
func productChips(joinWays []string, joinMember string) []string {
	chips := []string{}
	branch := false
	for _, w := range joinWays {
		if strings.Contains(w, "영업점") {
			branch = true
			break
		}
	}
	if !branch {
		chips = append(chips, ChipNoVisit)
	}

	member := strings.Join(strings.Fields(joinMember), "")
	for _, kw := range openMembership {
		if strings.Contains(member, kw) {
			chips = append(chips, ChipAnyone)
			break
		}
	}
	return chips
}

// ProductItem is one row of the product list.
type ProductItem struct {
	ID              int64    `json:"finproduct_id"`
	ProductType     string   `json:"product_type"`
	BankID          *int64   `json:"bank_id"`
	BankName        string   `json:"bank_name"`
	ProductName     string   `json:"product_name"`
	Chips           []string `json:"product_type_chip"`
	MaxInterestRate float64  `json:"max_interest_rate"`
	MinInterestRate float64  `json:"min_interest_rate"`
}

const productFrom = `
  FROM core.product p
  LEFT JOIN master.bank b ON b.fin_co_no = p.fin_co_no
  LEFT JOIN core.product_special_condition psc ON psc.product_id = p.id
  LEFT JOIN LATERAL (
       SELECT MIN(LEAST(NULLIF(o.intr_rate, 0), NULLIF(o.intr_rate2, 0)))::float8 AS min_rate,
              MAX(GREATEST(COALESCE(o.intr_rate, 0), COALESCE(o.intr_rate2, 0)))::float8 AS max_rate
         FROM core.product_option o
        WHERE o.product_id = p.id AND o.is_current) r ON TRUE`

const productListSelect = `
SELECT p.id, p.product_type, b.id, COALESCE(p.kor_co_nm, ''), COALESCE(p.fin_prdt_nm, ''),
       COALESCE(p.join_member, ''),
       COALESCE((SELECT array_agg(j.join_way ORDER BY j.join_way)
                   FROM core.product_join_way j WHERE j.product_id = p.id), '{}'),
       COALESCE(r.min_rate, 0), COALESCE(r.max_rate, 0)`

var rateSort = map[string]string{
	"include_bonus": "r.max_rate DESC NULLS LAST",
	"base_only":     "r.min_rate DESC NULLS LAST",
}

// flagColumn accepts a flag column name with or without its is_ prefix.
func flagColumn(name string) (string, bool) {
	if !strings.HasPrefix(name, "is_") {
		name = "is_" + name
	}
	for _, c := range model.SpecialFlagColumns {
		if c == name {
			return c, true
		}
	}
	return "", false
}

func productWhere(r *http.Request, a *args) (string, error) {
	where := []string{"p.is_current"}

	if pt := r.URL.Query().Get("type"); pt != "" {
		types, err := model.ParseProductTypes(pt)
		if err != nil {
			return "", badRequest{"type must be deposit, saving or all"}
		}
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		where = append(where, "p.product_type = ANY("+a.add(names)+")")
	}

	banks, err := intListParam(r, "banks")
	if err != nil {
		return "", err
	}
	if len(banks) > 0 {
		where = append(where, "b.id = ANY("+a.add(banks)+")")
	}

	periods, err := intListParam(r, "periods")
	if err != nil {
		return "", err
	}
	if len(periods) > 0 {
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM core.product_option o WHERE o.product_id = p.id AND o.is_current AND o.save_trm = ANY(%s))",
			a.add(periods)))
	}

	for _, sc := range listParam(r, "special_conditions") {
		col, ok := flagColumn(sc)
		if !ok {
			return "", badRequest{"unknown special condition " + sc}
		}
		where = append(where, "psc."+col)
	}

	return "WHERE " + strings.Join(where, " AND "), nil
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paging, err := parsePaging(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	sortKey := r.URL.Query().Get("interest_rate_sort")
	if sortKey == "" {
		sortKey = "include_bonus"
	}
	order, ok := rateSort[sortKey]
	if !ok {
		fail(w, r, badRequest{"interest_rate_sort must be include_bonus or base_only"})
		return
	}

	var a args
	where, err := productWhere(r, &a)
	if err != nil {
		fail(w, r, err)
		return
	}

	if err := s.q.QueryRow(ctx, "SELECT COUNT(*)"+productFrom+"\n "+where, a...).Scan(&paging.TotalCount); err != nil {
		fail(w, r, eris.Wrap(err, "count products"))
		return
	}

	query := productListSelect + productFrom + "\n " + where + "\n ORDER BY " + order + ", p.id"
	if limit, offset, ok := paging.limitOffset(); ok {
		query += fmt.Sprintf("\n LIMIT %s OFFSET %s", a.add(limit), a.add(offset))
	}

	rows, err := s.q.Query(ctx, query, a...)
	if err != nil {
		fail(w, r, eris.Wrap(err, "list products"))
		return
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ProductItem, error) {
		var (
			it       ProductItem
			member   string
			joinWays []string
		)
		err := row.Scan(&it.ID, &it.ProductType, &it.BankID, &it.BankName, &it.ProductName,
			&member, &joinWays, &it.MinInterestRate, &it.MaxInterestRate)
		it.Chips = productChips(joinWays, member)
		return it, err
	})
	if err != nil {
		fail(w, r, eris.Wrap(err, "scan products"))
		return
	}
	if paging.PageSize == 0 {
		paging.PageSize = int(paging.TotalCount)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result": map[string]any{
			"paging":         paging,
			"finProductList": items,
		},
	})
}

// ProductDetail is the full view of one current product.
type ProductDetail struct {
	ID                int64               `json:"finproduct_id"`
	ProductType       string              `json:"product_type"`
	BankName          string              `json:"bank_name"`
	ProductName       string              `json:"product_name"`
	JoinWay           string              `json:"join_way"`
	JoinMember        string              `json:"join_member"`
	JoinDeny          string              `json:"join_deny"`
	MaturityInterest  string              `json:"mtrt_int"`
	SpecialCondition  string              `json:"spcl_cnd"`
	EtcNote           string              `json:"etc_note"`
	MaxLimit          *float64            `json:"max_limit"`
	DisclosureMonth   string              `json:"dcls_month"`
	OptionsCount      int32               `json:"options_count"`
	Chips             []string            `json:"product_type_chip"`
	Options           []ProductOption     `json:"options"`
	SpecialConditions *model.SpecialFlags `json:"special_conditions"`
	ValidFrom         time.Time           `json:"valid_from"`
}

// ProductOption is one current rate option of a product.
type ProductOption struct {
	SaveTerm      *int32   `json:"save_trm"`
	RateType      string   `json:"intr_rate_type"`
	RateTypeName  string   `json:"intr_rate_type_nm"`
	ReserveType   string   `json:"rsrv_type,omitempty"`
	ReserveTypeNm string   `json:"rsrv_type_nm,omitempty"`
	InterestRate  *float64 `json:"intr_rate"`
	InterestRate2 *float64 `json:"intr_rate2"`
}

const productDetailQuery = `
SELECT p.id, p.product_type, COALESCE(p.kor_co_nm, ''), COALESCE(p.fin_prdt_nm, ''),
       COALESCE(p.join_way, ''), COALESCE(p.join_member, ''), COALESCE(p.join_deny, ''),
       COALESCE(p.mtrt_int, ''), COALESCE(p.spcl_cnd, ''), COALESCE(p.etc_note, ''),
       p.max_limit::float8, COALESCE(p.dcls_month, ''), COALESCE(p.options_count, 0), p.valid_from_ts,
       COALESCE((SELECT array_agg(j.join_way ORDER BY j.join_way)
                   FROM core.product_join_way j WHERE j.product_id = p.id), '{}'),
       psc.product_id IS NOT NULL AND NOT psc.error,
       COALESCE(psc.is_non_face_to_face, FALSE), COALESCE(psc.is_bank_app, FALSE),
       COALESCE(psc.is_salary_linked, FALSE), COALESCE(psc.is_utility_linked, FALSE),
       COALESCE(psc.is_card_usage, FALSE), COALESCE(psc.is_first_transaction, FALSE),
       COALESCE(psc.is_checking_account, FALSE), COALESCE(psc.is_pension_linked, FALSE),
       COALESCE(psc.is_redeposit, FALSE), COALESCE(psc.is_subscription_linked, FALSE),
       COALESCE(psc.is_recommend_coupon, FALSE), COALESCE(psc.is_auto_transfer, FALSE)
  FROM core.product p
  LEFT JOIN core.product_special_condition psc ON psc.product_id = p.id
 WHERE p.id = $1 AND p.is_current`

const productOptionsQuery = `
SELECT save_trm, COALESCE(intr_rate_type, ''), COALESCE(intr_rate_type_nm, ''),
       COALESCE(rsrv_type, ''), COALESCE(rsrv_type_nm, ''),
       intr_rate::float8, intr_rate2::float8
  FROM core.product_option
 WHERE product_id = $1 AND is_current
 ORDER BY save_trm NULLS LAST, intr_rate_type, rsrv_type`

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		fail(w, r, badRequest{"product id must be an integer"})
		return
	}

	var (
		d          ProductDetail
		f          model.SpecialFlags
		classified bool
		joinWays   []string
	)
	err = s.q.QueryRow(ctx, productDetailQuery, id).Scan(
		&d.ID, &d.ProductType, &d.BankName, &d.ProductName,
		&d.JoinWay, &d.JoinMember, &d.JoinDeny,
		&d.MaturityInterest, &d.SpecialCondition, &d.EtcNote,
		&d.MaxLimit, &d.DisclosureMonth, &d.OptionsCount, &d.ValidFrom,
		&joinWays,
		&classified,
		&f.NonFaceToFace, &f.BankApp,
		&f.SalaryLinked, &f.UtilityLinked,
		&f.CardUsage, &f.FirstTransaction,
		&f.CheckingAccount, &f.PensionLinked,
		&f.Redeposit, &f.SubscriptionLinked,
		&f.RecommendCoupon, &f.AutoTransfer,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		fail(w, r, eris.Wrap(err, "get product"))
		return
	}
	if classified {
		d.SpecialConditions = &f
	}
	d.Chips = productChips(joinWays, d.JoinMember)

	rows, err := s.q.Query(ctx, productOptionsQuery, id)
	if err != nil {
		fail(w, r, eris.Wrap(err, "product options"))
		return
	}
	d.Options, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ProductOption, error) {
		var o ProductOption
		err := row.Scan(&o.SaveTerm, &o.RateType, &o.RateTypeName, &o.ReserveType, &o.ReserveTypeNm,
			&o.InterestRate, &o.InterestRate2)
		return o, err
	})
	if err != nil {
		fail(w, r, eris.Wrap(err, "scan product options"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"result": d})
}

// Bank is a master.bank row.
type Bank struct {
	ID          int64   `json:"id"`
	TopFinGrpNo string  `json:"top_fin_grp_no"`
	FinCoNo     string  `json:"fin_co_no"`
	KorCoNm     string  `json:"kor_co_nm"`
	Nickname    *string `json:"nickname"`
}

// Financial group codes used by the product feed.
const (
	GroupBank        = "020000"
	GroupSavingsBank = "030300"
)

var bankGroups = map[string][]string{
	"0": {GroupBank, GroupSavingsBank},
	"1": {GroupBank},
	"2": {GroupSavingsBank},
}

func (s *Server) listBanks(w http.ResponseWriter, r *http.Request) {
	groups, ok := bankGroups[r.URL.Query().Get("type")]
	if !ok {
		fail(w, r, badRequest{"type must be 0, 1 or 2"})
		return
	}
	rows, err := s.q.Query(r.Context(), `
SELECT id, top_fin_grp_no, fin_co_no, kor_co_nm, nickname
  FROM master.bank
 WHERE top_fin_grp_no = ANY($1)
 ORDER BY id`, groups)
	if err != nil {
		fail(w, r, eris.Wrap(err, "list banks"))
		return
	}
	banks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Bank, error) {
		var b Bank
		err := row.Scan(&b.ID, &b.TopFinGrpNo, &b.FinCoNo, &b.KorCoNm, &b.Nickname)
		return b, err
	})
	if err != nil {
		fail(w, r, eris.Wrap(err, "scan banks"))
		return
	}
	writeJSON(w, http.StatusOK, banks)
}
