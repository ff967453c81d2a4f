package raw

import (
	"context"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/config"
	"github.com/sells-group/youthfin-elt/internal/db"
	"github.com/sells-group/youthfin-elt/internal/fetcher"
	"github.com/sells-group/youthfin-elt/internal/model"
)

// FinanceResult summarizes one finance ingest partition.
type FinanceResult struct {
	ProductType model.ProductType
	Pages       map[string]int // by top_fin_grp_no
}

// Total returns the page count across financial groups.
func (r *FinanceResult) Total() int {
	n := 0
	for _, v := range r.Pages {
		n += v
	}
	return n
}

// FinanceIngest pages through the deposit/saving disclosure APIs into
// raw.finproduct_pages.
type FinanceIngest struct {
	pool  db.Pool
	fetch fetcher.Fetcher
	cfg   config.FinanceConfig
	opts  Options
}

// NewFinanceIngest creates a finance ingest.
func NewFinanceIngest(pool db.Pool, f fetcher.Fetcher, cfg config.FinanceConfig, opts Options) *FinanceIngest {
	if opts.StartPage <= 0 {
		opts.StartPage = cfg.StartPage
	}
	if opts.EndPage <= 0 {
		opts.EndPage = cfg.EndPage
	}
	return &FinanceIngest{pool: pool, fetch: f, cfg: cfg, opts: opts}
}

func (fi *FinanceIngest) baseURL(pt model.ProductType) string {
	if pt == model.ProductSaving {
		return fi.cfg.SavingURL
	}
	return fi.cfg.DepositURL
}

// Run ingests every configured financial group for one product type.
func (fi *FinanceIngest) Run(ctx context.Context, pt model.ProductType) (*FinanceResult, error) {
	log := zap.L().With(zap.String("component", "raw.finance"), zap.String("product_type", string(pt)))
	res := &FinanceResult{ProductType: pt, Pages: make(map[string]int)}

	for _, grp := range fi.cfg.TopFinGroups {
		src := &financeSource{fetch: fi.fetch, baseURL: fi.baseURL(pt), apiKey: fi.cfg.APIKey, topFinGrpNo: grp}
		label := string(pt) + "/" + grp
		_, err := fetcher.Paginate(ctx, src, fetcher.PagerOptions{
			StartPage: fi.opts.StartPage,
			EndPage:   fi.opts.EndPage,
			EmptyStop: fetcher.EmptyStopWithoutTotal,
			Delay:     fi.opts.PageDelay,
			Retry:     fi.opts.Retry,
			Label:     label,
		}, func(page *fetcher.Page) error {
			if err := fi.store(ctx, pt, grp, page); err != nil {
				return err
			}
			res.Pages[grp]++
			return nil
		})
		if err != nil {
			return res, eris.Wrapf(err, "raw: finance %s", label)
		}
		log.Info("raw finance group complete", zap.String("top_fin_grp_no", grp), zap.Int("pages", res.Pages[grp]))
	}
	return res, nil
}

// RunTypes ingests each product type in turn.
func (fi *FinanceIngest) RunTypes(ctx context.Context, types []model.ProductType) ([]*FinanceResult, error) {
	var out []*FinanceResult
	for _, pt := range types {
		r, err := fi.Run(ctx, pt)
		if r != nil {
			out = append(out, r)
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (fi *FinanceIngest) store(ctx context.Context, pt model.ProductType, grp string, page *fetcher.Page) error {
	params, err := marshalParams(page.Params)
	if err != nil {
		return err
	}
	var maxPage *int
	if page.TotalPages > 0 {
		maxPage = &page.TotalPages
	}
	_, err = fi.pool.Exec(ctx,
		`INSERT INTO raw.finproduct_pages
		 (ingest_id, product_type, top_fin_grp_no, now_page_no, max_page_no, base_url, query_params, http_status, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), string(pt), grp, page.Number, maxPage, page.URL, params, page.Status, []byte(page.Payload),
	)
	if err != nil {
		return eris.Wrapf(err, "raw: insert finance page %d", page.Number)
	}
	return nil
}

type financeSource struct {
	fetch       fetcher.Fetcher
	baseURL     string
	apiKey      string
	topFinGrpNo string
}

func (s *financeSource) FetchPage(ctx context.Context, pageNo int) (*fetcher.Page, error) {
	params := url.Values{
		"auth":        {s.apiKey},
		"topFinGrpNo": {s.topFinGrpNo},
		"pageNo":      {strconv.Itoa(pageNo)},
	}
	status, body, err := s.fetch.GetJSON(ctx, s.baseURL, params)
	if err != nil {
		return nil, err
	}
	root, err := fetcher.DecodeObject(body)
	if err != nil {
		return nil, err
	}

	result := fetcher.Result(root)
	page := &fetcher.Page{
		Number:     pageNo,
		Status:     status,
		URL:        s.baseURL,
		Params:     storedParams(params),
		Payload:    body,
		TotalPages: fetcher.AsInt(result["max_page_no"]),
		Items:      -1,
	}
	if items, ok := fetcher.ItemList(result, "baseList"); ok {
		page.Items = len(items)
	} else {
		zap.L().Warn("raw: finance page has no baseList", zap.Int("page", pageNo), zap.String("top_fin_grp_no", s.topFinGrpNo))
	}
	return page, nil
}
