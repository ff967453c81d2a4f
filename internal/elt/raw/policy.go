package raw

import (
	"context"
	"math"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/config"
	"github.com/sells-group/youthfin-elt/internal/db"
	"github.com/sells-group/youthfin-elt/internal/fetcher"
)

// PolicyResult summarizes one policy ingest.
type PolicyResult struct {
	Pages int
	Items int
}

// PolicyIngest pages through the youth-policy API into raw.youthpolicy_pages.
type PolicyIngest struct {
	pool  db.Pool
	fetch fetcher.Fetcher
	cfg   config.PolicyConfig
	opts  Options
}

// NewPolicyIngest creates a policy ingest.
func NewPolicyIngest(pool db.Pool, f fetcher.Fetcher, cfg config.PolicyConfig, opts Options) *PolicyIngest {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if opts.StartPage <= 0 {
		opts.StartPage = cfg.StartPage
	}
	if opts.EndPage <= 0 {
		opts.EndPage = cfg.EndPage
	}
	return &PolicyIngest{pool: pool, fetch: f, cfg: cfg, opts: opts}
}

// Run fetches every page and stores each as it arrives. A page that
// exhausts its retries stops the run; pages stored before it remain.
func (p *PolicyIngest) Run(ctx context.Context) (*PolicyResult, error) {
	log := zap.L().With(zap.String("component", "raw.policy"))
	res := &PolicyResult{}

	src := &policySource{fetch: p.fetch, baseURL: p.cfg.BaseURL, apiKey: p.cfg.APIKey, pageSize: p.cfg.PageSize}
	_, err := fetcher.Paginate(ctx, src, fetcher.PagerOptions{
		StartPage: p.opts.StartPage,
		EndPage:   p.opts.EndPage,
		EmptyStop: fetcher.EmptyStopAlways,
		Delay:     p.opts.PageDelay,
		Retry:     p.opts.Retry,
		Label:     "youthpolicy",
	}, func(page *fetcher.Page) error {
		if err := p.store(ctx, page); err != nil {
			return err
		}
		res.Pages++
		res.Items += max(page.Items, 0)
		log.Debug("stored raw page", zap.Int("page", page.Number), zap.Int("items", page.Items))
		return nil
	})
	if err != nil {
		return res, err
	}

	log.Info("raw policy ingest complete", zap.Int("pages", res.Pages), zap.Int("items", res.Items))
	return res, nil
}

func (p *PolicyIngest) store(ctx context.Context, page *fetcher.Page) error {
	params, err := marshalParams(page.Params)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO raw.youthpolicy_pages
		 (ingest_id, page_no, page_size, base_url, query_params, http_status, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), page.Number, page.PageSize, page.URL, params, page.Status, []byte(page.Payload),
	)
	if err != nil {
		return eris.Wrapf(err, "raw: insert policy page %d", page.Number)
	}
	return nil
}

type policySource struct {
	fetch    fetcher.Fetcher
	baseURL  string
	apiKey   string
	pageSize int
}

func (s *policySource) FetchPage(ctx context.Context, pageNo int) (*fetcher.Page, error) {
	params := url.Values{
		"apiKeyNm": {s.apiKey},
		"pageNum":  {strconv.Itoa(pageNo)},
		"pageSize": {strconv.Itoa(s.pageSize)},
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
		Number:   pageNo,
		Status:   status,
		URL:      s.baseURL,
		Params:   storedParams(params),
		Payload:  body,
		PageSize: s.pageSize,
		Items:    -1,
	}
	if items, ok := fetcher.ItemList(result, "youthPolicyList", "items"); ok {
		page.Items = len(items)
	} else {
		zap.L().Warn("raw: policy page has no item array", zap.Int("page", pageNo))
	}

	paging, _ := result["paging"].(map[string]any)
	if size := fetcher.AsInt(paging["pageSize"]); size > 0 {
		page.PageSize = size
	}
	page.TotalPages = policyTotalPages(paging, page.PageSize)
	return page, nil
}

// policyTotalPages prefers an explicit totPage and falls back to
// ceil(totCount/pageSize).
func policyTotalPages(paging map[string]any, pageSize int) int {
	if tp := fetcher.AsInt(paging["totPage"]); tp > 0 {
		return tp
	}
	total := fetcher.AsInt(paging["totCount"])
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(pageSize)))
}
