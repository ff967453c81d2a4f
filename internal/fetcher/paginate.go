package fetcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/resilience"
)

// Page is one decoded response of a paginated feed.
type Page struct {
	Number     int
	Status     int
	URL        string
	Params     map[string]string
	Payload    json.RawMessage
	PageSize   int
	TotalPages int
	// Items is the length of the item array; -1 when the page carries none.
	// A missing array counts as empty for stopping.
	Items int
}

// PageSource fetches and decodes one page of a feed.
type PageSource interface {
	FetchPage(ctx context.Context, pageNo int) (*Page, error)
}

// EmptyStop selects when an empty item array ends pagination.
type EmptyStop int

const (
	// EmptyStopAlways ends on any empty page.
	EmptyStopAlways EmptyStop = iota
	// EmptyStopWithoutTotal ends on an empty page only when the feed did not
	// declare a total page count.
	EmptyStopWithoutTotal
)

// PagerOptions bounds a pagination loop.
type PagerOptions struct {
	StartPage int
	// EndPage stops after this page; 0 means no limit.
	EndPage   int
	EmptyStop EmptyStop
	// Delay is slept between pages.
	Delay time.Duration
	Retry resilience.RetryConfig
	Label string
}

// Paginate walks src from StartPage and hands each page to fn. It stops at
// EndPage, at the first declared total page count, or on an empty page per
// EmptyStop. A page whose fetch exhausts its retries aborts the loop before
// fn sees it.
func Paginate(ctx context.Context, src PageSource, opts PagerOptions, fn func(*Page) error) (int, error) {
	log := zap.L().With(zap.String("component", "fetcher.paginate"), zap.String("feed", opts.Label))

	retry := opts.Retry
	retry.OnRetry = resilience.RetryLogger("fetcher.paginate", opts.Label)

	pageNo := max(1, opts.StartPage)
	lastPage := 0
	pages := 0
	for {
		no := pageNo
		p, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*Page, error) {
			return src.FetchPage(ctx, no)
		})
		if err != nil {
			return pages, eris.Wrapf(err, "fetcher: page %d of %s", no, opts.Label)
		}

		if lastPage == 0 && p.TotalPages > 0 {
			lastPage = p.TotalPages
			log.Info("paging detected", zap.Int("total_pages", lastPage), zap.Int("page_size", p.PageSize))
		}

		if err := fn(p); err != nil {
			return pages, err
		}
		pages++

		if opts.EndPage > 0 && no >= opts.EndPage {
			log.Info("end page reached", zap.Int("page", no))
			break
		}
		if lastPage > 0 && no >= lastPage {
			log.Info("last page reached", zap.Int("page", no))
			break
		}
		if p.Items <= 0 && (opts.EmptyStop == EmptyStopAlways || p.TotalPages == 0) {
			log.Info("empty page, stopping", zap.Int("page", no))
			break
		}

		pageNo++
		if opts.Delay > 0 {
			t := time.NewTimer(opts.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return pages, eris.Wrap(ctx.Err(), "fetcher: paginate cancelled")
			case <-t.C:
			}
		}
	}
	return pages, nil
}
