// Package raw stores upstream API pages verbatim, one row per page.
package raw

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/youthfin-elt/internal/resilience"
)

// Options tunes the pagination loop shared by both feeds.
type Options struct {
	StartPage int
	EndPage   int
	PageDelay time.Duration
	Retry     resilience.RetryConfig
}

// secretParams are redacted before query params are persisted.
var secretParams = map[string]bool{"apiKeyNm": true, "auth": true}

// storedParams flattens params for the query_params column with secrets
// masked.
func storedParams(params url.Values) map[string]string {
	out := make(map[string]string, len(params))
	for k := range params {
		if secretParams[k] {
			out[k] = "***"
			continue
		}
		out[k] = params.Get(k)
	}
	return out
}

func marshalParams(p map[string]string) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "raw: marshal query params")
	}
	return b, nil
}
