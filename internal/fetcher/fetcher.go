// Package fetcher retrieves paginated JSON feeds over HTTP.
package fetcher

import (
	"context"
	"net/url"
)

// Fetcher retrieves a JSON document from a remote API.
type Fetcher interface {
	// GetJSON issues a GET with the given query params and returns the HTTP
	// status and raw body. Transient failures are retried internally.
	GetJSON(ctx context.Context, rawURL string, params url.Values) (int, []byte, error)
}
