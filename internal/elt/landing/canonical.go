// Package landing explodes raw pages into per-entity staging rows keyed by
// natural key and content hash.
package landing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/youthfin-elt/internal/fetcher"
)

// Volatile key sets. Bump the version when the set changes; doing so
// re-versions every entity on the next run.
var (
	PolicyVolatileV1 = []string{
		"inqCnt",
		"totCount", "pageNo", "pageNum", "pageIndex", "pageSize",
		"nowTs", "requestId", "timestamp",
	}
	FinanceBaseVolatileV1   = []string{}
	FinanceOptionVolatileV1 = []string{}
)

// Canonicalize serializes item with sorted keys after dropping the volatile
// top-level keys. item is not modified.
func Canonicalize(item map[string]any, volatile []string) ([]byte, error) {
	drop := make(map[string]bool, len(volatile))
	for _, k := range volatile {
		drop[k] = true
	}
	kept := make(map[string]any, len(item))
	for k, v := range item {
		if !drop[k] {
			kept[k] = v
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(kept); err != nil {
		return nil, eris.Wrap(err, "landing: canonicalize")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ContentHash is the sha256 hex digest of the canonical form.
func ContentHash(item map[string]any, volatile []string) (string, error) {
	b, err := Canonicalize(item, volatile)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// decodeItems returns the object elements of the first array found under
// keys in the page's result envelope (or its root when the feed is flat).
func decodeItems(payload []byte, keys ...string) ([]map[string]any, error) {
	root, err := fetcher.DecodeObject(payload)
	if err != nil {
		return nil, err
	}
	arr, _ := fetcher.ItemList(fetcher.Result(root), keys...)
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func marshalItem(item map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(item); err != nil {
		return nil, eris.Wrap(err, "landing: marshal item")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
