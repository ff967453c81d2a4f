package fetcher

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/youthfin-elt/internal/resilience"
)

// DecodeObject decodes body as a single JSON object. Decode failures are
// reported as transient so paginated fetches retry them.
func DecodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: malformed json"), 0)
	}
	if obj == nil {
		return nil, resilience.NewTransientError(eris.New("fetcher: json body is not an object"), 0)
	}
	return obj, nil
}

// Result returns the "result" envelope of a feed response, or the root
// itself when the feed is flat.
func Result(root map[string]any) map[string]any {
	if r, ok := root["result"].(map[string]any); ok {
		return r
	}
	return root
}

// ItemList returns the first of keys that holds a JSON array. ok is false
// when none of the keys is an array.
func ItemList(obj map[string]any, keys ...string) (items []any, ok bool) {
	for _, k := range keys {
		if v, present := obj[k]; present {
			list, isList := v.([]any)
			if isList {
				return list, true
			}
		}
	}
	return nil, false
}

// AsInt coerces a JSON scalar (number or numeric string) to int. Anything
// else yields 0.
func AsInt(v any) int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return int(f)
		}
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) {
			return int(f)
		}
	}
	return 0
}

// AsString renders a JSON scalar as a trimmed string.
func AsString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
