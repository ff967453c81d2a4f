package reconcile

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/youthfin-elt/internal/db"
)

// TagKind names a master reference table a policy tag resolves against.
type TagKind string

// Tag kinds, one per policy association.
const (
	TagCategory       TagKind = "category"
	TagRegion         TagKind = "region"
	TagKeyword        TagKind = "keyword"
	TagEducation      TagKind = "education"
	TagMajor          TagKind = "major"
	TagJobStatus      TagKind = "job_status"
	TagSpecialization TagKind = "specialization"
)

// AllTagKinds lists the kinds in resync order.
func AllTagKinds() []TagKind {
	return []TagKind{TagCategory, TagRegion, TagKeyword, TagEducation, TagMajor, TagJobStatus, TagSpecialization}
}

var masterLookups = map[TagKind]string{
	TagCategory:       "SELECT id, name FROM master.category WHERE parent_id IS NOT NULL",
	TagRegion:         "SELECT id, zip_code FROM master.region WHERE zip_code IS NOT NULL",
	TagKeyword:        "SELECT id, name FROM master.keyword",
	TagEducation:      "SELECT id, code FROM master.education",
	TagMajor:          "SELECT id, code FROM master.major",
	TagJobStatus:      "SELECT id, code FROM master.job_status",
	TagSpecialization: "SELECT id, code FROM master.specialization",
}

// NormalizeTag folds compatibility forms (full-width digits, etc.) and trims.
func NormalizeTag(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// Resolver maps tag strings to master ids and remembers what it could not
// resolve.
type Resolver struct {
	ids map[TagKind]map[string]int64

	mu      sync.Mutex
	unknown map[TagKind]map[string]int
}

// NewResolver builds a resolver from preloaded lookups. Keys are normalized.
func NewResolver(lookups map[TagKind]map[string]int64) *Resolver {
	r := &Resolver{ids: make(map[TagKind]map[string]int64, len(lookups)), unknown: make(map[TagKind]map[string]int)}
	for kind, m := range lookups {
		nm := make(map[string]int64, len(m))
		for k, id := range m {
			nm[NormalizeTag(k)] = id
		}
		r.ids[kind] = nm
	}
	return r
}

// LoadResolver reads every master lookup.
func LoadResolver(ctx context.Context, q db.Querier) (*Resolver, error) {
	lookups := make(map[TagKind]map[string]int64, len(masterLookups))
	for _, kind := range AllTagKinds() {
		rows, err := q.Query(ctx, masterLookups[kind])
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: load master %s", kind)
		}
		m := make(map[string]int64)
		for rows.Next() {
			var id int64
			var key string
			if err := rows.Scan(&id, &key); err != nil {
				rows.Close()
				return nil, eris.Wrapf(err, "reconcile: scan master %s", kind)
			}
			m[key] = id
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, eris.Wrapf(err, "reconcile: iterate master %s", kind)
		}
		lookups[kind] = m
	}
	return NewResolver(lookups), nil
}

// Resolve returns the distinct ids for tags. Unresolvable tags are recorded
// and skipped.
func (r *Resolver) Resolve(kind TagKind, tags []string) []int64 {
	m := r.ids[kind]
	seen := make(map[int64]bool, len(tags))
	var ids []int64
	for _, t := range tags {
		key := NormalizeTag(t)
		if key == "" {
			continue
		}
		id, ok := m[key]
		if !ok {
			r.markUnknown(kind, key)
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Resolver) markUnknown(kind TagKind, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unknown[kind] == nil {
		r.unknown[kind] = make(map[string]int)
	}
	if r.unknown[kind][tag] == 0 {
		zap.L().Warn("unknown policy tag", zap.String("kind", string(kind)), zap.String("tag", tag))
	}
	r.unknown[kind][tag]++
}

// Unknown returns the sorted distinct unresolved tags of kind.
func (r *Resolver) Unknown(kind TagKind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.unknown[kind]))
	for t := range r.unknown[kind] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
