package reconcile

import (
	"context"
	"maps"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/youthfin-elt/internal/db"
	"github.com/sells-group/youthfin-elt/internal/metrics"
)

// currentPolicies ignores is_active: staleness only steers re-ingestion.
const currentPolicies = `
SELECT policy_id, record_hash, raw_json, last_seen_at
  FROM stg.youthpolicy_current
 ORDER BY policy_id`

const currentPolicyKeys = `SELECT id, ext_id FROM core.policy WHERE id = ANY($1)`

var policySourceColumns = []db.TempColumn{
	{Name: "ext_source", Type: "text"},
	{Name: "ext_id", Type: "text"},
	{Name: "payload", Type: "jsonb"},
	{Name: "content_hash", Type: "text"},
	{Name: "observed_at", Type: "timestamptz"},
	{Name: "title", Type: "text"},
	{Name: "summary_raw", Type: "text"},
	{Name: "description_raw", Type: "text"},
	{Name: "apply_type", Type: "text"},
	{Name: "apply_start", Type: "date"},
	{Name: "apply_end", Type: "date"},
	{Name: "period_type", Type: "text"},
	{Name: "period_start", Type: "date"},
	{Name: "period_end", Type: "date"},
	{Name: "period_etc", Type: "text"},
	{Name: "last_external_modified", Type: "timestamptz"},
	{Name: "first_external_created", Type: "timestamptz"},
	{Name: "views", Type: "int"},
	{Name: "supervising_org", Type: "text"},
	{Name: "operating_org", Type: "text"},
	{Name: "apply_url", Type: "text"},
	{Name: "ref_url_1", Type: "text"},
	{Name: "ref_url_2", Type: "text"},
	{Name: "announcement", Type: "text"},
	{Name: "info_etc", Type: "text"},
	{Name: "required_documents", Type: "text"},
	{Name: "application_process", Type: "text"},
}

var eligibilityUpsert = db.UpsertConfig{
	Table: "core.policy_eligibility",
	Columns: []string{
		"policy_id", "marital_status", "age_min", "age_max",
		"income_type", "income_min", "income_max", "income_text",
		"eligibility_additional", "eligibility_restrictive",
		"restrict_education", "restrict_major", "restrict_job_status", "restrict_specialization",
	},
	ConflictKeys: []string{"policy_id"},
}

// PolicyAssocSpecs maps each tag kind to its edge table.
var PolicyAssocSpecs = map[TagKind]AssocSpec{
	TagCategory:       {Name: "policy_category", Table: "core.policy_category", OwnerCol: "policy_id", RefCol: "category_id", RefType: "bigint"},
	TagRegion:         {Name: "policy_region", Table: "core.policy_region", OwnerCol: "policy_id", RefCol: "region_id", RefType: "bigint"},
	TagKeyword:        {Name: "policy_keyword", Table: "core.policy_keyword", OwnerCol: "policy_id", RefCol: "keyword_id", RefType: "bigint"},
	TagEducation:      {Name: "policy_education", Table: "core.policy_eligibility_education", OwnerCol: "policy_id", RefCol: "education_id", RefType: "bigint"},
	TagMajor:          {Name: "policy_major", Table: "core.policy_eligibility_major", OwnerCol: "policy_id", RefCol: "major_id", RefType: "bigint"},
	TagJobStatus:      {Name: "policy_job_status", Table: "core.policy_eligibility_job_status", OwnerCol: "policy_id", RefCol: "job_status_id", RefType: "bigint"},
	TagSpecialization: {Name: "policy_specialization", Table: "core.policy_eligibility_specialization", OwnerCol: "policy_id", RefCol: "specialization_id", RefType: "bigint"},
}

func policyGroup() VersionedGroup {
	cols := make([]string, 0, len(policySourceColumns))
	for _, c := range policySourceColumns {
		if c.Name == "content_hash" || c.Name == "observed_at" {
			continue
		}
		cols = append(cols, c.Name)
	}
	return VersionedGroup{
		Name:         "policy",
		Target:       "core.policy",
		TargetKey:    []string{"t.ext_source", "t.ext_id"},
		CandidateKey: []string{"ext_source", "ext_id"},
		Columns:      cols,
		Source:       "SELECT src.*, NULL::text AS period FROM tmp_policy_source src",
	}
}

// PolicyResult reports one policy reconcile.
type PolicyResult struct {
	Counts
	Skipped     int
	Eligibility int64
	Assoc       map[TagKind]*AssocResult
	Unknown     map[TagKind][]string
	CurrentIDs  []int64
}

// PolicyReconciler applies the current-set policies to core.policy and its
// dependents, stale ones included.
type PolicyReconciler struct {
	pool      db.Pool
	extSource string
	metrics   *metrics.Metrics
	batchSize int
}

// DefaultPolicyBatchSize bounds the policies versioned per transaction.
const DefaultPolicyBatchSize = 1000

// NewPolicyReconciler creates a policy reconciler. m may be nil.
func NewPolicyReconciler(pool db.Pool, extSource string, m *metrics.Metrics) *PolicyReconciler {
	return &PolicyReconciler{pool: pool, extSource: extSource, metrics: m, batchSize: DefaultPolicyBatchSize}
}

// WithBatchSize sets how many policies, and association owners, go into one
// transaction. Non-positive values keep the default.
func (r *PolicyReconciler) WithBatchSize(n int) *PolicyReconciler {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

// Reconcile versions policies and their eligibility in batches of
// batchSize, one transaction each, then resyncs each association per batch
// of current ids. Batches hold disjoint keys, so an interrupted run leaves
// every committed batch consistent. A failed association leaves the
// committed versions in place and is returned as an error.
func (r *PolicyReconciler) Reconcile(ctx context.Context) (*PolicyResult, error) {
	log := zap.L().With(zap.String("component", "reconcile.policy"))
	res := &PolicyResult{Assoc: make(map[TagKind]*AssocResult), Unknown: make(map[TagKind][]string)}

	resolver, err := LoadResolver(ctx, r.pool)
	if err != nil {
		return nil, err
	}
	policies, skipped, err := r.loadCandidates(ctx)
	if err != nil {
		return nil, err
	}
	res.Skipped = skipped

	byExtID := make(map[string]*NormalizedPolicy, len(policies))
	for _, p := range policies {
		byExtID[p.ExtID] = p
	}

	current := make(map[int64]*NormalizedPolicy)
	for i, batch := range chunk(policies, r.batchSize) {
		err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
			if _, err := db.LoadTemp(ctx, tx, "tmp_policy_source", policySourceColumns, r.sourceRows(batch)); err != nil {
				return err
			}
			gr, err := ReconcileGroup(ctx, tx, policyGroup())
			if err != nil {
				return err
			}
			ids := gr.CurrentIDs()
			batchCurrent := make(map[int64]*NormalizedPolicy, len(ids))
			if err := mapCurrent(ctx, tx, ids, byExtID, batchCurrent); err != nil {
				return err
			}
			n, err := db.UpsertTx(ctx, tx, eligibilityUpsert, eligibilityRows(batchCurrent))
			if err != nil {
				return err
			}

			res.Counts.Add(gr.Counts)
			res.CurrentIDs = append(res.CurrentIDs, ids...)
			res.Eligibility += n
			maps.Copy(current, batchCurrent)
			return nil
		})
		if err != nil {
			if IsInvariantViolation(err) {
				log.Error("single-current invariant violated; policy batch rolled back", zap.Int("batch", i), zap.Error(err))
			}
			return nil, eris.Wrapf(err, "reconcile: policy batch %d", i)
		}
	}
	r.metrics.AddReconcile("policy", res.Closed, res.Inserted, res.Touched)
	log.Info("policies reconciled",
		zap.Int64("candidates", res.Candidates),
		zap.Int64("closed", res.Closed),
		zap.Int64("inserted", res.Inserted),
		zap.Int64("touched", res.Touched),
		zap.Int("skipped", res.Skipped),
	)

	for _, kind := range AllTagKinds() {
		spec := PolicyAssocSpecs[kind]
		pairs := make([]Pair, 0, len(current))
		for _, id := range res.CurrentIDs {
			p := current[id]
			if p == nil {
				continue
			}
			for _, ref := range resolver.Resolve(kind, p.Tags[kind]) {
				pairs = append(pairs, Pair{Owner: id, Ref: ref})
			}
		}

		ar := &AssocResult{}
		for _, owners := range chunk(res.CurrentIDs, r.batchSize) {
			err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
				part, err := SyncAssociation(ctx, tx, spec, owners, BoundPairs(owners, pairs))
				if err != nil {
					return err
				}
				ar.Inserted += part.Inserted
				ar.Deleted += part.Deleted
				return nil
			})
			if err != nil {
				return res, eris.Wrapf(err, "reconcile: policy association %s", kind)
			}
		}
		res.Assoc[kind] = ar
		res.Unknown[kind] = resolver.Unknown(kind)
		r.metrics.AddAssoc(spec.Name, ar.Inserted, ar.Deleted, len(res.Unknown[kind]))
		log.Info("association resynced",
			zap.String("assoc", spec.Name),
			zap.Int64("inserted", ar.Inserted),
			zap.Int64("deleted", ar.Deleted),
			zap.Int("unknown_tags", len(res.Unknown[kind])),
		)
	}
	return res, nil
}

func (r *PolicyReconciler) loadCandidates(ctx context.Context) ([]*NormalizedPolicy, int, error) {
	rows, err := r.pool.Query(ctx, currentPolicies)
	if err != nil {
		return nil, 0, eris.Wrap(err, "reconcile: query current policies")
	}
	defer rows.Close()

	var out []*NormalizedPolicy
	skipped := 0
	for rows.Next() {
		var (
			id, hash string
			raw      []byte
			seen     time.Time
		)
		if err := rows.Scan(&id, &hash, &raw, &seen); err != nil {
			return nil, 0, eris.Wrap(err, "reconcile: scan current policy")
		}
		doc, err := DecodePolicy(raw)
		if err != nil {
			skipped++
			zap.L().Warn("skipping undecodable policy", zap.String("policy_id", id), zap.Error(err))
			continue
		}
		p, err := NormalizePolicy(doc)
		if err != nil {
			skipped++
			zap.L().Warn("skipping unnormalizable policy", zap.String("policy_id", id), zap.Error(err))
			continue
		}
		p.Payload = raw
		p.ContentHash = hash
		p.ObservedAt = seen
		out = append(out, p)
	}
	return out, skipped, eris.Wrap(rows.Err(), "reconcile: iterate current policies")
}

func (r *PolicyReconciler) sourceRows(policies []*NormalizedPolicy) [][]any {
	rows := make([][]any, len(policies))
	for i, p := range policies {
		rows[i] = []any{
			r.extSource, p.ExtID, p.Payload, p.ContentHash, p.ObservedAt,
			p.Title, p.SummaryRaw, p.DescriptionRaw, string(p.ApplyType), p.ApplyStart, p.ApplyEnd,
			p.PeriodType, p.PeriodStart, p.PeriodEnd, p.PeriodEtc,
			p.LastExternalModified, p.FirstExternalCreated, p.Views,
			p.SupervisingOrg, p.OperatingOrg, p.ApplyURL, p.RefURL1, p.RefURL2,
			p.Announcement, p.InfoEtc, p.RequiredDocuments, p.ApplicationProcess,
		}
	}
	return rows
}

// mapCurrent resolves current version ids back to their normalized policy.
func mapCurrent(ctx context.Context, tx db.Querier, ids []int64, byExtID map[string]*NormalizedPolicy, out map[int64]*NormalizedPolicy) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := tx.Query(ctx, currentPolicyKeys, ids)
	if err != nil {
		return eris.Wrap(err, "reconcile: load current policy keys")
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var extID string
		if err := rows.Scan(&id, &extID); err != nil {
			return eris.Wrap(err, "reconcile: scan current policy key")
		}
		if p, ok := byExtID[extID]; ok {
			out[id] = p
		}
	}
	return eris.Wrap(rows.Err(), "reconcile: iterate current policy keys")
}

func eligibilityRows(current map[int64]*NormalizedPolicy) [][]any {
	rows := make([][]any, 0, len(current))
	for id, p := range current {
		e := p.Eligibility
		rows = append(rows, []any{
			id, e.MaritalStatus, e.AgeMin, e.AgeMax,
			e.IncomeType, e.IncomeMin, e.IncomeMax, e.IncomeText,
			e.Additional, e.Restrictive,
			e.RestrictEducation, e.RestrictMajor, e.RestrictJobStatus, e.RestrictSpecialization,
		})
	}
	return rows
}
