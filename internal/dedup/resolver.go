package dedup

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/model"
)

// Status tags a resolved candidate.
type Status string

const (
	StatusNew       Status = "new"
	StatusDuplicate Status = "duplicate"
	StatusFastTrack Status = "fast_track"
)

// Match methods, in precedence order.
const (
	MethodBatchCollision = "batch_collision"
	MethodEIN            = "ein"
	MethodExactName      = "exact_name"
	MethodFuzzyName      = "fuzzy_name"
	MethodCrossSource    = "duplicate_cross_source"
)

// Config holds the matching thresholds.
type Config struct {
	SimilarityThreshold      float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	GranteeSimilarity        float64 `yaml:"grantee_similarity" mapstructure:"grantee_similarity"`
	GranteePartialSimilarity float64 `yaml:"grantee_partial_similarity" mapstructure:"grantee_partial_similarity"`
	GranteeTokenOverlap      float64 `yaml:"grantee_token_overlap" mapstructure:"grantee_token_overlap"`
	FastTrackScore           float64 `yaml:"fast_track_score" mapstructure:"fast_track_score"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:      0.85,
		GranteeSimilarity:        0.85,
		GranteePartialSimilarity: 0.75,
		GranteeTokenOverlap:      0.5,
		FastTrackScore:           0.85,
	}
}

// Match describes the existing record a duplicate candidate resolved to.
// ExistingID is an opportunity id, or the batch key of an earlier
// candidate in the same batch when InBatch is set.
type Match struct {
	ExistingID string  `json:"existing_id"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	InBatch    bool    `json:"in_batch,omitempty"`
}

// GranteeMatch describes a known-grantee fast-track.
type GranteeMatch struct {
	Grantee            model.Grantee `json:"grantee"`
	Similarity         float64       `json:"similarity"`
	TokenOverlap       float64       `json:"token_overlap"`
	CompatibilityScore float64       `json:"compatibility_score"`
	Reason             string        `json:"reason"`
}

// ResolvedCandidate is a candidate tagged NEW, DUPLICATE or FAST_TRACK.
type ResolvedCandidate struct {
	Candidate model.CandidateRecord `json:"candidate"`
	Status    Status                `json:"status"`
	Duplicate *Match                `json:"duplicate,omitempty"`
	FastTrack *GranteeMatch         `json:"fast_track,omitempty"`
}

// Rejection is a candidate excluded from the batch.
type Rejection struct {
	Candidate model.CandidateRecord
	Err       error
}

// entry is an opportunity or earlier batch candidate candidates are
// compared against.
type entry struct {
	id           string
	name         string
	normName     string
	ein          string
	source       string
	stageRank    int
	discoveredAt time.Time
	inBatch      bool
}

// Resolver deduplicates candidate batches. It holds no state between
// calls, so resolving the same inputs twice yields the same result.
type Resolver struct {
	cfg Config
}

// NewResolver creates a resolver. Zero thresholds take their defaults.
func NewResolver(cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.GranteeSimilarity <= 0 {
		cfg.GranteeSimilarity = def.GranteeSimilarity
	}
	if cfg.GranteePartialSimilarity <= 0 {
		cfg.GranteePartialSimilarity = def.GranteePartialSimilarity
	}
	if cfg.GranteeTokenOverlap <= 0 {
		cfg.GranteeTokenOverlap = def.GranteeTokenOverlap
	}
	if cfg.FastTrackScore <= 0 {
		cfg.FastTrackScore = def.FastTrackScore
	}
	return &Resolver{cfg: cfg}
}

// Resolve classifies each candidate against the existing opportunities,
// earlier candidates of the same batch, and the known grantees. Malformed
// candidates are returned as rejections and do not stop the batch.
func (r *Resolver) Resolve(candidates []model.CandidateRecord, existing []model.Opportunity, grantees []model.Grantee) ([]ResolvedCandidate, []Rejection) {
	pool := make([]entry, 0, len(existing)+len(candidates))
	for i := range existing {
		o := &existing[i]
		pool = append(pool, entry{
			id:           o.OpportunityID,
			name:         o.OrganizationName,
			normName:     Normalize(o.OrganizationName),
			ein:          NormalizeEIN(o.EIN),
			source:       o.DiscoverySource,
			stageRank:    o.CurrentStage.Rank(),
			discoveredAt: o.DiscoveredAt,
		})
	}

	seen := make(map[string]bool, len(candidates))
	var out []ResolvedCandidate
	var rejected []Rejection

	for _, c := range candidates {
		if err := c.Validate(); err != nil {
			zap.L().Warn("dedup: rejecting malformed candidate",
				zap.String("source", c.DiscoverySource),
				zap.Error(err),
			)
			rejected = append(rejected, Rejection{Candidate: c, Err: err})
			continue
		}

		rc := ResolvedCandidate{Candidate: c, Status: StatusNew}
		key := BatchKey(c)

		switch {
		case c.OpportunityID != "" && seen[key]:
			rc.Status = StatusDuplicate
			rc.Duplicate = &Match{ExistingID: key, Method: MethodBatchCollision, Confidence: 1, InBatch: true}
		default:
			if m := r.matchExisting(c, pool); m != nil {
				rc.Status = StatusDuplicate
				rc.Duplicate = m
			} else if gm := r.matchGrantee(c, grantees); gm != nil {
				rc.Status = StatusFastTrack
				rc.FastTrack = gm
			}
		}

		if rc.Status != StatusDuplicate {
			pool = append(pool, entry{
				id:        key,
				name:      c.OrganizationName,
				normName:  Normalize(c.OrganizationName),
				ein:       NormalizeEIN(c.EIN),
				source:    c.DiscoverySource,
				stageRank: -1,
				inBatch:   true,
			})
		}
		if c.OpportunityID != "" {
			seen[key] = true
		}
		out = append(out, rc)
	}

	return out, rejected
}

// BatchKey identifies a candidate within a batch. Candidates without an
// opportunity id are keyed by their normalized name.
func BatchKey(c model.CandidateRecord) string {
	if c.OpportunityID == "" {
		return c.DiscoverySource + "|name:" + Normalize(c.OrganizationName)
	}
	return c.BatchKey()
}

// matchExisting applies the precedence cascade and returns the first
// match, or nil.
func (r *Resolver) matchExisting(c model.CandidateRecord, pool []entry) *Match {
	// Pass 1: EIN equality.
	if ein := NormalizeEIN(c.EIN); ein != "" {
		if e := keeper(pool, func(e entry) bool { return e.ein == ein }); e != nil {
			return newMatch(e, MethodEIN, 1)
		}
	}

	name := strings.TrimSpace(c.OrganizationName)
	if name == "" {
		return nil
	}

	// Pass 2: exact case-insensitive name. A match from a different
	// discovery source is tagged as a cross-source duplicate.
	if e := keeper(pool, func(e entry) bool { return strings.EqualFold(strings.TrimSpace(e.name), name) }); e != nil {
		method := MethodExactName
		if e.source != "" && c.DiscoverySource != "" && e.source != c.DiscoverySource {
			method = MethodCrossSource
		}
		return newMatch(e, method, 1)
	}

	// Pass 3: normalized edit-distance ratio.
	normName := Normalize(name)
	if normName == "" {
		return nil
	}
	scores := make(map[string]float64)
	e := keeper(pool, func(e entry) bool {
		if e.normName == "" {
			return false
		}
		s := Similarity(normName, e.normName)
		if s >= r.cfg.SimilarityThreshold {
			scores[e.id] = s
			return true
		}
		return false
	})
	if e != nil {
		return newMatch(e, MethodFuzzyName, scores[e.id])
	}
	return nil
}

// matchGrantee returns the best known-grantee match, or nil.
func (r *Resolver) matchGrantee(c model.CandidateRecord, grantees []model.Grantee) *GranteeMatch {
	if len(grantees) == 0 {
		return nil
	}
	normName := Normalize(c.OrganizationName)
	ein := NormalizeEIN(c.EIN)

	var best *GranteeMatch
	for _, g := range grantees {
		var sim, overlap float64
		if ein != "" && ein == NormalizeEIN(g.EIN) {
			sim, overlap = 1, 1
		} else {
			if normName == "" {
				continue
			}
			sim = Similarity(normName, Normalize(g.Name))
			overlap = TokenOverlap(c.OrganizationName, g.Name)
		}

		ok := sim >= r.cfg.GranteeSimilarity ||
			(sim >= r.cfg.GranteePartialSimilarity && overlap >= r.cfg.GranteeTokenOverlap)
		if !ok {
			continue
		}
		if best == nil || sim > best.Similarity || (sim == best.Similarity && overlap > best.TokenOverlap) {
			best = &GranteeMatch{Grantee: g, Similarity: sim, TokenOverlap: overlap}
		}
	}
	if best == nil {
		return nil
	}

	original := 0.0
	if c.LocalScore != nil {
		original = *c.LocalScore
	}
	best.CompatibilityScore = max(r.cfg.FastTrackScore, original)
	best.Reason = granteeReason(best)
	return best
}

func granteeReason(m *GranteeMatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "known grantee match: %s", m.Grantee.Name)
	switch {
	case m.Grantee.GrantAmount > 0 && m.Grantee.GrantYear > 0:
		fmt.Fprintf(&b, " ($%d grant in %d)", m.Grantee.GrantAmount, m.Grantee.GrantYear)
	case m.Grantee.GrantAmount > 0:
		fmt.Fprintf(&b, " ($%d grant)", m.Grantee.GrantAmount)
	case m.Grantee.GrantYear > 0:
		fmt.Fprintf(&b, " (grant in %d)", m.Grantee.GrantYear)
	}
	fmt.Fprintf(&b, ", similarity %.2f", m.Similarity)
	return b.String()
}

// keeper returns the matching entry with the highest funnel stage, then
// the most recent discovery, then the smallest id. Earlier batch entries
// have no stage and lose to tracked opportunities.
func keeper(pool []entry, match func(entry) bool) *entry {
	var best *entry
	for i := range pool {
		e := &pool[i]
		if !match(*e) {
			continue
		}
		if best == nil || better(e, best) {
			best = e
		}
	}
	return best
}

func better(a, b *entry) bool {
	if a.stageRank != b.stageRank {
		return a.stageRank > b.stageRank
	}
	if !a.discoveredAt.Equal(b.discoveredAt) {
		return a.discoveredAt.After(b.discoveredAt)
	}
	return a.id < b.id
}

func newMatch(e *entry, method string, confidence float64) *Match {
	return &Match{ExistingID: e.id, Method: method, Confidence: confidence, InBatch: e.inBatch}
}
