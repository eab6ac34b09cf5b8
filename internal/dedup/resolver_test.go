package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/grant-funnel/internal/model"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"ABC Foundation Inc.", "abc foundation"},
		{"ABC Foundation", "abc foundation"},
		{"The Ford Foundation", "ford foundation"},
		{"Smith & Sons, LLC", "smith and sons"},
		{"Fundación Niños", "fundacion ninos"},
		{"Children's Trust Corp", "childrens trust"},
		{"  Literacy   For All  ", "literacy for all"},
		{"Inc", "inc"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, Similarity("abc", "abc"), 0.0001)
	assert.InDelta(t, 1-3.0/7.0, Similarity("kitten", "sitting"), 0.0001)
	assert.InDelta(t, 0.0, Similarity("", "abc"), 0.0001)
	assert.InDelta(t, 1.0, Similarity("", ""), 0.0001)
	assert.InDelta(t, Similarity("flaw", "lawn"), Similarity("lawn", "flaw"), 0.0001)
	assert.InDelta(t, 1.0, NameSimilarity("ABC Foundation Inc.", "abc foundation"), 0.0001)
}

func TestTokenOverlap(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 2.0/3.0, TokenOverlap("Literacy For All Kids", "Literacy For All"), 0.0001)
	assert.InDelta(t, 1.0, TokenOverlap("The Literacy Fund", "Literacy Fund Inc"), 0.0001)
	assert.InDelta(t, 0.0, TokenOverlap("of the", "Literacy"), 0.0001)
	assert.Equal(t, []string{"literacy", "all"}, Tokens("Literacy for All"))
}

func TestNormalizeEIN(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "123456789", NormalizeEIN("12-3456789"))
	assert.Equal(t, "", NormalizeEIN("n/a"))
}

func existingOpp(id, name, ein, source string, stage model.Stage, discovered time.Time) model.Opportunity {
	return model.Opportunity{
		OpportunityID:    id,
		OrganizationName: name,
		EIN:              ein,
		DiscoverySource:  source,
		CurrentStage:     stage,
		DiscoveredAt:     discovered,
	}
}

var day = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

func TestResolve_EINDuplicateAcrossSourcesInBatch(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultConfig())
	batch := []model.CandidateRecord{
		{OpportunityID: "pp-1", OrganizationName: "Gates Foundation", EIN: "12-3456789", DiscoverySource: "propublica"},
		{OpportunityID: "bmf-9", OrganizationName: "Bill & Melinda Gates Fdn", EIN: "123456789", DiscoverySource: "irs_bmf"},
	}

	got, rejected := r.Resolve(batch, nil, nil)
	require.Empty(t, rejected)
	require.Len(t, got, 2)

	assert.Equal(t, StatusNew, got[0].Status)
	assert.Equal(t, StatusDuplicate, got[1].Status)
	require.NotNil(t, got[1].Duplicate)
	assert.Equal(t, MethodEIN, got[1].Duplicate.Method)
	assert.Equal(t, "propublica|pp-1", got[1].Duplicate.ExistingID)
	assert.True(t, got[1].Duplicate.InBatch)
	assert.InDelta(t, 1.0, got[1].Duplicate.Confidence, 0.0001)
}

func TestResolve_EINDuplicateOfExisting(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultConfig())
	existing := []model.Opportunity{
		existingOpp("opp-1", "Gates Foundation", "12-3456789", "propublica", model.StageCandidates, day),
	}
	got, _ := r.Resolve([]model.CandidateRecord{
		{OpportunityID: "x", OrganizationName: "Gates Foundation", EIN: "12-3456789", DiscoverySource: "grants_gov"},
	}, existing, nil)

	require.Len(t, got, 1)
	require.Equal(t, StatusDuplicate, got[0].Status)
	assert.Equal(t, "opp-1", got[0].Duplicate.ExistingID)
	assert.Equal(t, MethodEIN, got[0].Duplicate.Method)
	assert.False(t, got[0].Duplicate.InBatch)
}

func TestResolve_NormalizedNameDuplicate(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultConfig())
	existing := []model.Opportunity{
		existingOpp("opp-abc", "ABC Foundation", "", "propublica", model.StageProspects, day),
	}
	got, _ := r.Resolve([]model.CandidateRecord{
		{OpportunityID: "c1", OrganizationName: "ABC Foundation Inc.", DiscoverySource: "propublica"},
	}, existing, nil)

	require.Equal(t, StatusDuplicate, got[0].Status)
	assert.Equal(t, MethodFuzzyName, got[0].Duplicate.Method)
	assert.Equal(t, "opp-abc", got[0].Duplicate.ExistingID)
	assert.GreaterOrEqual(t, got[0].Duplicate.Confidence, 0.85)
}

func TestResolve_ExactAndCrossSourceName(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultConfig())
	existing := []model.Opportunity{
		existingOpp("opp-1", "Kresge Foundation", "", "propublica", model.StageProspects, day),
	}

	got, _ := r.Resolve([]model.CandidateRecord{
		{OpportunityID: "a", OrganizationName: "KRESGE FOUNDATION", DiscoverySource: "propublica"},
		{OpportunityID: "b", OrganizationName: "kresge foundation", DiscoverySource: "spreadsheet"},
	}, existing, nil)

	require.Len(t, got, 2)
	assert.Equal(t, MethodExactName, got[0].Duplicate.Method)
	assert.Equal(t, MethodCrossSource, got[1].Duplicate.Method)
	assert.Equal(t, "opp-1", got[1].Duplicate.ExistingID)
}

func TestResolve_KeeperPrefersStageThenRecency(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultConfig())
	existing := []model.Opportunity{
		existingOpp("early-prospect", "Joyce Foundation", "", "a", model.StageProspects, day.Add(48*time.Hour)),
		existingOpp("target", "Joyce Foundation", "", "a", model.StageTargets, day),
		existingOpp("target-newer", "Joyce Foundation", "", "a", model.StageTargets, day.Add(24*time.Hour)),
	}
	got, _ := r.Resolve([]model.CandidateRecord{
		{OpportunityID: "j", OrganizationName: "Joyce Foundation", DiscoverySource: "a"},
	}, existing, nil)

	require.Equal(t, StatusDuplicate, got[0].Status)
	assert.Equal(t, "target-newer", got[0].Duplicate.ExistingID)
}

func TestResolve_BatchCollision(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultConfig())
	got, _ := r.Resolve([]model.CandidateRecord{
		{OpportunityID: "gg-1", OrganizationName: "HHS Rural Health", DiscoverySource: "grants_gov"},
		{OpportunityID: "gg-1", OrganizationName: "HHS Rural Health (amended)", DiscoverySource: "grants_gov"},
	}, nil, nil)

	require.Len(t, got, 2)
	assert.Equal(t, StatusNew, got[0].Status)
	assert.Equal(t, StatusDuplicate, got[1].Status)
	assert.Equal(t, MethodBatchCollision, got[1].Duplicate.Method)
	assert.Equal(t, "grants_gov|gg-1", got[1].Duplicate.ExistingID)
}

func TestResolve_GranteeFastTrack(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultConfig())
	grantees := []model.Grantee{{Name: "Literacy For All", GrantAmount: 25000, GrantYear: 2023}}
	local := 0.4

	got, _ := r.Resolve([]model.CandidateRecord{
		{OpportunityID: "c1", OrganizationName: "Literacy For All Kids", DiscoverySource: "propublica", LocalScore: &local},
	}, nil, grantees)

	require.Len(t, got, 1)
	require.Equal(t, StatusFastTrack, got[0].Status)
	ft := got[0].FastTrack
	require.NotNil(t, ft)
	assert.GreaterOrEqual(t, ft.Similarity, 0.75)
	assert.Less(t, ft.Similarity, 0.85)
	assert.GreaterOrEqual(t, ft.TokenOverlap, 0.5)
	assert.GreaterOrEqual(t, ft.CompatibilityScore, 0.85)
	assert.Contains(t, ft.Reason, "$25000")
	assert.Contains(t, ft.Reason, "2023")
}

func TestResolve_GranteeKeepsHigherLocalScore(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultConfig())
	local := 0.93
	got, _ := r.Resolve([]model.CandidateRecord{
		{OpportunityID: "c1", OrganizationName: "Literacy For All, Inc.", DiscoverySource: "x", LocalScore: &local},
	}, nil, []model.Grantee{{Name: "Literacy For All"}})

	require.Equal(t, StatusFastTrack, got[0].Status)
	assert.InDelta(t, 0.93, got[0].FastTrack.CompatibilityScore, 0.0001)
}

func TestResolve_GranteeWeakMatchStaysNew(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultConfig())
	got, _ := r.Resolve([]model.CandidateRecord{
		{OpportunityID: "c1", OrganizationName: "Literacy Council", DiscoverySource: "x"},
	}, nil, []model.Grantee{{Name: "Literacy For All"}})

	assert.Equal(t, StatusNew, got[0].Status)
	assert.Nil(t, got[0].FastTrack)
}

func TestResolve_EmptyGranteesIsPureDedup(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultConfig())
	got, rejected := r.Resolve([]model.CandidateRecord{
		{OpportunityID: "c1", OrganizationName: "Literacy For All", DiscoverySource: "x"},
	}, nil, nil)

	assert.Empty(t, rejected)
	assert.Equal(t, StatusNew, got[0].Status)
}

func TestResolve_MalformedRejectedBatchContinues(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultConfig())
	got, rejected := r.Resolve([]model.CandidateRecord{
		{DiscoverySource: "x", Description: "no identity"},
		{OpportunityID: "c2", OrganizationName: "Valid Fund", DiscoverySource: "x"},
	}, nil, nil)

	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0].Err, model.ErrMalformedCandidate)
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].Candidate.OpportunityID)
}

func TestResolve_Idempotent(t *testing.T) {
	t.Parallel()

	r := NewResolver(DefaultConfig())
	existing := []model.Opportunity{
		existingOpp("opp-1", "ABC Foundation", "98-7654321", "propublica", model.StageCandidates, day),
		existingOpp("opp-2", "River Trust", "", "bmf", model.StageProspects, day),
	}
	grantees := []model.Grantee{{Name: "Literacy For All", GrantYear: 2022}}
	batch := []model.CandidateRecord{
		{OpportunityID: "1", OrganizationName: "ABC Foundation Inc", DiscoverySource: "grants_gov"},
		{OpportunityID: "2", OrganizationName: "Something", EIN: "98-7654321", DiscoverySource: "bmf"},
		{OpportunityID: "3", OrganizationName: "Literacy For All Kids", DiscoverySource: "bmf"},
		{OpportunityID: "4", OrganizationName: "Brand New Fund", DiscoverySource: "bmf"},
		{OpportunityID: "5", OrganizationName: "Brand New Fund", DiscoverySource: "propublica"},
		{},
	}

	first, rej1 := r.Resolve(batch, existing, grantees)
	second, rej2 := r.Resolve(batch, existing, grantees)
	assert.Equal(t, first, second)
	assert.Equal(t, rej1, rej2)

	statuses := make([]Status, len(first))
	for i, rc := range first {
		statuses[i] = rc.Status
	}
	assert.Equal(t, []Status{StatusDuplicate, StatusDuplicate, StatusFastTrack, StatusNew, StatusDuplicate}, statuses)
	assert.Equal(t, MethodCrossSource, first[4].Duplicate.Method)
}
