package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/funnel"
	"github.com/sells-group/grant-funnel/internal/metrics"
	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/store"
)

const (
	secret  = "test-secret"
	profileID = "readers"
)

var start = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	store   store.Store
	runner  *fakeRunner
	server  *Server
	handler http.Handler
	token   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	h := &harness{store: st, runner: newFakeRunner()}
	h.server = New(Deps{
		Store:   st,
		Machine: funnel.New(st, funnel.WithClock(func() time.Time { return start.Add(time.Hour) })),
		Runner:  h.runner,
		Metrics: metrics.New(),
		Server:  config.ServerConfig{JWTSecret: secret},
		Cascade: config.CascadeConfig{Enrich: true, CostBudgetUSD: 0.05},
	})
	h.handler = h.server.Handler()

	h.token, err = h.server.auth.Sign("dana", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)
	return h
}

func (h *harness) seed(t *testing.T, id string, stage model.Stage) {
	t.Helper()
	c := model.CandidateRecord{
		OpportunityID:    id,
		OrganizationName: "Org " + id,
		SourceType:       model.SourceFoundation,
		DiscoverySource:  "propublica",
	}
	opp := model.NewOpportunity(profileID, id, c, stage, model.DecisionDiscovery, "discovered", funnel.ActorSystem, start)
	require.NoError(t, h.store.Upsert(context.Background(), profileID, opp))
}

func (h *harness) do(t *testing.T, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if auth {
		r.Header.Set("Authorization", "Bearer "+h.token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListAndGet(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "opp-1", model.StageProspects)
	h.seed(t, "opp-2", model.StageCandidates)

	rec := h.do(t, http.MethodGet, "/profiles/readers/opportunities", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Opportunity](t, rec), 2)

	rec = h.do(t, http.MethodGet, "/profiles/readers/opportunities?stage=CANDIDATES", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	opps := decode[[]model.Opportunity](t, rec)
	require.Len(t, opps, 1)
	assert.Equal(t, "opp-2", opps[0].OpportunityID)

	rec = h.do(t, http.MethodGet, "/profiles/readers/opportunities?stage=shortlist", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/profiles/readers/opportunities/opp-1", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Org opp-1", decode[model.Opportunity](t, rec).OrganizationName)

	rec = h.do(t, http.MethodGet, "/profiles/readers/opportunities/missing", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmptyListIsArray(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/profiles/readers/opportunities", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMutationsRequireToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "opp-1", model.StageProspects)

	rec := h.do(t, http.MethodPost, "/profiles/readers/opportunities/opp-1/promote", `{}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	r := httptest.NewRequest(http.MethodPost, "/profiles/readers/opportunities/opp-1/promote", nil)
	r.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := NewAuthenticator("other-secret")
	forged, err := other.Sign("mallory", jwt.RegisteredClaims{})
	require.NoError(t, err)
	r = httptest.NewRequest(http.MethodPost, "/profiles/readers/opportunities/opp-1/promote", nil)
	r.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPromoteRecordsActor(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "opp-1", model.StageProspects)

	rec := h.do(t, http.MethodPost, "/profiles/readers/opportunities/opp-1/promote", `{"reason":"strong fit"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	opp := decode[model.Opportunity](t, rec)
	assert.Equal(t, model.StageQualifiedProspects, opp.CurrentStage)
	last := opp.PromotionHistory[len(opp.PromotionHistory)-1]
	assert.Equal(t, "dana", last.Actor)
	assert.Equal(t, "strong fit", last.Reason)
	assert.Equal(t, model.DecisionManual, last.DecisionType)

	stored, err := h.store.Get(context.Background(), profileID, "opp-1")
	require.NoError(t, err)
	assert.Equal(t, model.StageQualifiedProspects, stored.CurrentStage)
}

func TestStageErrorsMapToConflict(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "top", model.StageOpportunities)
	h.seed(t, "bottom", model.StageProspects)

	rec := h.do(t, http.MethodPost, "/profiles/readers/opportunities/top/promote", `{}`, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, "/profiles/readers/opportunities/bottom/demote", `{"reason":"no longer relevant"}`, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDemoteRequiresReason(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "opp-1", model.StageCandidates)

	rec := h.do(t, http.MethodPost, "/profiles/readers/opportunities/opp-1/demote", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/profiles/readers/opportunities/opp-1/demote", `{"reason":"deadline passed"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StageQualifiedProspects, decode[model.Opportunity](t, rec).CurrentStage)
}

func TestSetStage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "opp-1", model.StageProspects)

	rec := h.do(t, http.MethodPost, "/profiles/readers/opportunities/opp-1/stage", `{"stage":"targets","reason":"board pick"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.StageTargets, decode[model.Opportunity](t, rec).CurrentStage)

	rec = h.do(t, http.MethodPost, "/profiles/readers/opportunities/opp-1/stage", `{"stage":"shortlist","reason":"x"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/profiles/readers/opportunities/opp-1/stage", `{not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/profiles/readers/opportunities/missing/stage", `{"stage":"targets","reason":"x"}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssessment(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "opp-1", model.StageCandidates)

	rec := h.do(t, http.MethodPost, "/profiles/readers/opportunities/opp-1/assessment",
		`{"rating":4,"priority":"high","notes":"call program officer","tags":["literacy"]}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	a := decode[model.Opportunity](t, rec).UserAssessment
	require.NotNil(t, a)
	assert.Equal(t, 4, a.Rating)
	assert.Equal(t, "dana", a.AssessedBy)
	assert.Equal(t, []string{"literacy"}, a.Tags)

	rec = h.do(t, http.MethodPost, "/profiles/readers/opportunities/opp-1/assessment", `{"rating":9}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/profiles/readers/opportunities/missing/assessment", `{"rating":3}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalytics(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, "opp-1", model.StageProspects)
	h.seed(t, "opp-2", model.StageTargets)

	rec := h.do(t, http.MethodGet, "/profiles/readers/analytics", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/profiles/readers/analytics/refresh", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[model.Analytics](t, rec).TotalOpportunities)

	rec = h.do(t, http.MethodGet, "/profiles/readers/analytics", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	a := decode[model.Analytics](t, rec)
	assert.Equal(t, 1, a.StageDistribution[model.StageTargets])
}

func TestDiscoverRunsAsync(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/profiles/readers/discover", `{"sources":["propublica"],"lenient":true}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"accepted","profile_id":"readers"}`, rec.Body.String())

	select {
	case <-h.runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start")
	}

	rec = h.do(t, http.MethodPost, "/profiles/readers/discover", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(h.runner.release)
	require.True(t, h.server.Wait(5*time.Second))

	calls := h.runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "readers", calls[0].ProfileID)
	assert.Equal(t, []string{"propublica"}, calls[0].Sources)
	assert.True(t, calls[0].Lenient)
	assert.True(t, calls[0].Enrich)
	assert.InDelta(t, 0.05, calls[0].BudgetUSD, 1e-9)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.do(t, http.MethodGet, "/profiles/readers/opportunities/missing", "", false)

	rec := h.do(t, http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/profiles/{profile}/opportunities/{id}"`)
	assert.Contains(t, rec.Body.String(), `status="404"`)
}

func TestAuthDisabledUsesAnonymousActor(t *testing.T) {
	t.Parallel()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	srv := New(Deps{Store: st, Machine: funnel.New(st)})
	h := &harness{store: st, server: srv, handler: srv.Handler()}
	h.seed(t, "opp-1", model.StageProspects)

	rec := h.do(t, http.MethodPost, "/profiles/readers/opportunities/opp-1/promote", "", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	opp := decode[model.Opportunity](t, rec)
	assert.Equal(t, AnonymousActor, opp.PromotionHistory[len(opp.PromotionHistory)-1].Actor)

	rec = h.do(t, http.MethodPost, "/profiles/readers/discover", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
