package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/funnel"
	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/pipeline"
)

type changeRequest struct {
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason"`
}

type assessmentRequest struct {
	Rating   int      `json:"rating"`
	Priority string   `json:"priority"`
	Notes    string   `json:"notes"`
	Tags     []string `json:"tags"`
}

type discoverRequest struct {
	Sources   []string `json:"sources"`
	Lenient   *bool    `json:"lenient"`
	Enrich    *bool    `json:"enrich"`
	BudgetUSD *float64 `json:"budget_usd"`
}

type discoverResponse struct {
	Status    string `json:"status"`
	ProfileID string `json:"profile_id"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listOpportunities(w http.ResponseWriter, r *http.Request) {
	var stage model.Stage
	if raw := r.URL.Query().Get("stage"); raw != "" {
		st, err := model.ParseStage(raw)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		stage = st
	}
	opps, err := s.store.List(r.Context(), chi.URLParam(r, "profile"), stage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if opps == nil {
		opps = []model.Opportunity{}
	}
	writeJSON(w, http.StatusOK, opps)
}

func (s *Server) getOpportunity(w http.ResponseWriter, r *http.Request) {
	opp, err := s.store.Get(r.Context(), chi.URLParam(r, "profile"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

// change loads the opportunity named in the path and applies fn to it.
func (s *Server) change(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, profileID string, opp *model.Opportunity, req changeRequest, c funnel.Change) error) {
	var req changeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	profileID := chi.URLParam(r, "profile")
	opp, err := s.store.Get(r.Context(), profileID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	c := funnel.Change{Reason: req.Reason, Actor: ActorFrom(r.Context())}
	if err := fn(r.Context(), profileID, opp, req, c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

func (s *Server) promote(w http.ResponseWriter, r *http.Request) {
	s.change(w, r, func(ctx context.Context, profileID string, opp *model.Opportunity, _ changeRequest, c funnel.Change) error {
		return s.machine.Promote(ctx, profileID, opp, c)
	})
}

func (s *Server) demote(w http.ResponseWriter, r *http.Request) {
	s.change(w, r, func(ctx context.Context, profileID string, opp *model.Opportunity, _ changeRequest, c funnel.Change) error {
		return s.machine.Demote(ctx, profileID, opp, c)
	})
}

func (s *Server) setStage(w http.ResponseWriter, r *http.Request) {
	s.change(w, r, func(ctx context.Context, profileID string, opp *model.Opportunity, req changeRequest, c funnel.Change) error {
		target, err := model.ParseStage(req.Stage)
		if err != nil {
			return eris.Wrap(errBadRequest, err.Error())
		}
		return s.machine.SetStage(ctx, profileID, opp, target, c)
	})
}

func (s *Server) assess(w http.ResponseWriter, r *http.Request) {
	var req assessmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Rating < 0 || req.Rating > 5 {
		writeErrorMessage(w, http.StatusBadRequest, "rating must be between 0 and 5")
		return
	}
	opp, err := s.machine.Assess(r.Context(), chi.URLParam(r, "profile"), chi.URLParam(r, "id"), model.UserAssessment{
		Rating:     req.Rating,
		Priority:   req.Priority,
		Notes:      req.Notes,
		Tags:       req.Tags,
		AssessedBy: ActorFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

func (s *Server) getAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAnalytics(r.Context(), chi.URLParam(r, "profile"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) refreshAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.RefreshAnalytics(r.Context(), chi.URLParam(r, "profile"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// discover starts a run in the background. Only one run per profile is
// in flight at a time.
func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "discovery is not configured")
		return
	}
	var req discoverRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	profileID := chi.URLParam(r, "profile")
	opts := pipeline.OptionsFromConfig(s.cascade, profileID)
	opts.Sources = req.Sources
	if req.Lenient != nil {
		opts.Lenient = *req.Lenient
	}
	if req.Enrich != nil {
		opts.Enrich = *req.Enrich
	}
	if req.BudgetUSD != nil {
		opts.BudgetUSD = *req.BudgetUSD
	}

	if !s.claim(profileID) {
		writeErrorMessage(w, http.StatusConflict, "a discovery run is already in progress for "+profileID)
		return
	}
	log := zap.L().With(zap.String("profile_id", profileID), zap.String("actor", ActorFrom(r.Context())))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(profileID)
		rep, err := s.runner.Run(s.base, opts)
		if err != nil {
			log.Error("api: discovery run failed", zap.Error(err))
			return
		}
		log.Info("api: discovery run complete",
			zap.String("run_id", rep.RunID),
			zap.Int("processed", rep.Summary.Processed),
			zap.Int("fast_tracked", rep.Summary.FastTracked),
		)
	}()

	writeJSON(w, http.StatusAccepted, discoverResponse{Status: "accepted", ProfileID: profileID})
}

func (s *Server) claim(profileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[profileID] {
		return false
	}
	s.running[profileID] = true
	return true
}

func (s *Server) release(profileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, profileID)
}
