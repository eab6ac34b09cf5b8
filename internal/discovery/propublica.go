package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/fetcher"
	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/store"
)

// SourceProPublica is the discovery_source tag for Nonprofit Explorer records.
const SourceProPublica = "propublica"

type proPublicaSearch struct {
	TotalResults  int                 `json:"total_results"`
	NumPages      int                 `json:"num_pages"`
	CurPage       int                 `json:"cur_page"`
	Organizations []proPublicaSummary `json:"organizations"`
}

type proPublicaSummary struct {
	EIN      int64  `json:"ein"`
	StrEIN   string `json:"strein"`
	Name     string `json:"name"`
	City     string `json:"city"`
	State    string `json:"state"`
	NTEECode string `json:"ntee_code"`
}

// proPublicaOrg is the cached subset of an organization detail response.
type proPublicaOrg struct {
	EIN          int64  `json:"ein"`
	Name         string `json:"name"`
	City         string `json:"city"`
	State        string `json:"state"`
	NTEECode     string `json:"ntee_code"`
	RulingDate   string `json:"ruling_date"`
	AssetAmount  int64  `json:"asset_amount"`
	IncomeAmount int64  `json:"income_amount"`
	Website      string `json:"website"`
}

// ProPublica searches the Nonprofit Explorer API for grantmaking
// organizations. Organization details are read through the entity cache.
type ProPublica struct {
	cfg   config.ProPublicaConfig
	fetch *fetcher.HTTPFetcher
	cache store.EntityCache
	ttl   time.Duration
}

// NewProPublica creates a Nonprofit Explorer source. cache may be nil.
func NewProPublica(cfg config.ProPublicaConfig, f *fetcher.HTTPFetcher, cache store.EntityCache, ttl time.Duration) *ProPublica {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	return &ProPublica{cfg: cfg, fetch: f, cache: cache, ttl: ttl}
}

func (p *ProPublica) Name() string { return SourceProPublica }

func (p *ProPublica) Discover(ctx context.Context) iter.Seq2[model.CandidateRecord, error] {
	return func(yield func(model.CandidateRecord, error) bool) {
		queries := p.cfg.Queries
		if len(queries) == 0 {
			queries = []string{"foundation"}
		}
		states := p.cfg.States
		if len(states) == 0 {
			states = []string{""}
		}
		for _, q := range queries {
			for _, st := range states {
				if !p.search(ctx, q, st, yield) {
					return
				}
			}
		}
	}
}

func (p *ProPublica) searchURL(query, state string, page int) string {
	v := url.Values{}
	v.Set("q", query)
	if state != "" {
		v.Set("state[id]", strings.ToUpper(state))
	}
	v.Set("page", strconv.Itoa(page))
	return p.cfg.URL + "/search.json?" + v.Encode()
}

func (p *ProPublica) search(ctx context.Context, query, state string, yield func(model.CandidateRecord, error) bool) bool {
	for page := 0; page < p.cfg.MaxPages; page++ {
		var res proPublicaSearch
		err := p.fetch.GetJSON(ctx, p.searchURL(query, state, page), &res)
		var se *fetcher.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			// The API answers 404 when a search has no results.
			return true
		}
		if err != nil {
			return yield(model.CandidateRecord{}, eris.Wrapf(err, "propublica: search %q", query))
		}

		for _, s := range res.Organizations {
			if s.EIN == 0 {
				continue
			}
			org := p.organization(ctx, s)
			if !yield(proPublicaCandidate(org), nil) {
				return false
			}
		}
		if len(res.Organizations) == 0 || page+1 >= res.NumPages {
			break
		}
	}
	return true
}

// organization returns the organization detail, falling back to the
// search summary when the detail cannot be fetched.
func (p *ProPublica) organization(ctx context.Context, s proPublicaSummary) proPublicaOrg {
	log := zap.L().With(zap.String("source", SourceProPublica), zap.Int64("ein", s.EIN))
	key := fmt.Sprintf("propublica:%09d", s.EIN)

	if p.cache != nil {
		data, ok, err := p.cache.GetEntity(ctx, key)
		if err != nil {
			log.Warn("propublica: cache read failed", zap.Error(err))
		}
		if ok {
			var org proPublicaOrg
			if err := json.Unmarshal(data, &org); err == nil {
				return org
			}
		}
	}

	var detail struct {
		Organization proPublicaOrg `json:"organization"`
	}
	u := fmt.Sprintf("%s/organizations/%d.json", p.cfg.URL, s.EIN)
	if err := p.fetch.GetJSON(ctx, u, &detail); err != nil {
		log.Warn("propublica: detail unavailable, using search summary", zap.Error(err))
		return proPublicaOrg{EIN: s.EIN, Name: s.Name, City: s.City, State: s.State, NTEECode: s.NTEECode}
	}
	org := detail.Organization
	if org.EIN == 0 {
		org.EIN = s.EIN
	}
	if org.Name == "" {
		org.Name = s.Name
	}

	if p.cache != nil {
		if data, err := json.Marshal(org); err == nil {
			if err := p.cache.PutEntity(ctx, key, data, p.ttl); err != nil {
				log.Warn("propublica: cache write failed", zap.Error(err))
			}
		}
	}
	return org
}

func proPublicaCandidate(org proPublicaOrg) model.CandidateRecord {
	ein := fmt.Sprintf("%09d", org.EIN)
	c := model.CandidateRecord{
		OpportunityID:    "propublica-" + ein,
		OrganizationName: strings.TrimSpace(org.Name),
		EIN:              formatEIN(ein),
		SourceType:       model.SourceFoundation,
		DiscoverySource:  SourceProPublica,
		WebsiteURL:       org.Website,
		External: model.External{
			Foundation: &model.FoundationDetails{
				NTEECode:     org.NTEECode,
				City:         org.City,
				State:        org.State,
				AssetAmount:  org.AssetAmount,
				IncomeAmount: org.IncomeAmount,
				RulingYear:   rulingYear(org.RulingDate),
			},
		},
	}
	if org.City != "" || org.State != "" {
		c.Description = fmt.Sprintf("Grantmaking organization in %s, %s (NTEE %s)", org.City, org.State, org.NTEECode)
	}
	return c
}

// rulingYear reads the year from "1998-05-01" or "199805".
func rulingYear(s string) int {
	if len(s) < 4 {
		return 0
	}
	y, err := strconv.Atoi(s[:4])
	if err != nil {
		return 0
	}
	return y
}
