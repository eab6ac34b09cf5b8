package discovery

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/fetcher"
	"github.com/sells-group/grant-funnel/internal/model"
)

// SourceGrantsGov is the discovery_source tag for Grants.gov records.
const SourceGrantsGov = "grants_gov"

const grantsGovDateLayout = "01/02/2006"

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

type grantsGovRequest struct {
	Keyword        string `json:"keyword"`
	OppStatuses    string `json:"oppStatuses"`
	SortBy         string `json:"sortBy"`
	Rows           int    `json:"rows"`
	StartRecordNum int    `json:"startRecordNum"`
}

type grantsGovResponse struct {
	ErrorCode int    `json:"errorcode"`
	Msg       string `json:"msg"`
	Data      struct {
		HitCount int            `json:"hitCount"`
		OppHits  []grantsGovHit `json:"oppHits"`
	} `json:"data"`
}

type grantsGovHit struct {
	ID         string   `json:"id"`
	Number     string   `json:"number"`
	Title      string   `json:"title"`
	Agency     string   `json:"agency"`
	AgencyCode string   `json:"agencyCode"`
	OpenDate   string   `json:"openDate"`
	CloseDate  string   `json:"closeDate"`
	OppStatus  string   `json:"oppStatus"`
	DocType    string   `json:"docType"`
	CFDAList   []string `json:"cfdaList"`
}

// GrantsGov searches posted federal opportunities through the search2 API.
type GrantsGov struct {
	cfg   config.GrantsGovConfig
	fetch *fetcher.HTTPFetcher
}

// NewGrantsGov creates a Grants.gov source.
func NewGrantsGov(cfg config.GrantsGovConfig, f *fetcher.HTTPFetcher) *GrantsGov {
	if cfg.Rows <= 0 {
		cfg.Rows = 50
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	return &GrantsGov{cfg: cfg, fetch: f}
}

func (g *GrantsGov) Name() string { return SourceGrantsGov }

func (g *GrantsGov) Discover(ctx context.Context) iter.Seq2[model.CandidateRecord, error] {
	return func(yield func(model.CandidateRecord, error) bool) {
		keywords := g.cfg.Keywords
		if len(keywords) == 0 {
			keywords = []string{""}
		}
		for _, kw := range keywords {
			if !g.search(ctx, kw, yield) {
				return
			}
		}
	}
}

// search pages through one keyword. It returns false when the consumer
// stopped.
func (g *GrantsGov) search(ctx context.Context, keyword string, yield func(model.CandidateRecord, error) bool) bool {
	log := zap.L().With(zap.String("source", SourceGrantsGov), zap.String("keyword", keyword))
	start := 0
	for page := 0; page < g.cfg.MaxPages; page++ {
		req := grantsGovRequest{
			Keyword:        keyword,
			OppStatuses:    "forecasted|posted",
			SortBy:         "openDate|desc",
			Rows:           g.cfg.Rows,
			StartRecordNum: start,
		}
		var resp grantsGovResponse
		if err := g.fetch.PostJSON(ctx, g.cfg.URL, req, &resp); err != nil {
			return yield(model.CandidateRecord{}, eris.Wrapf(err, "grants_gov: search %q", keyword))
		}
		if resp.ErrorCode != 0 {
			return yield(model.CandidateRecord{}, eris.Errorf("grants_gov: api error %d: %s", resp.ErrorCode, resp.Msg))
		}
		log.Debug("grants_gov: page fetched",
			zap.Int("start", start),
			zap.Int("hits", len(resp.Data.OppHits)),
			zap.Int("total", resp.Data.HitCount),
		)

		for _, hit := range resp.Data.OppHits {
			c, ok := grantsGovCandidate(hit, now())
			if !ok {
				continue
			}
			if !yield(c, nil) {
				return false
			}
		}

		start += len(resp.Data.OppHits)
		if len(resp.Data.OppHits) == 0 || start >= resp.Data.HitCount {
			break
		}
	}
	return true
}

// grantsGovCandidate maps a search hit. Hits without a title or whose
// close date has passed are skipped.
func grantsGovCandidate(hit grantsGovHit, at time.Time) (model.CandidateRecord, bool) {
	if strings.TrimSpace(hit.Title) == "" || hit.ID == "" {
		return model.CandidateRecord{}, false
	}
	var deadline string
	if hit.CloseDate != "" {
		if t, err := time.Parse(grantsGovDateLayout, hit.CloseDate); err == nil {
			if t.Add(24 * time.Hour).Before(at) {
				return model.CandidateRecord{}, false
			}
			deadline = t.Format(time.DateOnly)
		}
	}

	// Each notice is its own opportunity, so the title names it; agencies
	// publish many notices and would collapse under name matching.
	desc := "Federal funding notice from " + hit.Agency
	if len(hit.CFDAList) > 0 {
		desc = fmt.Sprintf("%s (CFDA %s)", desc, strings.Join(hit.CFDAList, ", "))
	}
	return model.CandidateRecord{
		OpportunityID:       "grants-gov-" + hit.ID,
		OrganizationName:    strings.TrimSpace(hit.Title),
		SourceType:          model.SourceGovernment,
		DiscoverySource:     SourceGrantsGov,
		Description:         desc,
		ApplicationDeadline: deadline,
		WebsiteURL:          "https://www.grants.gov/search-results-detail/" + hit.ID,
		External: model.External{
			Government: &model.GovernmentDetails{
				Agency:            hit.Agency,
				AgencyCode:        hit.AgencyCode,
				OpportunityNumber: hit.Number,
				CFDA:              hit.CFDAList,
				Status:            hit.OppStatus,
				OpenDate:          hit.OpenDate,
			},
			Extra: map[string]any{"doc_type": hit.DocType},
		},
	}, true
}
