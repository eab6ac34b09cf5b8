package discovery

import (
	"context"
	"iter"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/dedup"
	"github.com/sells-group/grant-funnel/internal/fetcher"
	"github.com/sells-group/grant-funnel/internal/model"
)

// SourceSpreadsheet is the discovery_source tag for staff-maintained lists.
const SourceSpreadsheet = "spreadsheet"

// Header aliases accepted for each candidate field, in preference order.
var (
	colName        = []string{"funder_name", "organization_name", "foundation", "name"}
	colID          = []string{"opportunity_id", "id"}
	colEIN         = []string{"ein", "tax_id"}
	colWebsite     = []string{"website", "website_url", "url"}
	colDescription = []string{"description", "notes", "focus"}
	colAmount      = []string{"funding_amount", "max_award", "amount"}
	colDeadline    = []string{"application_deadline", "deadline"}
	colSourceType  = []string{"source_type", "type"}
	colLocalScore  = []string{"local_score", "fit_score"}
	colState       = []string{"state"}
	colNTEE        = []string{"ntee_code", "ntee"}
)

// Spreadsheet reads a foundation list maintained by staff as XLSX.
type Spreadsheet struct {
	cfg config.SpreadsheetConfig
}

// NewSpreadsheet creates a spreadsheet source.
func NewSpreadsheet(cfg config.SpreadsheetConfig) *Spreadsheet {
	return &Spreadsheet{cfg: cfg}
}

func (s *Spreadsheet) Name() string { return SourceSpreadsheet }

func (s *Spreadsheet) Discover(ctx context.Context) iter.Seq2[model.CandidateRecord, error] {
	return func(yield func(model.CandidateRecord, error) bool) {
		if s.cfg.Path == "" {
			yield(model.CandidateRecord{}, eris.New("spreadsheet: path is required"))
			return
		}
		n := 0
		for rec, err := range fetcher.XLSXRecords(ctx, s.cfg.Path, fetcher.XLSXOptions{SheetName: s.cfg.Sheet}) {
			n++
			if err != nil {
				if !yield(model.CandidateRecord{}, err) {
					return
				}
				continue
			}
			c, err := spreadsheetCandidate(rec)
			if err != nil {
				if !yield(model.CandidateRecord{}, eris.Wrapf(err, "spreadsheet: record %d", n)) {
					return
				}
				continue
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}

func spreadsheetCandidate(rec map[string]string) (model.CandidateRecord, error) {
	c := model.CandidateRecord{
		OpportunityID:       pick(rec, colID),
		OrganizationName:    pick(rec, colName),
		SourceType:          model.SourceType(strings.ToLower(pick(rec, colSourceType))),
		DiscoverySource:     SourceSpreadsheet,
		Description:         pick(rec, colDescription),
		FundingAmount:       parseAmount(pick(rec, colAmount)),
		ApplicationDeadline: pick(rec, colDeadline),
		WebsiteURL:          pick(rec, colWebsite),
		LocalScore:          parseScore(pick(rec, colLocalScore)),
	}
	if ein := pick(rec, colEIN); ein != "" {
		c.EIN = formatEIN(ein)
	}
	if !c.SourceType.Valid() {
		c.SourceType = model.SourceFoundation
	}
	if err := c.Validate(); err != nil {
		return model.CandidateRecord{}, err
	}
	if c.OpportunityID == "" {
		c.OpportunityID = spreadsheetID(c)
	}
	if st, ntee := pick(rec, colState), pick(rec, colNTEE); st != "" || ntee != "" {
		c.External.Foundation = &model.FoundationDetails{State: st, NTEECode: ntee}
	}
	return c, nil
}

// spreadsheetID derives a stable id from the EIN or the normalized name.
func spreadsheetID(c model.CandidateRecord) string {
	if d := dedup.NormalizeEIN(c.EIN); d != "" {
		return "sheet-" + d
	}
	return "sheet-" + strings.ReplaceAll(dedup.Normalize(c.OrganizationName), " ", "-")
}

func pick(rec map[string]string, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(rec[k]); v != "" {
			return v
		}
	}
	return ""
}
