package discovery

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/fetcher"
	"github.com/sells-group/grant-funnel/internal/model"
)

// SourceBMF is the discovery_source tag for Business Master File records.
const SourceBMF = "irs_bmf"

// Foundation codes for private foundations in the BMF FOUNDATION column.
var privateFoundationCodes = []string{"02", "03", "04"}

// BMF scans an IRS Exempt Organizations Business Master File extract.
// The file may be served over http(s), ftp or read from disk.
type BMF struct {
	cfg   config.BMFConfig
	files fetcher.Fetcher
}

// NewBMF creates a Business Master File source.
func NewBMF(cfg config.BMFConfig, files fetcher.Fetcher) *BMF {
	cfg.States = upperAll(cfg.States)
	cfg.NTEEPrefixes = upperAll(cfg.NTEEPrefixes)
	return &BMF{cfg: cfg, files: files}
}

func (b *BMF) Name() string { return SourceBMF }

func (b *BMF) Discover(ctx context.Context) iter.Seq2[model.CandidateRecord, error] {
	return func(yield func(model.CandidateRecord, error) bool) {
		body, err := b.files.Download(ctx, b.cfg.URL)
		if err != nil {
			yield(model.CandidateRecord{}, eris.Wrapf(err, "irs_bmf: download %s", b.cfg.URL))
			return
		}
		defer body.Close() //nolint:errcheck

		var scanned, emitted int
		for rec, err := range fetcher.CSVRecords(ctx, body, fetcher.CSVOptions{TrimSpace: true, LazyQuotes: true}) {
			if err != nil {
				if !yield(model.CandidateRecord{}, err) {
					return
				}
				continue
			}
			scanned++
			if !b.keep(rec) {
				continue
			}
			c, ok := bmfCandidate(rec)
			if !ok {
				continue
			}
			if !yield(c, nil) {
				return
			}
			emitted++
			if b.cfg.Limit > 0 && emitted >= b.cfg.Limit {
				break
			}
		}
		zap.L().Info("irs_bmf: scan complete", zap.Int("scanned", scanned), zap.Int("emitted", emitted))
	}
}

func (b *BMF) keep(rec map[string]string) bool {
	if len(b.cfg.States) > 0 && !slices.Contains(b.cfg.States, strings.ToUpper(rec["state"])) {
		return false
	}
	if len(b.cfg.NTEEPrefixes) > 0 {
		ntee := strings.ToUpper(rec["ntee_cd"])
		if !slices.ContainsFunc(b.cfg.NTEEPrefixes, func(p string) bool { return strings.HasPrefix(ntee, p) }) {
			return false
		}
	}
	return true
}

func bmfCandidate(rec map[string]string) (model.CandidateRecord, bool) {
	ein := formatEIN(rec["ein"])
	name := rec["name"]
	if len(strings.ReplaceAll(ein, "-", "")) != 9 || name == "" {
		return model.CandidateRecord{}, false
	}

	st := model.SourceNonprofit
	if slices.Contains(privateFoundationCodes, rec["foundation"]) {
		st = model.SourceFoundation
	}
	assets, _ := strconv.ParseInt(rec["asset_amt"], 10, 64)
	income, _ := strconv.ParseInt(rec["income_amt"], 10, 64)

	return model.CandidateRecord{
		OpportunityID:    "irs-bmf-" + strings.ReplaceAll(ein, "-", ""),
		OrganizationName: name,
		EIN:              ein,
		SourceType:       st,
		DiscoverySource:  SourceBMF,
		Description:      fmt.Sprintf("Exempt organization in %s, %s (NTEE %s)", rec["city"], rec["state"], rec["ntee_cd"]),
		External: model.External{
			Foundation: &model.FoundationDetails{
				NTEECode:     rec["ntee_cd"],
				City:         rec["city"],
				State:        rec["state"],
				AssetAmount:  assets,
				IncomeAmount: income,
				RulingYear:   rulingYear(rec["ruling"]),
			},
		},
	}, true
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
