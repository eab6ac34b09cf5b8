// Package discovery produces candidate funding opportunities from
// Grants.gov, ProPublica Nonprofit Explorer, the IRS Business Master File
// and staff-maintained spreadsheets.
package discovery

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/dedup"
	"github.com/sells-group/grant-funnel/internal/fetcher"
	"github.com/sells-group/grant-funnel/internal/model"
	"github.com/sells-group/grant-funnel/internal/store"
)

// Source yields candidate records. Each call to Discover starts a fresh
// sequence; per-item errors are yielded and the sequence continues.
type Source interface {
	Name() string
	Discover(ctx context.Context) iter.Seq2[model.CandidateRecord, error]
}

// SourceStats counts what one source produced during Collect.
type SourceStats struct {
	Source     string `json:"source"`
	Candidates int    `json:"candidates"`
	Duplicates int    `json:"duplicates"`
	Errors     int    `json:"errors"`
}

// Collect drains every source concurrently. Records repeating an
// opportunity id already seen from the same discovery source are dropped.
// Output order follows the order of sources, then each source's order.
func Collect(ctx context.Context, sources []Source, limit int) ([]model.CandidateRecord, []SourceStats, error) {
	if limit <= 0 {
		limit = 4
	}
	perSource := make([][]model.CandidateRecord, len(sources))
	stats := make([]SourceStats, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, src := range sources {
		g.Go(func() error {
			log := zap.L().With(zap.String("source", src.Name()))
			stats[i].Source = src.Name()
			for c, err := range src.Discover(gctx) {
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					stats[i].Errors++
					log.Warn("discovery: skipping record", zap.Error(err))
					continue
				}
				ScreenWebsite(&c, DirectoryHosts)
				perSource[i] = append(perSource[i], c)
			}
			log.Info("discovery: source drained", zap.Int("candidates", len(perSource[i])))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	seen := make(map[string]bool)
	var out []model.CandidateRecord
	for i, batch := range perSource {
		for _, c := range batch {
			key := dedup.BatchKey(c)
			if seen[key] {
				stats[i].Duplicates++
				continue
			}
			seen[key] = true
			stats[i].Candidates++
			out = append(out, c)
		}
	}
	return out, stats, nil
}

// Deps are the shared collaborators sources are built from.
type Deps struct {
	HTTP  *fetcher.HTTPFetcher
	Files fetcher.Fetcher
	Cache store.EntityCache
}

// FromConfig builds the enabled sources in a fixed order.
func FromConfig(cfg config.DiscoveryConfig, deps Deps) []Source {
	ttl := time.Duration(cfg.CacheTTLHours) * time.Hour
	var out []Source
	if cfg.GrantsGov.Enabled {
		out = append(out, NewGrantsGov(cfg.GrantsGov, deps.HTTP))
	}
	if cfg.ProPublica.Enabled {
		out = append(out, NewProPublica(cfg.ProPublica, deps.HTTP, deps.Cache, ttl))
	}
	if cfg.BMF.Enabled {
		out = append(out, NewBMF(cfg.BMF, deps.Files))
	}
	if cfg.Spreadsheet.Enabled {
		out = append(out, NewSpreadsheet(cfg.Spreadsheet))
	}
	return out
}

// HostRates maps each configured API host to its requests-per-second
// budget, for fetcher.HTTPOptions.
func HostRates(cfg config.DiscoveryConfig) map[string]float64 {
	out := make(map[string]float64)
	for raw, r := range map[string]float64{
		cfg.GrantsGov.URL:  cfg.GrantsGov.RateLimit,
		cfg.ProPublica.URL: cfg.ProPublica.RateLimit,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || r <= 0 {
			continue
		}
		out[u.Host] = r
	}
	return out
}

// Select keeps the named sources. An empty names list keeps all of them.
func Select(sources []Source, names []string) []Source {
	if len(names) == 0 {
		return sources
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(strings.TrimSpace(n))] = true
	}
	var out []Source
	for _, s := range sources {
		if want[s.Name()] {
			out = append(out, s)
		}
	}
	return out
}

// parseAmount reads "$25,000" or "25000.00" as whole dollars.
func parseAmount(s string) *int64 {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return nil
	}
	v := int64(f)
	return &v
}

// parseScore reads a 0..1 score, accepting 0..100 percentages.
func parseScore(s string) *float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return nil
	}
	if f > 1 {
		f /= 100
	}
	f = min(f, 1)
	return &f
}

// formatEIN renders nine digits as "12-3456789".
func formatEIN(ein string) string {
	d := dedup.NormalizeEIN(ein)
	if len(d) == 8 {
		d = "0" + d
	}
	if len(d) != 9 {
		return d
	}
	return d[:2] + "-" + d[2:]
}
