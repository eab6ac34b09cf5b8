// Package cascade runs the three scoring stages (validation, strategic and
// detailed) over batches of candidates. A stage never fails as a whole:
// every candidate whose call fails or is missing from the response gets a
// deterministic fallback analysis.
package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/grant-funnel/internal/completion"
	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/cost"
	"github.com/sells-group/grant-funnel/internal/metrics"
	"github.com/sells-group/grant-funnel/internal/model"
)

// Stage names used for completion requests, breakers and metrics.
const (
	StageValidation = "validation"
	StageStrategic  = "strategic"
	StageDetailed   = "detailed"
)

// MaxBatchSize bounds the candidates sent in one completion call.
const MaxBatchSize = 20

// Config tunes the cascade.
type Config struct {
	BatchSize   int
	Concurrency int

	ValidationModel string
	StrategicModel  string
	DetailedModel   string

	MissionWeight float64
	LocalWeight   float64
	Thresholds    Thresholds

	EnrichCostUSD float64
}

// Thresholds decide the promotion flags of a detailed analysis.
type Thresholds struct {
	AutoPromoteScore      float64
	AutoPromoteConfidence float64
	RecommendScore        float64
}

// FromConfig builds the cascade config from the application config.
func FromConfig(cfg *config.Config) Config {
	return Config{
		BatchSize:       cfg.Cascade.BatchSize,
		Concurrency:     cfg.Cascade.Concurrency,
		ValidationModel: cfg.Anthropic.ValidationModel,
		StrategicModel:  cfg.Anthropic.StrategicModel,
		DetailedModel:   cfg.Anthropic.DetailedModel,
		MissionWeight:   cfg.Funnel.MissionWeight,
		LocalWeight:     cfg.Funnel.LocalWeight,
		Thresholds: Thresholds{
			AutoPromoteScore:      cfg.Funnel.AutoPromoteScore,
			AutoPromoteConfidence: cfg.Funnel.AutoPromoteConfidence,
			RecommendScore:        cfg.Funnel.RecommendScore,
		},
		EnrichCostUSD: cfg.Enrich.CostUSD,
	}
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 || c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MissionWeight == 0 && c.LocalWeight == 0 {
		c.MissionWeight, c.LocalWeight = 0.6, 0.4
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = Thresholds{AutoPromoteScore: 0.80, AutoPromoteConfidence: 0.70, RecommendScore: 0.65}
	}
	return c
}

// Enricher extracts web intelligence from a funder's website.
type Enricher interface {
	Enrich(ctx context.Context, url string) (*model.WebIntelligence, error)
}

// Input is one candidate entering the cascade. ID is the key that links
// the candidate's analyses across stages.
type Input struct {
	ID        string
	Candidate model.CandidateRecord
}

// Cascade holds the shared collaborators of the three stages.
type Cascade struct {
	cfg      Config
	svc      completion.Service
	calc     *cost.Calculator
	enricher Enricher
	metrics  *metrics.Metrics
}

// New creates a cascade. calc, enricher and m may be nil.
func New(svc completion.Service, calc *cost.Calculator, enricher Enricher, m *metrics.Metrics, cfg Config) *Cascade {
	if calc == nil {
		calc = cost.NewCalculator(config.PricingConfig{})
	}
	return &Cascade{
		cfg:      cfg.withDefaults(),
		svc:      svc,
		calc:     calc,
		enricher: enricher,
		metrics:  m,
	}
}

// batchFunc makes one completion call for a batch and returns the parsed
// analyses keyed by input ID.
type batchFunc[T any] func(ctx context.Context, batch []Input) Result[map[string]T]

// runBatches splits inputs into batches, runs them concurrently and
// returns one result per input. Inputs missing from a successful response
// get a malformed failure.
func runBatches[T any](ctx context.Context, c *Cascade, stage string, inputs []Input, call batchFunc[T]) map[string]Result[T] {
	out := make(map[string]Result[T], len(inputs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for start := 0; start < len(inputs); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(inputs))
		batch := inputs[start:end]
		g.Go(func() error {
			res := call(gctx, batch)
			values, ok := res.Value()

			mu.Lock()
			defer mu.Unlock()
			for _, in := range batch {
				switch v, found := values[in.ID]; {
				case !ok:
					out[in.ID] = Failed[T](res.Failure())
				case !found:
					out[in.ID] = Failed[T](completion.Fail(stage, completion.KindMalformed,
						eris.Errorf("cascade: no analysis for %s", in.ID)))
				default:
					out[in.ID] = Ok(v)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// complete sends one batch prompt and decodes the response items.
func complete[R any](ctx context.Context, c *Cascade, stage, model, system string, items any) ([]R, *completion.Response, *completion.CallFailure) {
	payload, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, nil, completion.Fail(stage, completion.KindMalformed, eris.Wrap(err, "cascade: encode batch"))
	}
	resp, err := c.svc.Complete(ctx, completion.Request{
		Stage:  stage,
		Model:  model,
		System: system,
		Prompt: fmt.Sprintf("Candidates:\n%s", payload),
	})
	if err != nil {
		return nil, nil, completion.AsFailure(stage, err)
	}
	parsed, err := decodeAnalyses[R](resp.Content)
	if err != nil {
		return nil, resp, completion.Fail(stage, completion.KindMalformed, err)
	}
	return parsed, resp, nil
}

// recordFallback logs and counts a candidate that got a fallback analysis.
func (c *Cascade) recordFallback(stage, id string, f *completion.CallFailure) {
	c.metrics.RecordFallback(stage, string(f.Kind))
	zap.L().Warn("cascade: fallback analysis",
		zap.String("stage", stage),
		zap.String("opportunity_id", id),
		zap.String("kind", string(f.Kind)),
		zap.Error(f.Err),
	)
}

func stageLog(stage string, n int, started time.Time, fallbacks int) {
	zap.L().Info("cascade: stage complete",
		zap.String("stage", stage),
		zap.Int("candidates", n),
		zap.Int("fallbacks", fallbacks),
		zap.Duration("elapsed", time.Since(started)),
	)
}
