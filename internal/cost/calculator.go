// Package cost prices completion calls and tracks spend for a run.
package cost

import (
	"sync"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/pkg/anthropic"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64
	Output        float64
	CacheWriteMul float64
	CacheReadMul  float64
}

// DefaultRates returns list prices for the models the cascade uses.
func DefaultRates() map[string]ModelRate {
	return map[string]ModelRate{
		"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"claude-opus-4-6":            {Input: 15.00, Output: 75.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
	}
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates map[string]ModelRate
}

// NewCalculator creates a Calculator from the pricing section. Configured
// models override the defaults.
func NewCalculator(pricing config.PricingConfig) *Calculator {
	rates := DefaultRates()
	for model, p := range pricing.Anthropic {
		r := ModelRate{Input: p.Input, Output: p.Output, CacheWriteMul: p.CacheWriteMul, CacheReadMul: p.CacheReadMul}
		if r.CacheWriteMul == 0 {
			r.CacheWriteMul = 1.25
		}
		if r.CacheReadMul == 0 {
			r.CacheReadMul = 0.1
		}
		rates[model] = r
	}
	return &Calculator{rates: rates}
}

// Usage returns the USD cost of a completed call. Unknown models cost 0.
func (c *Calculator) Usage(model string, u anthropic.TokenUsage) float64 {
	rate, ok := c.rates[model]
	if !ok {
		return 0
	}
	perTok := func(n int64, price float64) float64 { return float64(n) / 1e6 * price }
	return perTok(u.InputTokens, rate.Input) +
		perTok(u.OutputTokens, rate.Output) +
		perTok(u.CacheCreationInputTokens, rate.Input*rate.CacheWriteMul) +
		perTok(u.CacheReadInputTokens, rate.Input*rate.CacheReadMul)
}

// Estimate prices a planned call from rough token counts.
func (c *Calculator) Estimate(model string, inputTokens, outputTokens int64) float64 {
	return c.Usage(model, anthropic.TokenUsage{InputTokens: inputTokens, OutputTokens: outputTokens})
}

// EstimateTokens approximates the token count of text at four bytes per
// token.
func EstimateTokens(text string) int64 {
	return int64(len(text)+3) / 4
}

// Tracker accumulates spend across concurrent calls.
type Tracker struct {
	mu    sync.Mutex
	total float64
	calls int
}

// Add records one call.
func (t *Tracker) Add(usd float64) {
	t.mu.Lock()
	t.total += usd
	t.calls++
	t.mu.Unlock()
}

// Total returns the accumulated cost and call count.
func (t *Tracker) Total() (usd float64, calls int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, t.calls
}
