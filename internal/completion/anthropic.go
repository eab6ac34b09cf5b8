package completion

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/cost"
	"github.com/sells-group/grant-funnel/internal/metrics"
	"github.com/sells-group/grant-funnel/internal/resilience"
	"github.com/sells-group/grant-funnel/pkg/anthropic"
)

// Options configures an AnthropicService.
type Options struct {
	Timeout   time.Duration
	MaxTokens int64
	Retry     resilience.RetryConfig
	Breaker   resilience.CircuitBreakerConfig
	Metrics   *metrics.Metrics
	Tracker   *cost.Tracker
}

// AnthropicService completes prompts with Claude. Each call is bounded by
// the timeout, retried on rate limits and transport errors, and guarded by
// a circuit breaker per stage.
type AnthropicService struct {
	client   anthropic.Client
	calc     *cost.Calculator
	opts     Options
	breakers *resilience.Breakers
}

// NewAnthropicService wires the client with its resilience policy.
func NewAnthropicService(client anthropic.Client, calc *cost.Calculator, opts Options) *AnthropicService {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	retry := opts.Retry
	retry.ShouldRetry = func(err error) bool {
		var f *CallFailure
		return errors.As(err, &f) && f.Retryable()
	}
	opts.Retry = retry

	breaker := opts.Breaker
	breaker.ShouldTrip = func(err error) bool {
		var f *CallFailure
		if !errors.As(err, &f) {
			return err != nil
		}
		return f.Kind != KindMalformed
	}

	return &AnthropicService{
		client:   client,
		calc:     calc,
		opts:     opts,
		breakers: resilience.NewBreakers(breaker),
	}
}

// Complete sends req and returns the model's text. Failures are returned
// as *CallFailure.
func (s *AnthropicService) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.opts.MaxTokens
	}
	msgReq := anthropic.MessageRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: req.Prompt}},
	}
	if req.System != "" {
		msgReq.System = anthropic.CachedSystem(req.System)
	}

	retry := s.opts.Retry
	retry.OnRetry = resilience.RetryLogger("anthropic", req.Stage)

	start := time.Now()
	resp, err := resilience.ExecuteVal(ctx, s.breakers.Get(req.Stage), func(ctx context.Context) (*Response, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (*Response, error) {
			return s.call(ctx, req, msgReq)
		})
	})
	elapsed := time.Since(start)

	if err != nil {
		f := AsFailure(req.Stage, err)
		if ctx.Err() == context.DeadlineExceeded {
			f = Fail(req.Stage, KindTimeout, err)
		}
		s.opts.Metrics.RecordCompletion(req.Stage, string(f.Kind), elapsed, 0)
		zap.L().Warn("completion: call failed",
			zap.String("stage", req.Stage),
			zap.String("model", req.Model),
			zap.String("kind", string(f.Kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, f
	}

	s.opts.Metrics.RecordCompletion(req.Stage, "ok", elapsed, resp.CostUSD)
	if s.opts.Tracker != nil {
		s.opts.Tracker.Add(resp.CostUSD)
	}
	zap.L().Debug("completion: call succeeded",
		zap.String("stage", req.Stage),
		zap.String("model", resp.Model),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.Int64("cache_read_tokens", resp.Usage.CacheReadInputTokens),
		zap.Float64("cost_usd", resp.CostUSD),
		zap.Duration("elapsed", elapsed),
	)
	return resp, nil
}

func (s *AnthropicService) call(ctx context.Context, req Request, msgReq anthropic.MessageRequest) (*Response, error) {
	msg, err := s.client.CreateMessage(ctx, msgReq)
	if err != nil {
		return nil, AsFailure(req.Stage, err)
	}

	model := msg.Model
	if model == "" {
		model = req.Model
	}
	out := &Response{
		Content: strings.TrimSpace(msg.Text()),
		Model:   model,
		Usage:   msg.Usage,
		CostUSD: s.calc.Usage(model, msg.Usage),
	}
	if out.Content == "" {
		return nil, Fail(req.Stage, KindMalformed, eris.New("empty response"))
	}
	return out, nil
}

// Estimate prices a planned call for budget checks.
func (s *AnthropicService) Estimate(model, prompt string, outputTokens int64) float64 {
	return s.calc.Estimate(model, cost.EstimateTokens(prompt), outputTokens)
}

// BreakerStates reports the circuit state of every stage seen so far.
func (s *AnthropicService) BreakerStates() map[string]resilience.CircuitState {
	return s.breakers.States()
}
