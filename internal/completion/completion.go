// Package completion is the boundary between the scoring cascade and the
// language model. Every failure leaving this package is a *CallFailure.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sells-group/grant-funnel/internal/resilience"
	"github.com/sells-group/grant-funnel/pkg/anthropic"
)

// Request is one completion call made by a cascade stage.
type Request struct {
	Stage     string
	Model     string
	System    string
	Prompt    string
	MaxTokens int64
}

// Response is the text returned by the model plus what it cost.
type Response struct {
	Content string
	Model   string
	Usage   anthropic.TokenUsage
	CostUSD float64
}

// Service completes prompts.
type Service interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// FailureKind classifies an external call failure.
type FailureKind string

const (
	KindRateLimited FailureKind = "rate_limited"
	KindAuth        FailureKind = "auth"
	KindTimeout     FailureKind = "timeout"
	KindTransport   FailureKind = "transport"
	KindMalformed   FailureKind = "malformed"
	KindCircuitOpen FailureKind = "circuit_open"
)

// CallFailure is a failed completion call. Stages turn it into a fallback
// analysis rather than returning it.
type CallFailure struct {
	Kind  FailureKind
	Stage string
	Err   error
}

func (f *CallFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("completion: %s %s", f.Stage, f.Kind)
	}
	return fmt.Sprintf("completion: %s %s: %v", f.Stage, f.Kind, f.Err)
}

func (f *CallFailure) Unwrap() error { return f.Err }

// Retryable reports whether another attempt could succeed.
func (f *CallFailure) Retryable() bool {
	switch f.Kind {
	case KindRateLimited, KindTimeout:
		return true
	case KindTransport:
		code, ok := anthropic.StatusCode(f.Err)
		return !ok || resilience.IsTransientStatus(code) || code == 529
	default:
		return false
	}
}

// Fail builds a CallFailure of the given kind.
func Fail(stage string, kind FailureKind, err error) *CallFailure {
	return &CallFailure{Kind: kind, Stage: stage, Err: err}
}

// AsFailure returns err as a *CallFailure, classifying it when it is not
// one already.
func AsFailure(stage string, err error) *CallFailure {
	if err == nil {
		return nil
	}
	var f *CallFailure
	if errors.As(err, &f) {
		return f
	}
	return Fail(stage, classify(err), err)
}

func classify(err error) FailureKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, resilience.ErrCircuitOpen):
		return KindCircuitOpen
	}
	if code, ok := anthropic.StatusCode(err); ok {
		switch code {
		case http.StatusTooManyRequests:
			return KindRateLimited
		case http.StatusUnauthorized, http.StatusForbidden:
			return KindAuth
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return KindTimeout
		}
	}
	return KindTransport
}
