package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/walletkit/multichain-balances/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket rate limiter for upstream calls.
type Limiter struct {
	limiter *rate.Limiter
	target  string
}

// NewLimiter creates a rate limiter that allows rps requests per second
// with a burst capacity of burst tokens. target labels the metric series
// (e.g. "accounts_api", "staking_rpc").
func NewLimiter(rps float64, burst int, target string) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		target:  target,
	}
}

// Wait blocks until the limiter allows one event, or ctx is done.
// Uses Reserve() to guarantee exactly one token is consumed per call.
func (l *Limiter) Wait(ctx context.Context) error {
	r := l.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay > 0 {
		metrics.RateLimitWaits.WithLabelValues(l.target).Inc()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	return nil
}

// RecordCall records an upstream call metric with status classification.
func RecordCall(method string, err error) {
	status := ClassifyError(err)
	metrics.UpstreamCallsTotal.WithLabelValues(method, status).Inc()
}

// ClassifyError classifies an upstream error into a category.
func ClassifyError(err error) string {
	if err == nil {
		return "ok"
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return "rate_limited"
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "internal server error"):
		return "server_error"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "network is unreachable") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "broken pipe") || strings.Contains(lower, "eof"):
		return "network_error"
	default:
		return "client_error"
	}
}
