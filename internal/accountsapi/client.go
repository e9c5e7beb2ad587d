// Package accountsapi talks to the remote multi-account balances API and
// provides the batching executor that splits oversized request sets into
// sequential chunks.
package accountsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/walletkit/multichain-balances/internal/circuitbreaker"
	"github.com/walletkit/multichain-balances/internal/metrics"
	"github.com/walletkit/multichain-balances/internal/ratelimit"
	"github.com/walletkit/multichain-balances/internal/retry"
)

const (
	balancesPath = "/v2/accounts/balances"

	// DefaultBatchSize is the largest account-reference set the upstream
	// accepts in one call.
	DefaultBatchSize = 50

	defaultMaxAttempts = 3
	defaultRetryDelay  = 200 * time.Millisecond
	limiterTarget      = "accounts_api"
)

// Client fetches balances for a set of account references.
type Client interface {
	GetBalances(ctx context.Context, accountRefs []string) (*BalancesResponse, error)
}

// HTTPClient is the production Client: rate limited, circuit broken, with
// bounded retries on transient failures.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *ratelimit.Limiter
	breaker     *circuitbreaker.Breaker
	maxAttempts int
	logger      *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// Config configures an HTTPClient. Zero values take the defaults.
type Config struct {
	BaseURL     string
	RPS         float64
	Burst       int
	MaxAttempts int
	Timeout     time.Duration
}

func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		OnStateChange: func(from, to circuitbreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(limiterTarget).Set(float64(to))
			logger.Warn("accounts api circuit breaker state changed",
				"from", from.String(), "to", to.String())
		},
	})

	return &HTTPClient{
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     ratelimit.NewLimiter(cfg.RPS, cfg.Burst, limiterTarget),
		breaker:     breaker,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger.With("component", "accountsapi"),
	}
}

// GetBalances issues one balances call for up to the upstream's batch
// limit of account references. Transient failures are retried; terminal
// ones surface immediately.
func (c *HTTPClient) GetBalances(ctx context.Context, accountRefs []string) (*BalancesResponse, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	var resp *BalancesResponse
	err := retry.Do(ctx, c.maxAttempts, defaultRetryDelay, func() error {
		var callErr error
		resp, callErr = c.call(ctx, accountRefs)
		return callErr
	})

	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	c.breaker.RecordSuccess()
	return resp, nil
}

func (c *HTTPClient) call(ctx context.Context, accountRefs []string) (*BalancesResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(balancesRequest{AccountAddresses: accountRefs})
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+balancesPath, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	metrics.UpstreamCallDuration.WithLabelValues("get_balances").Observe(time.Since(start).Seconds())
	ratelimit.RecordCall("get_balances", err)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: httpResp.StatusCode, Body: truncate(string(respBody), 512)}
		if retry.ClassifyHTTPStatus(httpResp.StatusCode).IsTransient() {
			return nil, retry.Transient(apiErr)
		}
		return nil, retry.Terminal(apiErr)
	}

	var resp BalancesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, retry.Terminal(fmt.Errorf("unmarshal response: %w", err))
	}

	c.logger.Debug("fetched balances",
		"requested", len(accountRefs),
		"returned", len(resp.Balances),
		"unprocessed_networks", len(resp.UnprocessedNetworks),
	)

	return &resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
