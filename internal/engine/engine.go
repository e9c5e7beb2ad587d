// Package engine reconciles multi-chain balances: it sources balances
// from the accounts API in batches, normalizes them to exact minor-unit
// integers, guarantees a complete result set (authoritative zeros for
// anything the upstream omitted), merges staking positions and decides
// overall success or failure for the caller's fallback logic.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/walletkit/multichain-balances/internal/accountsapi"
	"github.com/walletkit/multichain-balances/internal/caip"
	"github.com/walletkit/multichain-balances/internal/convert"
	"github.com/walletkit/multichain-balances/internal/domain/model"
	"github.com/walletkit/multichain-balances/internal/metrics"
	"github.com/walletkit/multichain-balances/internal/tokentracker"
	"github.com/walletkit/multichain-balances/internal/tracing"
)

// ErrUpstreamFetch signals that the accounts API call failed or timed out
// as a whole. Callers catch it to fall back to direct chain RPC sourcing;
// a degraded-but-wrong partial result would be worse than this signal.
var ErrUpstreamFetch = errors.New("accounts api balance fetch failed")

const defaultFetchTimeout = 10 * time.Second

// StakingResolver is the optional staked-balance source. Failures are
// isolated inside the resolver; it never fails the fetch.
type StakingResolver interface {
	FetchStaked(ctx context.Context, accountRefs []string) []model.ProcessedBalance
}

// Config configures an Engine.
type Config struct {
	// SupportedChains is the static list of hex chain ids this engine
	// answers for. Requests for other chains are silently filtered.
	SupportedChains []string
	// BatchSize caps account references per upstream call.
	BatchSize int
	// FetchTimeout bounds one whole Fetch, chunked calls included.
	FetchTimeout time.Duration
}

// FetchRequest describes one balance fetch.
type FetchRequest struct {
	ChainIDs         []string
	QueryAllAccounts bool
	SelectedAccount  string
	AllAccounts      []string
}

// Engine is the balance fetcher. Safe for concurrent use; it holds no
// cross-call state beyond its configuration.
type Engine struct {
	cfg       Config
	supported map[string]struct{}
	client    accountsapi.Client
	staking   StakingResolver
	tracked   tokentracker.Accessor
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates an Engine. staking and tracked may be nil: a nil staking
// resolver skips staked balances, a nil tracked accessor disables the
// tracked-token zero-fill guarantee.
func New(cfg Config, client accountsapi.Client, staking StakingResolver, tracked tokentracker.Accessor, logger *slog.Logger) *Engine {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	supported := make(map[string]struct{}, len(cfg.SupportedChains))
	for _, chainID := range cfg.SupportedChains {
		supported[strings.ToLower(chainID)] = struct{}{}
	}
	return &Engine{
		cfg:       cfg,
		supported: supported,
		client:    client,
		staking:   staking,
		tracked:   tracked,
		logger:    logger.With("component", "engine"),
		tracer:    tracing.Tracer("balances-engine"),
	}
}

// Supports reports whether the engine answers for the given hex chain id.
func (e *Engine) Supports(chainIDHex string) bool {
	_, ok := e.supported[strings.ToLower(chainIDHex)]
	return ok
}

// Fetch resolves balances for the requested chains and accounts. The
// result contains exactly one entry per (account, token, chain) present
// in the upstream response or owed by the completeness guarantees.
func (e *Engine) Fetch(ctx context.Context, req FetchRequest) (*model.FetchResult, error) {
	start := time.Now()
	logger := e.logger.With("request_id", uuid.NewString())

	ctx, span := e.tracer.Start(ctx, "engine.Fetch", trace.WithAttributes(
		attribute.Int("request.chains", len(req.ChainIDs)),
		attribute.Bool("request.all_accounts", req.QueryAllAccounts),
	))
	defer span.End()

	chains := e.filterSupported(req.ChainIDs)
	accounts := req.accounts()
	refs, pairs := e.buildAccountRefs(chains, accounts, logger)
	if len(chains) == 0 || len(refs) == 0 {
		// Nothing supported to ask for: a deliberate no-op, not an error.
		metrics.FetchesTotal.WithLabelValues("noop").Inc()
		return &model.FetchResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	// The staking reads and the API conversion have no data dependency on
	// each other; they are the only two concurrent legs.
	var (
		staked    []model.ProcessedBalance
		converted []model.ProcessedBalance
		seen      seenSet
		agg       *accountsapi.Aggregate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if e.staking == nil {
			return nil
		}
		staked = e.staking.FetchStaked(gctx, refs)
		return nil
	})
	g.Go(func() error {
		var err error
		agg, err = accountsapi.FetchAll(gctx, e.client, refs, e.cfg.BatchSize, logger)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUpstreamFetch, err)
		}
		converted, seen = e.convertRecords(agg.Records, logger)
		return nil
	})
	if err := g.Wait(); err != nil {
		metrics.FetchesTotal.WithLabelValues("error").Inc()
		logger.Error("balance fetch failed", "error", err)
		return nil, err
	}

	balances := converted
	balances = append(balances, e.fillNative(pairs, seen)...)
	balances = append(balances, e.fillTrackedTokens(ctx, pairs, seen, logger)...)
	balances = append(balances, staked...)

	metrics.FetchesTotal.WithLabelValues("ok").Inc()
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	logger.Info("balance fetch completed",
		"chains", len(chains),
		"accounts", len(accounts),
		"balances", len(balances),
		"staked", len(staked),
		"unprocessed_chains", len(agg.UnprocessedChainIDs),
	)

	return &model.FetchResult{
		Balances:            balances,
		UnprocessedChainIDs: agg.UnprocessedChainIDs,
	}, nil
}

func (r FetchRequest) accounts() []string {
	if r.QueryAllAccounts {
		return r.AllAccounts
	}
	if r.SelectedAccount == "" {
		return nil
	}
	return []string{r.SelectedAccount}
}

func (e *Engine) filterSupported(chainIDs []string) []string {
	var out []string
	for _, chainID := range chainIDs {
		if e.Supports(chainID) {
			out = append(out, strings.ToLower(chainID))
		}
	}
	return out
}

// pair is one requested (chain, account) combination, kept for the
// completeness guarantees. Account preserves the caller's casing.
type pair struct {
	chainID string
	account string
}

func (e *Engine) buildAccountRefs(chains, accounts []string, logger *slog.Logger) ([]string, []pair) {
	var refs []string
	var pairs []pair
	for _, chainID := range chains {
		for _, account := range accounts {
			ref, err := caip.FormatAccountRef(chainID, account)
			if err != nil {
				logger.Warn("skipping unaddressable account",
					"chain_id", chainID, "account", account, "error", err)
				continue
			}
			refs = append(refs, ref)
			pairs = append(pairs, pair{chainID: chainID, account: account})
		}
	}
	return refs, pairs
}

// seenSet tracks which (account, chain) native balances and which
// (account, chain, token) balances the upstream actually reported.
// Keys are lowercased; comparisons are case-insensitive by contract.
type seenSet struct {
	native map[string]struct{}
	tokens map[string]struct{}
}

func nativeKey(account, chainID string) string {
	return strings.ToLower(account) + "|" + strings.ToLower(chainID)
}

func tokenKey(account, chainID, token string) string {
	return nativeKey(account, chainID) + "|" + strings.ToLower(token)
}

// convertRecords turns raw API records into processed balances. Parse
// failures are isolated per entry; they never abort the fetch.
func (e *Engine) convertRecords(records []accountsapi.RawBalanceRecord, logger *slog.Logger) ([]model.ProcessedBalance, seenSet) {
	out := make([]model.ProcessedBalance, 0, len(records))
	seen := seenSet{
		native: make(map[string]struct{}),
		tokens: make(map[string]struct{}),
	}

	for _, rec := range records {
		account, ok := recordAccount(rec)
		if !ok {
			logger.Warn("dropping balance record without resolvable account",
				"token", rec.Address, "chain_id", rec.ChainID)
			continue
		}
		chainID := "0x" + strconv.FormatInt(rec.ChainID, 16)
		token := rec.Address
		if token == "" {
			token = model.NativeTokenAddress
		}

		if strings.EqualFold(token, model.NativeTokenAddress) {
			seen.native[nativeKey(account, chainID)] = struct{}{}
		} else {
			seen.tokens[tokenKey(account, chainID, token)] = struct{}{}
		}

		value, err := convert.ToMinorUnits(rec.Balance, rec.Decimals)
		if err != nil {
			metrics.BalancesProcessed.WithLabelValues("api", "parse_error").Inc()
			logger.Warn("unparseable balance",
				"account", account, "token", token, "chain_id", chainID, "error", err)
			out = append(out, model.ProcessedBalance{
				Success: false,
				Account: account,
				Token:   token,
				ChainID: chainID,
			})
			continue
		}

		metrics.BalancesProcessed.WithLabelValues("api", "success").Inc()
		out = append(out, model.ProcessedBalance{
			Success: true,
			Value:   value,
			Account: account,
			Token:   token,
			ChainID: chainID,
		})
	}

	return out, seen
}

// recordAccount resolves the owning account of a record: the address part
// of its CAIP account reference, falling back to the raw value.
func recordAccount(rec accountsapi.RawBalanceRecord) (string, bool) {
	if rec.AccountAddress == "" {
		return "", false
	}
	if _, address, err := caip.ParseAccountRef(rec.AccountAddress); err == nil {
		return address, true
	}
	return rec.AccountAddress, true
}

// fillNative synthesizes a zero-value native entry for every requested
// (account, chain) pair the upstream stayed silent about. The upstream
// only reports noteworthy balances; the wallet needs an authoritative
// zero for everything it displays.
func (e *Engine) fillNative(pairs []pair, seen seenSet) []model.ProcessedBalance {
	var out []model.ProcessedBalance
	for _, p := range pairs {
		if _, ok := seen.native[nativeKey(p.account, p.chainID)]; ok {
			continue
		}
		metrics.ZeroFillsTotal.WithLabelValues("native", p.chainID).Inc()
		out = append(out, model.ProcessedBalance{
			Success: true,
			Value:   big.NewInt(0),
			Account: p.account,
			Token:   model.NativeTokenAddress,
			ChainID: p.chainID,
		})
	}
	return out
}

// fillTrackedTokens synthesizes zeros for already-tracked tokens the
// upstream omitted, so a balance that drained to zero does not linger at
// its last nonzero value. Accessor errors skip that pair only.
func (e *Engine) fillTrackedTokens(ctx context.Context, pairs []pair, seen seenSet, logger *slog.Logger) []model.ProcessedBalance {
	if e.tracked == nil {
		return nil
	}

	var out []model.ProcessedBalance
	for _, p := range pairs {
		tokens, err := e.tracked.TrackedTokens(ctx, p.account, p.chainID)
		if err != nil {
			logger.Warn("tracked tokens lookup failed",
				"account", p.account, "chain_id", p.chainID, "error", err)
			continue
		}
		for _, token := range tokens {
			if strings.EqualFold(token, model.NativeTokenAddress) {
				continue
			}
			if _, ok := seen.tokens[tokenKey(p.account, p.chainID, token)]; ok {
				continue
			}
			metrics.ZeroFillsTotal.WithLabelValues("tracked_token", p.chainID).Inc()
			out = append(out, model.ProcessedBalance{
				Success: true,
				Value:   big.NewInt(0),
				Account: p.account,
				Token:   token,
				ChainID: p.chainID,
			})
		}
	}
	return out
}
