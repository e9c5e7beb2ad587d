// Package staking augments API-sourced balances with pooled-staking
// positions read straight from the staking contract on each eligible
// chain: getShares(address) for the account's outstanding shares, then
// convertToAssets(shares) for the underlying asset amount.
package staking

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/walletkit/multichain-balances/internal/caip"
	"github.com/walletkit/multichain-balances/internal/domain/model"
	"github.com/walletkit/multichain-balances/internal/metrics"
	"github.com/walletkit/multichain-balances/internal/ratelimit"
)

const maxConcurrentReads = 4

const stakingABIJSON = `[
	{"inputs":[{"name":"account","type":"address"}],"name":"getShares","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"shares","type":"uint256"}],"name":"convertToAssets","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var stakingABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(stakingABIJSON))
	if err != nil {
		panic(fmt.Sprintf("parse staking ABI: %v", err))
	}
	stakingABI = parsed
}

// ClientProvider hands out a read-only contract caller per chain. The
// host wallet supplies it; chains without a dialed client are skipped.
type ClientProvider interface {
	CallerForChain(chainIDHex string) (ethereum.ContractCaller, bool)
}

// Resolver reads staking share balances for accounts. Contracts maps hex
// chain ids to staking contract addresses; chains absent from the map are
// not staking-enabled and emit nothing.
type Resolver struct {
	provider  ClientProvider
	contracts map[string]string
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
}

func NewResolver(provider ClientProvider, contracts map[string]string, logger *slog.Logger) *Resolver {
	return &Resolver{
		provider:  provider,
		contracts: contracts,
		limiter:   ratelimit.NewLimiter(20, 10, "staking_rpc"),
		logger:    logger.With("component", "staking"),
	}
}

// FetchStaked resolves staked balances for the given account references.
// Returns nil when no chain-query capability was configured. Failures are
// isolated per address; a chain whose contract binding cannot be built is
// skipped entirely.
func (r *Resolver) FetchStaked(ctx context.Context, accountRefs []string) []model.ProcessedBalance {
	if r == nil || r.provider == nil {
		return nil
	}

	chainOrder, byChain := r.groupByChain(accountRefs)

	var out []model.ProcessedBalance
	for _, chainID := range chainOrder {
		contract, ok := r.contracts[chainID]
		if !ok {
			metrics.StakingChainsSkipped.WithLabelValues(chainID, "no_contract").Inc()
			continue
		}
		if !common.IsHexAddress(contract) {
			metrics.StakingChainsSkipped.WithLabelValues(chainID, "bad_contract").Inc()
			r.logger.Error("invalid staking contract address, skipping chain",
				"chain_id", chainID, "contract", contract)
			continue
		}
		caller, ok := r.provider.CallerForChain(chainID)
		if !ok {
			metrics.StakingChainsSkipped.WithLabelValues(chainID, "no_client").Inc()
			continue
		}

		out = append(out, r.fetchChain(ctx, caller, chainID, contract, byChain[chainID])...)
	}
	return out
}

func (r *Resolver) groupByChain(accountRefs []string) ([]string, map[string][]string) {
	var order []string
	byChain := make(map[string][]string)
	for _, ref := range accountRefs {
		chainID, address, err := caip.ParseAccountRef(ref)
		if err != nil {
			r.logger.Warn("skipping malformed account reference", "ref", ref, "error", err)
			continue
		}
		if _, ok := byChain[chainID]; !ok {
			order = append(order, chainID)
		}
		byChain[chainID] = append(byChain[chainID], address)
	}
	return order, byChain
}

// fetchChain reads every address on one chain. Reads are independent and
// fan out under a bounded semaphore; one address failing must not affect
// its siblings.
func (r *Resolver) fetchChain(ctx context.Context, caller ethereum.ContractCaller, chainID, contract string, addresses []string) []model.ProcessedBalance {
	contractAddr := common.HexToAddress(contract)
	results := make([]model.ProcessedBalance, len(addresses))

	sem := make(chan struct{}, maxConcurrentReads)
	var wg sync.WaitGroup

	for i, address := range addresses {
		wg.Add(1)
		go func(idx int, account string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			value, err := r.readStaked(ctx, caller, contractAddr, account)
			if err != nil {
				metrics.StakingReadsTotal.WithLabelValues(chainID, "error").Inc()
				r.logger.Warn("staking read failed",
					"chain_id", chainID, "account", account, "error", err)
				results[idx] = model.ProcessedBalance{
					Success: false,
					Account: account,
					Token:   contractAddr.Hex(),
					ChainID: chainID,
				}
				return
			}

			metrics.StakingReadsTotal.WithLabelValues(chainID, "ok").Inc()
			results[idx] = model.ProcessedBalance{
				Success: true,
				Value:   value,
				Account: account,
				Token:   contractAddr.Hex(),
				ChainID: chainID,
			}
		}(i, address)
	}

	wg.Wait()
	return results
}

// readStaked returns the underlying asset amount staked by account. Zero
// shares short-circuits without the conversion call.
func (r *Resolver) readStaked(ctx context.Context, caller ethereum.ContractCaller, contract common.Address, account string) (*big.Int, error) {
	shares, err := r.callUint256(ctx, caller, contract, "getShares", common.HexToAddress(account))
	if err != nil {
		return nil, fmt.Errorf("getShares(%s): %w", account, err)
	}
	if shares.Sign() == 0 {
		return big.NewInt(0), nil
	}

	assets, err := r.callUint256(ctx, caller, contract, "convertToAssets", shares)
	if err != nil {
		return nil, fmt.Errorf("convertToAssets(%s): %w", shares, err)
	}
	return assets, nil
}

func (r *Resolver) callUint256(ctx context.Context, caller ethereum.ContractCaller, contract common.Address, method string, arg any) (*big.Int, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	data, err := stakingABI.Pack(method, arg)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	ratelimit.RecordCall(method, err)
	if err != nil {
		return nil, err
	}

	outs, err := stakingABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("unpack %s: empty output", method)
	}
	return *abi.ConvertType(outs[0], new(*big.Int)).(**big.Int), nil
}
