package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletkit/multichain-balances/internal/accountsapi"
	"github.com/walletkit/multichain-balances/internal/domain/model"
	"github.com/walletkit/multichain-balances/internal/tokentracker"
)

const (
	testAccount      = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	testTokenUSDC    = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	testTokenDAI     = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	testStakingToken = "0x4FEF9D741011476750A243aC70b9789a63dd47Df"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockClient struct {
	calls     int
	responses []*accountsapi.BalancesResponse
	err       error
}

func (m *mockClient) GetBalances(_ context.Context, _ []string) (*accountsapi.BalancesResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &accountsapi.BalancesResponse{}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

type mockStaking struct {
	calls    int
	balances []model.ProcessedBalance
}

func (m *mockStaking) FetchStaked(_ context.Context, _ []string) []model.ProcessedBalance {
	m.calls++
	return m.balances
}

type mockTracker struct {
	tokens map[string][]string
	err    error
}

func (m *mockTracker) TrackedTokens(_ context.Context, _, chainIDHex string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tokens[chainIDHex], nil
}

func nativeRecord(account string, chainID int64, balance string) accountsapi.RawBalanceRecord {
	return accountsapi.RawBalanceRecord{
		Object:         "balance",
		Type:           "native",
		Address:        model.NativeTokenAddress,
		Decimals:       18,
		ChainID:        chainID,
		Balance:        balance,
		AccountAddress: fmt.Sprintf("eip155:%d:%s", chainID, account),
	}
}

func tokenRecord(account, token string, chainID int64, balance string, decimals int) accountsapi.RawBalanceRecord {
	return accountsapi.RawBalanceRecord{
		Object:         "balance",
		Type:           "erc20",
		Address:        token,
		Decimals:       decimals,
		ChainID:        chainID,
		Balance:        balance,
		AccountAddress: fmt.Sprintf("eip155:%d:%s", chainID, account),
	}
}

func newTestEngine(client accountsapi.Client, staking StakingResolver, tracked *mockTracker) *Engine {
	var accessor tokentracker.Accessor
	if tracked != nil {
		accessor = tracked
	}
	return New(Config{
		SupportedChains: []string{"0x1", "0x89"},
		BatchSize:       50,
	}, client, staking, accessor, testLogger())
}

func findBalance(t *testing.T, balances []model.ProcessedBalance, account, token, chainID string) model.ProcessedBalance {
	t.Helper()
	for _, b := range balances {
		if b.Account == account && b.Token == token && b.ChainID == chainID {
			return b
		}
	}
	t.Fatalf("no balance for account=%s token=%s chain=%s", account, token, chainID)
	return model.ProcessedBalance{}
}

func TestFetch_NativeCompleteness(t *testing.T) {
	client := &mockClient{responses: []*accountsapi.BalancesResponse{{
		Count:    1,
		Balances: []accountsapi.RawBalanceRecord{nativeRecord(testAccount, 1, "1.5")},
	}}}
	eng := newTestEngine(client, nil, nil)

	result, err := eng.Fetch(context.Background(), FetchRequest{
		ChainIDs:        []string{"0x1", "0x89"},
		SelectedAccount: testAccount,
	})
	require.NoError(t, err)

	// Reported balance on mainnet, synthesized zero on polygon.
	mainnet := findBalance(t, result.Balances, testAccount, model.NativeTokenAddress, "0x1")
	assert.True(t, mainnet.Success)
	assert.Equal(t, "1500000000000000000", mainnet.Value.String())

	polygon := findBalance(t, result.Balances, testAccount, model.NativeTokenAddress, "0x89")
	assert.True(t, polygon.Success)
	assert.Equal(t, "0", polygon.Value.String())

	assert.Len(t, result.Balances, 2)
}

func TestFetch_NativeSeenIsCaseInsensitive(t *testing.T) {
	rec := nativeRecord(testAccount, 1, "1")
	client := &mockClient{responses: []*accountsapi.BalancesResponse{{
		Count:    1,
		Balances: []accountsapi.RawBalanceRecord{rec},
	}}}
	eng := newTestEngine(client, nil, nil)

	// Caller passes the all-lowercase form of the same address.
	result, err := eng.Fetch(context.Background(), FetchRequest{
		ChainIDs:        []string{"0x1"},
		SelectedAccount: "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359",
	})
	require.NoError(t, err)
	assert.Len(t, result.Balances, 1)
}

func TestFetch_UnsupportedChainsFiltered(t *testing.T) {
	client := &mockClient{}
	eng := newTestEngine(client, nil, nil)

	result, err := eng.Fetch(context.Background(), FetchRequest{
		ChainIDs:        []string{"0x539", "0x7a69"},
		SelectedAccount: testAccount,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Balances)
	assert.Zero(t, client.calls, "no upstream call for unsupported chains")
}

func TestFetch_NoAccountsIsNoop(t *testing.T) {
	client := &mockClient{}
	staking := &mockStaking{}
	eng := newTestEngine(client, staking, nil)

	result, err := eng.Fetch(context.Background(), FetchRequest{
		ChainIDs:         []string{"0x1"},
		QueryAllAccounts: true,
		AllAccounts:      nil,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Balances)
	assert.Zero(t, client.calls)
	assert.Zero(t, staking.calls)
}

func TestFetch_UpstreamFailureRaisesSentinel(t *testing.T) {
	client := &mockClient{err: errors.New("connection refused")}
	eng := newTestEngine(client, nil, nil)

	result, err := eng.Fetch(context.Background(), FetchRequest{
		ChainIDs:        []string{"0x1"},
		SelectedAccount: testAccount,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamFetch)
	assert.Nil(t, result)
}

// slowClient blocks until its context expires, mimicking an upstream
// that never answers within the fetch deadline.
type slowClient struct{}

func (slowClient) GetBalances(ctx context.Context, _ []string) (*accountsapi.BalancesResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFetch_TimeoutRaisesSentinel(t *testing.T) {
	eng := New(Config{
		SupportedChains: []string{"0x1"},
		BatchSize:       50,
		FetchTimeout:    20 * time.Millisecond,
	}, slowClient{}, nil, nil, testLogger())

	result, err := eng.Fetch(context.Background(), FetchRequest{
		ChainIDs:        []string{"0x1"},
		SelectedAccount: testAccount,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamFetch)
	assert.Nil(t, result, "deadline expiry must not yield a partial result")
}

func TestFetch_TrackedTokenZeroFill(t *testing.T) {
	client := &mockClient{responses: []*accountsapi.BalancesResponse{{
		Count: 2,
		Balances: []accountsapi.RawBalanceRecord{
			nativeRecord(testAccount, 1, "1"),
			tokenRecord(testAccount, testTokenUSDC, 1, "250.75", 6),
		},
	}}}
	tracker := &mockTracker{tokens: map[string][]string{
		"0x1": {testTokenUSDC, testTokenDAI},
	}}
	eng := newTestEngine(client, nil, tracker)

	result, err := eng.Fetch(context.Background(), FetchRequest{
		ChainIDs:        []string{"0x1"},
		SelectedAccount: testAccount,
	})
	require.NoError(t, err)

	usdc := findBalance(t, result.Balances, testAccount, testTokenUSDC, "0x1")
	assert.Equal(t, "250750000", usdc.Value.String())

	// DAI is tracked but unreported, so it comes back as an explicit zero.
	dai := findBalance(t, result.Balances, testAccount, testTokenDAI, "0x1")
	assert.True(t, dai.Success)
	assert.Equal(t, "0", dai.Value.String())

	assert.Len(t, result.Balances, 3, "no duplicate entry for the reported token")
}

func TestFetch_TrackedTokensErrorIsNonFatal(t *testing.T) {
	client := &mockClient{responses: []*accountsapi.BalancesResponse{{}}}
	tracker := &mockTracker{err: errors.New("redis unavailable")}
	eng := newTestEngine(client, nil, tracker)

	result, err := eng.Fetch(context.Background(), FetchRequest{
		ChainIDs:        []string{"0x1"},
		SelectedAccount: testAccount,
	})
	require.NoError(t, err)

	// Native zero-fill still happens even when the tracker is down.
	native := findBalance(t, result.Balances, testAccount, model.NativeTokenAddress, "0x1")
	assert.Equal(t, "0", native.Value.String())
	assert.Len(t, result.Balances, 1)
}

func TestFetch_StakedBalancesMerged(t *testing.T) {
	client := &mockClient{responses: []*accountsapi.BalancesResponse{{}}}
	staking := &mockStaking{balances: []model.ProcessedBalance{{
		Success: true,
		Value:   big.NewInt(42),
		Account: testAccount,
		Token:   testStakingToken,
		ChainID: "0x1",
	}}}
	eng := newTestEngine(client, staking, nil)

	result, err := eng.Fetch(context.Background(), FetchRequest{
		ChainIDs:        []string{"0x1"},
		SelectedAccount: testAccount,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, staking.calls)

	staked := findBalance(t, result.Balances, testAccount, testStakingToken, "0x1")
	assert.Equal(t, "42", staked.Value.String())
}

func TestFetch_UnparseableBalanceKeepsEntry(t *testing.T) {
	client := &mockClient{responses: []*accountsapi.BalancesResponse{{
		Count:    1,
		Balances: []accountsapi.RawBalanceRecord{nativeRecord(testAccount, 1, "not-a-number")},
	}}}
	eng := newTestEngine(client, nil, nil)

	result, err := eng.Fetch(context.Background(), FetchRequest{
		ChainIDs:        []string{"0x1"},
		SelectedAccount: testAccount,
	})
	require.NoError(t, err)

	// The failed entry marks the pair as reported; no zero overwrites it.
	require.Len(t, result.Balances, 1)
	assert.False(t, result.Balances[0].Success)
	assert.Nil(t, result.Balances[0].Value)
}

func TestFetch_AllAccountsCartesian(t *testing.T) {
	second := "0x52908400098527886E0F7030069857D2E4169EE7"
	client := &mockClient{responses: []*accountsapi.BalancesResponse{{}}}
	eng := newTestEngine(client, nil, nil)

	result, err := eng.Fetch(context.Background(), FetchRequest{
		ChainIDs:         []string{"0x1", "0x89"},
		QueryAllAccounts: true,
		AllAccounts:      []string{testAccount, second},
	})
	require.NoError(t, err)

	// Two accounts across two chains means four native zeros.
	assert.Len(t, result.Balances, 4)
	for _, b := range result.Balances {
		assert.True(t, b.Success)
		assert.Equal(t, model.NativeTokenAddress, b.Token)
		assert.Equal(t, "0", b.Value.String())
	}
}

func TestFetch_UnprocessedChainsPropagated(t *testing.T) {
	client := &mockClient{responses: []*accountsapi.BalancesResponse{{
		UnprocessedNetworks: []accountsapi.ChainRef{"137", "eip155:56"},
	}}}
	eng := newTestEngine(client, nil, nil)

	result, err := eng.Fetch(context.Background(), FetchRequest{
		ChainIDs:        []string{"0x1"},
		SelectedAccount: testAccount,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"0x89", "0x38"}, result.UnprocessedChainIDs)
}

func TestSupports(t *testing.T) {
	eng := newTestEngine(&mockClient{}, nil, nil)
	assert.True(t, eng.Supports("0x1"))
	assert.True(t, eng.Supports("0X89"))
	assert.False(t, eng.Supports("0x539"))
}
