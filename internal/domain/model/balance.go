package model

import "math/big"

// NativeTokenAddress is the pseudo token address used for a chain's
// intrinsic gas/currency asset.
const NativeTokenAddress = "0x0000000000000000000000000000000000000000"

// ProcessedBalance is one resolved (account, token, chain) balance.
// Success=false means the balance could not be fetched or parsed and
// carries no value; Success=true always carries a value, possibly zero.
// Serialization is the transport layer's concern: Value must travel as a
// decimal string, never as a JSON number.
type ProcessedBalance struct {
	Success bool
	Value   *big.Int
	Account string
	Token   string
	ChainID string
}

// FetchResult is the aggregate outcome of one balance fetch.
// UnprocessedChainIDs lists hex chain ids the upstream API reported it
// could not process; callers typically re-source those via direct RPC.
type FetchResult struct {
	Balances            []ProcessedBalance
	UnprocessedChainIDs []string
}
