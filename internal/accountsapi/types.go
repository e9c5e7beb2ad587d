package accountsapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawBalanceRecord is one entry exactly as the accounts API returns it.
// ChainID is decimal, Balance a decimal string (e.g. "123.456789"),
// AccountAddress a CAIP-10 account reference when present.
type RawBalanceRecord struct {
	Object         string `json:"object"`
	Type           string `json:"type,omitempty"`
	Address        string `json:"address"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Decimals       int    `json:"decimals"`
	ChainID        int64  `json:"chainId"`
	Balance        string `json:"balance"`
	AccountAddress string `json:"accountAddress,omitempty"`
}

// ChainRef is a chain identifier as the API emits it in
// unprocessedNetworks: either a bare decimal number or a string that may
// be decimal ("137") or CAIP-2 ("eip155:137").
type ChainRef string

func (c *ChainRef) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*c = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ChainRef(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("unprocessed network id %s: %w", trimmed, err)
	}
	*c = ChainRef(strconv.FormatInt(n, 10))
	return nil
}

func (c ChainRef) String() string {
	return string(c)
}

// BalancesResponse is the upstream response for one balances call.
type BalancesResponse struct {
	Count               int                `json:"count"`
	Balances            []RawBalanceRecord `json:"balances"`
	UnprocessedNetworks []ChainRef         `json:"unprocessedNetworks"`
}

// balancesRequest is the POST body for a balances call.
type balancesRequest struct {
	AccountAddresses []string `json:"accountAddresses"`
}

// APIError is a non-2xx response from the accounts API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("accounts api: http status %d: %s", e.StatusCode, e.Body)
}
