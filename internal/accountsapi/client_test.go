package accountsapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletkit/multichain-balances/internal/circuitbreaker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(Config{BaseURL: srv.URL, RPS: 1000, Burst: 1000}, testLogger())
}

func TestGetBalances_Success(t *testing.T) {
	var gotBody balancesRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, balancesPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"count": 2,
			"balances": [
				{"object":"token","address":"0x0000000000000000000000000000000000000000","symbol":"ETH","name":"Ether","decimals":18,"chainId":1,"balance":"0.5","accountAddress":"eip155:1:0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"},
				{"object":"token","address":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48","symbol":"USDC","name":"USD Coin","decimals":6,"chainId":1,"balance":"12.34","accountAddress":"eip155:1:0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"}
			],
			"unprocessedNetworks": [137, "eip155:56"]
		}`))
	})

	refs := []string{"eip155:1:0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"}
	resp, err := client.GetBalances(context.Background(), refs)
	require.NoError(t, err)

	assert.Equal(t, refs, gotBody.AccountAddresses)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Balances, 2)
	assert.Equal(t, "0.5", resp.Balances[0].Balance)
	assert.Equal(t, int64(1), resp.Balances[0].ChainID)
	require.Len(t, resp.UnprocessedNetworks, 2)
	assert.Equal(t, "137", resp.UnprocessedNetworks[0].String())
	assert.Equal(t, "eip155:56", resp.UnprocessedNetworks[1].String())
}

func TestGetBalances_TerminalClientErrorNoRetry(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, err := client.GetBalances(context.Background(), []string{"eip155:1:0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestGetBalances_RetriesTransientServerError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"count":0,"balances":[],"unprocessedNetworks":[]}`))
	})

	resp, err := client.GetBalances(context.Background(), []string{"eip155:1:0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Count)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetBalances_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	refs := []string{"eip155:1:0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"}
	for i := 0; i < 5; i++ {
		_, err := client.GetBalances(context.Background(), refs)
		require.Error(t, err)
		require.NotErrorIs(t, err, circuitbreaker.ErrOpen, "call %d", i)
	}

	_, err := client.GetBalances(context.Background(), refs)
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestGetBalances_MalformedResponseBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})

	_, err := client.GetBalances(context.Background(), []string{"eip155:1:0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"})
	require.Error(t, err)
}

func TestChainRef_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		expected  string
		expectErr bool
	}{
		{name: "number", input: `1`, expected: "1"},
		{name: "large number", input: `42161`, expected: "42161"},
		{name: "decimal string", input: `"137"`, expected: "137"},
		{name: "caip string", input: `"eip155:56"`, expected: "eip155:56"},
		{name: "null", input: `null`, expected: ""},
		{name: "float rejected", input: `1.5`, expectErr: true},
		{name: "object rejected", input: `{}`, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var ref ChainRef
			err := json.Unmarshal([]byte(tt.input), &ref)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ref.String())
		})
	}
}
