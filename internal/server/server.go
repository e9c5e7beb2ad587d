// Package server exposes the balance fetcher over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/walletkit/multichain-balances/internal/domain/model"
	"github.com/walletkit/multichain-balances/internal/engine"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// Fetcher is the interface the server uses to resolve balances. In
// production this is satisfied by *engine.Engine; tests provide a mock.
type Fetcher interface {
	Fetch(ctx context.Context, req engine.FetchRequest) (*model.FetchResult, error)
}

// Server provides the HTTP balances API.
type Server struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewServer creates a balances API server.
func NewServer(fetcher Fetcher, logger *slog.Logger) *Server {
	return &Server{
		fetcher: fetcher,
		logger:  logger.With("component", "server"),
	}
}

// Handler returns the HTTP handler for the balances API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/balances", s.handleFetchBalances)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

type fetchBalancesRequest struct {
	ChainIDs         []string `json:"chainIds"`
	QueryAllAccounts bool     `json:"queryAllAccounts"`
	SelectedAccount  string   `json:"selectedAccount"`
	AllAccounts      []string `json:"allAccounts"`
}

type fetchBalancesResponse struct {
	Balances            []balanceResponse `json:"balances"`
	UnprocessedChainIDs []string          `json:"unprocessedChainIds"`
}

// balanceResponse is the wire form of one balance. Value is a decimal
// string: a JSON number would round through float64 in most consumers
// and 18-decimal balances exceed its 53-bit mantissa.
type balanceResponse struct {
	Success bool    `json:"success"`
	Value   *string `json:"value"`
	Account string  `json:"account"`
	Token   string  `json:"token"`
	ChainID string  `json:"chainId"`
}

func toBalanceResponse(b model.ProcessedBalance) balanceResponse {
	resp := balanceResponse{
		Success: b.Success,
		Account: b.Account,
		Token:   b.Token,
		ChainID: b.ChainID,
	}
	if b.Value != nil {
		value := b.Value.String()
		resp.Value = &value
	}
	return resp
}

func (s *Server) handleFetchBalances(w http.ResponseWriter, r *http.Request) {
	var req fetchBalancesRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if len(req.ChainIDs) == 0 {
		http.Error(w, `{"error":"chainIds is required"}`, http.StatusBadRequest)
		return
	}
	if req.QueryAllAccounts {
		if len(req.AllAccounts) == 0 {
			http.Error(w, `{"error":"allAccounts is required when queryAllAccounts is true"}`, http.StatusBadRequest)
			return
		}
	} else if req.SelectedAccount == "" {
		http.Error(w, `{"error":"selectedAccount is required"}`, http.StatusBadRequest)
		return
	}

	result, err := s.fetcher.Fetch(r.Context(), engine.FetchRequest{
		ChainIDs:         req.ChainIDs,
		QueryAllAccounts: req.QueryAllAccounts,
		SelectedAccount:  req.SelectedAccount,
		AllAccounts:      req.AllAccounts,
	})
	if err != nil {
		if errors.Is(err, engine.ErrUpstreamFetch) {
			// The caller falls back to direct chain RPC on this status.
			http.Error(w, `{"error":"upstream balance source unavailable"}`, http.StatusBadGateway)
			return
		}
		s.logger.Error("balance fetch failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	resp := fetchBalancesResponse{
		Balances:            make([]balanceResponse, 0, len(result.Balances)),
		UnprocessedChainIDs: result.UnprocessedChainIDs,
	}
	for _, b := range result.Balances {
		resp.Balances = append(resp.Balances, toBalanceResponse(b))
	}
	if resp.UnprocessedChainIDs == nil {
		resp.UnprocessedChainIDs = []string{}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
