package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	"github.com/walletkit/multichain-balances/internal/accountsapi"
	"github.com/walletkit/multichain-balances/internal/config"
	"github.com/walletkit/multichain-balances/internal/engine"
	"github.com/walletkit/multichain-balances/internal/server"
	"github.com/walletkit/multichain-balances/internal/staking"
	"github.com/walletkit/multichain-balances/internal/tokentracker"
	"github.com/walletkit/multichain-balances/internal/tracing"
)

// rpcClientProvider hands out JSON-RPC callers per chain for staking
// reads. Chains whose endpoint failed to dial are simply absent; the
// staking resolver skips them.
type rpcClientProvider struct {
	clients map[string]*ethclient.Client
}

func dialRPCClients(urls map[string]string, logger *slog.Logger) *rpcClientProvider {
	provider := &rpcClientProvider{clients: make(map[string]*ethclient.Client, len(urls))}
	for chainID, url := range urls {
		client, err := ethclient.Dial(url)
		if err != nil {
			logger.Warn("skipping staking rpc endpoint", "chain_id", chainID, "error", err)
			continue
		}
		provider.clients[strings.ToLower(chainID)] = client
	}
	return provider
}

func (p *rpcClientProvider) CallerForChain(chainIDHex string) (ethereum.ContractCaller, bool) {
	client, ok := p.clients[strings.ToLower(chainIDHex)]
	if !ok {
		return nil, false
	}
	return client, true
}

func (p *rpcClientProvider) Close() {
	for _, client := range p.clients {
		client.Close()
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting multichain-balances",
		"accounts_api", cfg.AccountsAPI.BaseURL,
		"batch_size", cfg.AccountsAPI.BatchSize,
		"supported_chains", len(cfg.Chains.Supported),
		"staking_chains", len(cfg.Staking.Contracts),
		"rpc_endpoints", len(cfg.Chains.RPCURLs),
		"port", cfg.Server.Port,
	)

	// Initialize OpenTelemetry tracing
	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), "multichain-balances", tracingEndpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	apiClient := accountsapi.NewHTTPClient(accountsapi.Config{
		BaseURL:     cfg.AccountsAPI.BaseURL,
		RPS:         cfg.AccountsAPI.RPS,
		Burst:       cfg.AccountsAPI.Burst,
		MaxAttempts: cfg.AccountsAPI.MaxAttempts,
	}, logger)

	var stakingResolver engine.StakingResolver
	if len(cfg.Staking.Contracts) > 0 {
		provider := dialRPCClients(cfg.Chains.RPCURLs, logger)
		defer provider.Close()
		if len(provider.clients) == 0 {
			logger.Warn("no staking rpc endpoints available, staked balances disabled")
		}
		stakingResolver = staking.NewResolver(provider, cfg.Staking.Contracts, logger)
	}

	var tracked tokentracker.Accessor
	if cfg.Redis.URL != "" {
		store, err := tokentracker.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		tracked = store
		logger.Info("tracked token store connected")
	} else {
		logger.Warn("redis not configured, tracked token zero-fill disabled")
	}

	eng := engine.New(engine.Config{
		SupportedChains: cfg.Chains.Supported,
		BatchSize:       cfg.AccountsAPI.BatchSize,
		FetchTimeout:    cfg.AccountsAPI.FetchTimeout,
	}, apiClient, stakingResolver, tracked, logger)

	srv := server.NewServer(eng, logger)

	// Context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runAPIServer(gCtx, cfg.Server.Port, srv.Handler(), logger)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("balanced exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("balanced shut down gracefully")
}

func runAPIServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("api server shutdown error", "error", err)
		}
	}()

	logger.Info("api server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}
