package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AccountsAPI AccountsAPIConfig
	Chains      ChainsConfig
	Staking     StakingConfig
	Redis       RedisConfig
	Server      ServerConfig
	Tracing     TracingConfig
	Log         LogConfig
}

type AccountsAPIConfig struct {
	BaseURL     string
	BatchSize   int
	RPS         float64
	Burst       int
	MaxAttempts int
	// FetchTimeout bounds one whole fetch, chunked upstream calls included.
	FetchTimeout time.Duration
}

type ChainsConfig struct {
	// Supported lists hex chain ids the engine answers for.
	Supported []string
	// RPCURLs maps hex chain ids to JSON-RPC endpoints for staking reads.
	RPCURLs map[string]string
}

type StakingConfig struct {
	// Contracts maps hex chain ids to staking contract addresses. Chains
	// absent from the map are not staking-enabled.
	Contracts map[string]string
}

type RedisConfig struct {
	URL string
}

type ServerConfig struct {
	Port int
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
	Insecure bool
}

type LogConfig struct {
	Level string
}

// defaultSupportedChains matches the chains the hosted accounts API
// serves: mainnet, optimism, bsc, polygon, base, arbitrum, avalanche,
// linea and the hoodi staking testnet.
var defaultSupportedChains = []string{
	"0x1", "0xa", "0x38", "0x89", "0x2105", "0xa4b1", "0xa86a", "0xe708", "0x88bb0",
}

const (
	defaultMainnetStakingContract = "0x4FEF9D741011476750A243aC70b9789a63dd47Df"
	defaultHoodiStakingContract   = "0x5f3BcC0B9bF27Ab69125Dd17ba541967A5e58f1A"
)

func Load() (*Config, error) {
	cfg := &Config{
		AccountsAPI: AccountsAPIConfig{
			BaseURL:      getEnv("ACCOUNTS_API_URL", "https://accounts.api.wallet.dev"),
			BatchSize:    getEnvInt("ACCOUNTS_API_BATCH_SIZE", 50),
			RPS:          getEnvFloat("ACCOUNTS_API_RPS", 10),
			Burst:        getEnvInt("ACCOUNTS_API_BURST", 5),
			MaxAttempts:  getEnvInt("ACCOUNTS_API_MAX_ATTEMPTS", 3),
			FetchTimeout: time.Duration(getEnvInt("FETCH_TIMEOUT_SEC", 10)) * time.Second,
		},
		Chains: ChainsConfig{
			Supported: getEnvList("SUPPORTED_CHAINS", defaultSupportedChains),
			RPCURLs:   getEnvMap("RPC_URLS", nil),
		},
		Staking: StakingConfig{
			Contracts: getEnvMap("STAKING_CONTRACTS", map[string]string{
				"0x1":     defaultMainnetStakingContract,
				"0x88bb0": defaultHoodiStakingContract,
			}),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Server: ServerConfig{
			Port: getEnvInt("HEALTH_PORT", 8080),
		},
		Tracing: TracingConfig{
			Enabled:  getEnvBool("TRACING_ENABLED", false),
			Endpoint: getEnv("TRACING_ENDPOINT", ""),
			Insecure: getEnvBool("TRACING_INSECURE", true),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AccountsAPI.BaseURL == "" {
		return fmt.Errorf("ACCOUNTS_API_URL is required")
	}
	if c.AccountsAPI.BatchSize <= 0 {
		return fmt.Errorf("ACCOUNTS_API_BATCH_SIZE must be positive")
	}
	if c.AccountsAPI.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT_SEC must be positive")
	}
	if len(c.Chains.Supported) == 0 {
		return fmt.Errorf("SUPPORTED_CHAINS must not be empty")
	}
	for _, chainID := range c.Chains.Supported {
		if !strings.HasPrefix(strings.ToLower(chainID), "0x") {
			return fmt.Errorf("SUPPORTED_CHAINS entry %q is not a hex chain id", chainID)
		}
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("TRACING_ENDPOINT is required when TRACING_ENABLED is set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList parses a comma-separated list, trimming blanks.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// getEnvMap parses "key=value,key=value" pairs; keys are lowercased so hex
// chain ids compare consistently.
func getEnvMap(key string, fallback map[string]string) map[string]string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, val, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		val = strings.TrimSpace(val)
		if k != "" && val != "" {
			out[k] = val
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
