package accountsapi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/walletkit/multichain-balances/internal/caip"
	"github.com/walletkit/multichain-balances/internal/metrics"
)

// Aggregate folds one or more chunked upstream responses into a single
// result. UnprocessedChainIDs are hex-normalized and deduplicated across
// chunks.
type Aggregate struct {
	Records             []RawBalanceRecord
	UnprocessedChainIDs []string
}

// FetchAll splits accountRefs into consecutive chunks of batchSize and
// issues one upstream call per chunk, sequentially. Sequential on purpose:
// it bounds load on the remote API and keeps one timeout budget governing
// the whole batch. Any chunk failure aborts the batch.
func FetchAll(ctx context.Context, client Client, accountRefs []string, batchSize int, logger *slog.Logger) (*Aggregate, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	agg := &Aggregate{}
	seen := make(map[string]struct{})

	for start := 0; start < len(accountRefs); start += batchSize {
		end := start + batchSize
		if end > len(accountRefs) {
			end = len(accountRefs)
		}

		metrics.UpstreamBatchesTotal.Inc()
		resp, err := client.GetBalances(ctx, accountRefs[start:end])
		if err != nil {
			return nil, fmt.Errorf("balances chunk %d..%d: %w", start, end, err)
		}

		agg.Records = append(agg.Records, resp.Balances...)
		for _, network := range resp.UnprocessedNetworks {
			chainID, err := caip.NormalizeChainRef(network.String())
			if err != nil {
				// Unsupported chains are filtered, never fatal.
				logger.Warn("dropping unparseable unprocessed network", "network", network.String())
				continue
			}
			if _, ok := seen[chainID]; ok {
				continue
			}
			seen[chainID] = struct{}{}
			agg.UnprocessedChainIDs = append(agg.UnprocessedChainIDs, chainID)
		}
	}

	return agg, nil
}
