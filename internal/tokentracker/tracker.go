// Package tokentracker answers "which tokens does this user already track
// on this chain". The engine uses it only for the zero-fill guarantee: a
// tracked token the upstream API stops reporting must come back as an
// authoritative zero, not as a stale balance.
package tokentracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Accessor is the interface the engine consumes. Implementations may be
// absent entirely (a nil Accessor disables the tracked-token guarantee).
type Accessor interface {
	// TrackedTokens returns the token addresses the user tracks for the
	// account on the given hex chain id.
	TrackedTokens(ctx context.Context, account, chainIDHex string) ([]string, error)
}

// redisClient is the slice of *redis.Client the store uses.
type redisClient interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Close() error
}

// RedisStore is the production Accessor: one Redis set of token addresses
// per (account, chain) key, maintained by the wallet's token-detection
// side.
type RedisStore struct {
	client redisClient
}

var _ Accessor = (*RedisStore)(nil)

func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) TrackedTokens(ctx context.Context, account, chainIDHex string) ([]string, error) {
	tokens, err := s.client.SMembers(ctx, trackedKey(account, chainIDHex)).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers tracked tokens: %w", err)
	}
	return tokens, nil
}

// trackedKey is case-insensitive on the account: the detection side and
// the engine may disagree on checksum casing.
func trackedKey(account, chainIDHex string) string {
	return "tracked_tokens:" + strings.ToLower(account) + ":" + strings.ToLower(chainIDHex)
}
