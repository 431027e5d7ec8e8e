package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transfa/transfer-service/internal/domain"
)

// ErrCacheMiss is returned when the cache holds no entry for a transaction.
var ErrCacheMiss = errors.New("transaction cache miss")

// RedisTransactionCache keeps terminal transaction records in Redis. Only terminal
// records are cached because they can never change again.
type RedisTransactionCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisTransactionCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisTransactionCache {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "transfa:transfer"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisTransactionCache{client: client, prefix: trimmedPrefix, ttl: ttl}
}

func (c *RedisTransactionCache) key(transactionID string) string {
	return fmt.Sprintf("%s:tx:%s", c.prefix, transactionID)
}

// Get returns the cached record or ErrCacheMiss.
func (c *RedisTransactionCache) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	raw, err := c.client.Get(ctx, c.key(transactionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var tx domain.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("decode cached transaction %s: %w", transactionID, err)
	}
	return &tx, nil
}

// Put stores tx when it is terminal and ignores it otherwise.
func (c *RedisTransactionCache) Put(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || !tx.Status.IsTerminal() {
		return nil
	}
	raw, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(tx.TransactionID), raw, c.ttl).Err()
}
