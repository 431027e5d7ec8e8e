package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/transfer-service/internal/domain"
)

// These tests talk to real services and only run when the matching
// TEST_DATABASE_URL / TEST_REDIS_URL variables are set.

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	databaseURL := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, EnsureSchema(ctx, pool))
	return pool
}

func TestPostgresLedger_Lifecycle(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	ledger := NewPostgresLedger(pool)

	source := "src-" + uuid.NewString()[:8]
	target := "dst-" + uuid.NewString()[:8]
	record := newRecord(uuid.NewString(), source, target, time.Now())
	record.Description = "integration"

	require.NoError(t, ledger.CreateTransaction(ctx, record))
	assert.NotZero(t, record.ID)

	duplicate := *record
	require.ErrorIs(t, ledger.CreateTransaction(ctx, &duplicate), ErrTransactionConflict)

	require.NoError(t, ledger.UpdateTransactionStatus(ctx, record.TransactionID, domain.StatusCompleted))
	require.ErrorIs(t, ledger.UpdateTransactionStatus(ctx, record.TransactionID, domain.StatusFailed), ErrTransactionFinalized)
	require.ErrorIs(t, ledger.UpdateTransactionStatus(ctx, uuid.NewString(), domain.StatusFailed), ErrTransactionNotFound)

	found, err := ledger.FindTransactionByTransactionID(ctx, record.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)
	assert.Equal(t, domain.StatusCompleted, found.Status)
	assert.True(t, record.Amount.Equal(found.Amount))
	assert.True(t, record.Timestamp.Equal(found.Timestamp))
	assert.Equal(t, "integration", found.Description)

	byAccount, err := ledger.FindTransactionsByAccountID(ctx, target)
	require.NoError(t, err)
	require.Len(t, byAccount, 1)
	assert.Equal(t, record.TransactionID, byAccount[0].TransactionID)

	_, err = ledger.FindTransactionByTransactionID(ctx, uuid.NewString())
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestRedisTransactionCache_RoundTrip(t *testing.T) {
	redisURL := strings.TrimSpace(os.Getenv("TEST_REDIS_URL"))
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	cache := NewRedisTransactionCache(client, "transfa:test:", time.Minute)

	record := newRecord(uuid.NewString(), "a", "b", time.Now())
	record.ID = 42

	require.NoError(t, cache.Put(ctx, record))
	_, err = cache.Get(ctx, record.TransactionID)
	require.ErrorIs(t, err, ErrCacheMiss, "pending records must not be cached")

	record.Status = domain.StatusCompleted
	require.NoError(t, cache.Put(ctx, record))
	cached, err := cache.Get(ctx, record.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, record.ToResponse(), cached.ToResponse())
}

func TestRedisTransactionCache_KeyPrefix(t *testing.T) {
	cache := NewRedisTransactionCache(nil, " transfa:transfer: ", 0)
	assert.Equal(t, "transfa:transfer:tx:abc", cache.key("abc"))
	assert.Equal(t, 5*time.Minute, cache.ttl)

	assert.NoError(t, cache.Put(context.Background(), &domain.Transaction{Status: domain.StatusPending}))
}
