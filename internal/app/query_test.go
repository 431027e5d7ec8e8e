package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.Transaction
	getErr  error
	gets    int
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]domain.Transaction)}
}

func (c *fakeCache) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	tx, ok := c.entries[transactionID]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	return &tx, nil
}

func (c *fakeCache) Put(ctx context.Context, tx *domain.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.entries[tx.TransactionID] = *tx
	return nil
}

// countingLedger counts point lookups.
type countingLedger struct {
	store.Ledger
	finds int
}

func (l *countingLedger) FindTransactionByTransactionID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	l.finds++
	return l.Ledger.FindTransactionByTransactionID(ctx, transactionID)
}

func seedTransaction(t *testing.T, ledger store.Ledger, id, source, target string, at time.Time, status domain.TransactionStatus) {
	t.Helper()
	tx := domain.NewTransaction(id, domain.TransferRequest{
		SourceAccountID: source,
		TargetAccountID: target,
		Amount:          decimal.RequireFromString("10"),
	}, at)
	require.NoError(t, ledger.CreateTransaction(context.Background(), tx))
	if status.IsTerminal() {
		require.NoError(t, ledger.UpdateTransactionStatus(context.Background(), id, status))
	}
}

func TestQueryService_GetTransactionNotFound(t *testing.T) {
	query := NewQueryService(store.NewMemoryLedger(), nil)

	_, err := query.GetTransaction(context.Background(), "never-created")
	assert.ErrorIs(t, err, store.ErrTransactionNotFound)

	_, err = query.GetTransaction(context.Background(), "  ")
	assert.ErrorIs(t, err, store.ErrTransactionNotFound)
}

func TestQueryService_GetAccountTransactionsNewestFirst(t *testing.T) {
	ledger := store.NewMemoryLedger()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	seedTransaction(t, ledger, "a", "12345", "67890", base, domain.StatusCompleted)
	seedTransaction(t, ledger, "b", "67890", "12345", base.Add(time.Hour), domain.StatusFailed)
	seedTransaction(t, ledger, "c", "67890", "11111", base.Add(2*time.Hour), domain.StatusCompleted)
	seedTransaction(t, ledger, "d", "12345", "22222", base.Add(3*time.Hour), domain.StatusPending)

	query := NewQueryService(ledger, nil)
	responses, err := query.GetAccountTransactions(context.Background(), "12345")
	require.NoError(t, err)

	ids := make([]string, 0, len(responses))
	for _, r := range responses {
		ids = append(ids, r.TransactionID)
		assert.True(t, r.SourceAccountID == "12345" || r.TargetAccountID == "12345")
	}
	assert.Equal(t, []string{"d", "b", "a"}, ids)

	empty, err := query.GetAccountTransactions(context.Background(), "99999")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestQueryService_CachesTerminalRecordsOnly(t *testing.T) {
	ledger := &countingLedger{Ledger: store.NewMemoryLedger()}
	now := time.Now()
	seedTransaction(t, ledger, "done", "1", "2", now, domain.StatusCompleted)
	seedTransaction(t, ledger, "open", "1", "2", now, domain.StatusPending)

	cache := newFakeCache()
	query := NewQueryService(ledger, cache)

	first, err := query.GetTransaction(context.Background(), "done")
	require.NoError(t, err)
	second, err := query.GetTransaction(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, *first, *second)
	assert.Equal(t, 1, ledger.finds)
	assert.Equal(t, 1, cache.puts)

	_, err = query.GetTransaction(context.Background(), "open")
	require.NoError(t, err)
	_, err = query.GetTransaction(context.Background(), "open")
	require.NoError(t, err)
	assert.Equal(t, 3, ledger.finds)
	assert.Equal(t, 1, cache.puts)
}

func TestQueryService_CacheErrorFallsBackToLedger(t *testing.T) {
	ledger := store.NewMemoryLedger()
	seedTransaction(t, ledger, "done", "1", "2", time.Now(), domain.StatusCompleted)

	cache := newFakeCache()
	cache.getErr = errors.New("redis: connection refused")
	query := NewQueryService(ledger, cache)

	response, err := query.GetTransaction(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, response.Status)
}
