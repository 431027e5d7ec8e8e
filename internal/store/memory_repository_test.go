package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/transfer-service/internal/domain"
)

func newRecord(id, source, target string, at time.Time) *domain.Transaction {
	return domain.NewTransaction(id, domain.TransferRequest{
		SourceAccountID: source,
		TargetAccountID: target,
		Amount:          decimal.RequireFromString("10.00"),
	}, at)
}

func TestMemoryLedger_CreateAssignsIDAndRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	first := newRecord("tx-1", "a", "b", time.Now())
	require.NoError(t, ledger.CreateTransaction(ctx, first))
	assert.Equal(t, int64(1), first.ID)

	second := newRecord("tx-1", "c", "d", time.Now())
	err := ledger.CreateTransaction(ctx, second)
	require.ErrorIs(t, err, ErrTransactionConflict)

	stored, err := ledger.FindTransactionByTransactionID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "a", stored.SourceAccountID)
}

func TestMemoryLedger_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	require.NoError(t, ledger.CreateTransaction(ctx, newRecord("tx-1", "a", "b", time.Now())))

	require.ErrorIs(t, ledger.UpdateTransactionStatus(ctx, "missing", domain.StatusCompleted), ErrTransactionNotFound)
	require.ErrorIs(t, ledger.UpdateTransactionStatus(ctx, "tx-1", domain.StatusPending), domain.ErrInvalidStateTransition)

	require.NoError(t, ledger.UpdateTransactionStatus(ctx, "tx-1", domain.StatusCompleted))
	require.ErrorIs(t, ledger.UpdateTransactionStatus(ctx, "tx-1", domain.StatusFailed), ErrTransactionFinalized)

	stored, err := ledger.FindTransactionByTransactionID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}

func TestMemoryLedger_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	record := newRecord("tx-1", "a", "b", time.Now())
	require.NoError(t, ledger.CreateTransaction(ctx, record))

	record.Status = domain.StatusCompleted
	found, err := ledger.FindTransactionByTransactionID(ctx, "tx-1")
	require.NoError(t, err)
	found.SourceAccountID = "mutated"

	again, err := ledger.FindTransactionByTransactionID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, again.Status)
	assert.Equal(t, "a", again.SourceAccountID)
}

func TestMemoryLedger_FindByAccountNewestFirst(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.CreateTransaction(ctx, newRecord("old", "12345", "67890", base)))
	require.NoError(t, ledger.CreateTransaction(ctx, newRecord("incoming", "67890", "12345", base.Add(time.Minute))))
	require.NoError(t, ledger.CreateTransaction(ctx, newRecord("other", "67890", "55555", base.Add(2*time.Minute))))
	require.NoError(t, ledger.CreateTransaction(ctx, newRecord("newest", "12345", "55555", base.Add(3*time.Minute))))

	found, err := ledger.FindTransactionsByAccountID(ctx, "12345")
	require.NoError(t, err)

	ids := make([]string, 0, len(found))
	for _, tx := range found {
		ids = append(ids, tx.TransactionID)
	}
	assert.Equal(t, []string{"newest", "incoming", "old"}, ids)

	empty, err := ledger.FindTransactionsByAccountID(ctx, "unknown")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMemoryLedger_FindStalePending(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	now := time.Now().UTC()

	require.NoError(t, ledger.CreateTransaction(ctx, newRecord("stale-1", "a", "b", now.Add(-30*time.Minute))))
	require.NoError(t, ledger.CreateTransaction(ctx, newRecord("stale-2", "a", "b", now.Add(-20*time.Minute))))
	require.NoError(t, ledger.CreateTransaction(ctx, newRecord("done", "a", "b", now.Add(-40*time.Minute))))
	require.NoError(t, ledger.UpdateTransactionStatus(ctx, "done", domain.StatusCompleted))
	require.NoError(t, ledger.CreateTransaction(ctx, newRecord("fresh", "a", "b", now)))

	stale, err := ledger.FindStalePendingTransactions(ctx, now.Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "stale-1", stale[0].TransactionID)
	assert.Equal(t, "stale-2", stale[1].TransactionID)

	limited, err := ledger.FindStalePendingTransactions(ctx, now.Add(-10*time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryLedger_ConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = ledger.CreateTransaction(ctx, newRecord(fmt.Sprintf("tx-%d", i), "a", "b", time.Now()))
		}(i)
	}
	wg.Wait()

	all, err := ledger.FindTransactionsByAccountID(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, all, 50)

	seen := make(map[int64]bool)
	for _, tx := range all {
		assert.False(t, seen[tx.ID], "duplicate surrogate id %d", tx.ID)
		seen[tx.ID] = true
	}
}
