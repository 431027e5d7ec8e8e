package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/transfa/transfer-service/internal/domain"
)

// MemoryLedger is an in-memory implementation of Ledger. It is safe for concurrent
// use and hands out copies so callers can never mutate stored records.
type MemoryLedger struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[string]*domain.Transaction
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{byID: make(map[string]*domain.Transaction)}
}

func (m *MemoryLedger) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[tx.TransactionID]; exists {
		return fmt.Errorf("%w: %s", ErrTransactionConflict, tx.TransactionID)
	}

	m.nextID++
	tx.ID = m.nextID
	tx.Status = domain.StatusPending

	stored := *tx
	m.byID[tx.TransactionID] = &stored
	return nil
}

func (m *MemoryLedger) UpdateTransactionStatus(ctx context.Context, transactionID string, status domain.TransactionStatus) error {
	if !status.IsTerminal() {
		return domain.ErrInvalidStateTransition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[transactionID]
	if !ok {
		return ErrTransactionNotFound
	}
	if stored.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTransactionFinalized, transactionID, stored.Status)
	}
	stored.Status = status
	return nil
}

func (m *MemoryLedger) FindTransactionByTransactionID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.byID[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	found := *stored
	return &found, nil
}

func (m *MemoryLedger) FindTransactionsByAccountID(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	result := m.filter(func(tx *domain.Transaction) bool {
		return tx.SourceAccountID == accountID || tx.TargetAccountID == accountID
	})
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.After(result[j].Timestamp)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func (m *MemoryLedger) FindStalePendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	result := m.filter(func(tx *domain.Transaction) bool {
		return tx.Status == domain.StatusPending && tx.Timestamp.Before(olderThan)
	})
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryLedger) filter(keep func(tx *domain.Transaction) bool) []domain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.Transaction, 0)
	for _, tx := range m.byID {
		if keep(tx) {
			result = append(result, *tx)
		}
	}
	return result
}
