/**
 * @description
 * This file defines the `Ledger` interface, the contract for all data access
 * operations on transaction records. The orchestrator and the query service depend
 * on this interface, not on PostgreSQL, which keeps them testable against the
 * in-memory implementation.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/transfa/transfer-service/internal/domain"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrTransactionConflict  = errors.New("transaction id already exists")
	ErrTransactionFinalized = errors.New("transaction already in a terminal status")
)

// Ledger is the durable store of transaction records.
type Ledger interface {
	// CreateTransaction inserts tx in PENDING status and sets tx.ID.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	// UpdateTransactionStatus moves a PENDING record to a terminal status.
	UpdateTransactionStatus(ctx context.Context, transactionID string, status domain.TransactionStatus) error
	FindTransactionByTransactionID(ctx context.Context, transactionID string) (*domain.Transaction, error)
	// FindTransactionsByAccountID returns records where accountID is the source or
	// the target, newest first.
	FindTransactionsByAccountID(ctx context.Context, accountID string) ([]domain.Transaction, error)
	// FindStalePendingTransactions returns PENDING records created before olderThan,
	// oldest first.
	FindStalePendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error)
}
