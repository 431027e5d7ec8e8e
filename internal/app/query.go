package app

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

// TransactionCache holds terminal records for repeated reads.
type TransactionCache interface {
	Get(ctx context.Context, transactionID string) (*domain.Transaction, error)
	Put(ctx context.Context, tx *domain.Transaction) error
}

// QueryService serves read-only views of the ledger. It never calls a gateway.
type QueryService struct {
	ledger store.Ledger
	cache  TransactionCache
}

// NewQueryService creates a query service. cache may be nil.
func NewQueryService(ledger store.Ledger, cache TransactionCache) *QueryService {
	return &QueryService{ledger: ledger, cache: cache}
}

// GetTransaction returns the record with transactionID or store.ErrTransactionNotFound.
func (q *QueryService) GetTransaction(ctx context.Context, transactionID string) (*domain.TransactionResponse, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, store.ErrTransactionNotFound
	}

	if q.cache != nil {
		cached, err := q.cache.Get(ctx, transactionID)
		if err == nil {
			response := cached.ToResponse()
			return &response, nil
		}
		if !errors.Is(err, store.ErrCacheMiss) {
			log.Printf("level=warn component=query msg=\"cache read failed\" transaction_id=%s err=%v", transactionID, err)
		}
	}

	tx, err := q.ledger.FindTransactionByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if q.cache != nil && tx.Status.IsTerminal() {
		if err := q.cache.Put(ctx, tx); err != nil {
			log.Printf("level=warn component=query msg=\"cache write failed\" transaction_id=%s err=%v", transactionID, err)
		}
	}

	response := tx.ToResponse()
	return &response, nil
}

// GetAccountTransactions returns every record where accountID is the source or
// the target, newest first. The result is never nil.
func (q *QueryService) GetAccountTransactions(ctx context.Context, accountID string) ([]domain.TransactionResponse, error) {
	accountID = strings.TrimSpace(accountID)
	responses := make([]domain.TransactionResponse, 0)
	if accountID == "" {
		return responses, nil
	}

	transactions, err := q.ledger.FindTransactionsByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, tx := range transactions {
		responses = append(responses, tx.ToResponse())
	}
	return responses, nil
}
