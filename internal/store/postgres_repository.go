/**
 * @description
 * This file provides the PostgreSQL implementation of the `Ledger` interface.
 * Every write is a single statement, so each create and each status transition is
 * atomic and concurrent readers never observe a partially written record.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: NUMERIC amounts are read back as exact decimals.
 */

package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolationCode = "23505"

const selectTransactionColumns = `
	SELECT id, transaction_id, source_account_id, target_account_id, amount::text,
	       timestamp, status, COALESCE(description, '') AS description
	FROM transactions
`

// PostgresLedger is a concrete implementation of the Ledger interface for PostgreSQL.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger creates a new instance of PostgresLedger.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureSchema creates the transactions table and its indexes when missing.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateTransaction inserts a new PENDING record and assigns its surrogate id.
func (r *PostgresLedger) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			transaction_id,
			source_account_id,
			target_account_id,
			amount,
			timestamp,
			status,
			description
		)
		VALUES ($1, $2, $3, $4::numeric, $5, 'PENDING', NULLIF($6, ''))
		RETURNING id
	`
	var id int64
	err := r.db.QueryRow(ctx, query,
		tx.TransactionID,
		tx.SourceAccountID,
		tx.TargetAccountID,
		tx.Amount.StringFixed(domain.AmountScale),
		tx.Timestamp,
		tx.Description,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, tx.TransactionID)
		}
		return err
	}

	tx.ID = id
	tx.Status = domain.StatusPending
	return nil
}

// UpdateTransactionStatus transitions a PENDING record. The status guard in the
// WHERE clause keeps terminal records immutable.
func (r *PostgresLedger) UpdateTransactionStatus(ctx context.Context, transactionID string, status domain.TransactionStatus) error {
	if !status.IsTerminal() {
		return domain.ErrInvalidStateTransition
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE transactions SET status = $2 WHERE transaction_id = $1 AND status = 'PENDING'`,
		transactionID, string(status),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = r.db.QueryRow(ctx, `SELECT status FROM transactions WHERE transaction_id = $1`, transactionID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return err
	}
	return fmt.Errorf("%w: %s is %s", ErrTransactionFinalized, transactionID, current)
}

// FindTransactionByTransactionID retrieves a single record by its generated identifier.
func (r *PostgresLedger) FindTransactionByTransactionID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, selectTransactionColumns+` WHERE transaction_id = $1`, transactionID)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// FindTransactionsByAccountID retrieves every record the account took part in, newest first.
func (r *PostgresLedger) FindTransactionsByAccountID(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	query := selectTransactionColumns + `
		WHERE source_account_id = $1 OR target_account_id = $1
		ORDER BY timestamp DESC, id DESC
	`
	return r.queryTransactions(ctx, query, accountID)
}

// FindStalePendingTransactions lists PENDING records older than the cutoff.
func (r *PostgresLedger) FindStalePendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := selectTransactionColumns + `
		WHERE status = 'PENDING' AND timestamp < $1
		ORDER BY timestamp ASC, id ASC
		LIMIT $2
	`
	return r.queryTransactions(ctx, query, olderThan, limit)
}

func (r *PostgresLedger) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx     domain.Transaction
		amount string
		status string
	)
	err := row.Scan(
		&tx.ID,
		&tx.TransactionID,
		&tx.SourceAccountID,
		&tx.TargetAccountID,
		&amount,
		&tx.Timestamp,
		&status,
		&tx.Description,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q for %s: %w", amount, tx.TransactionID, err)
	}
	tx.Amount = parsed
	tx.Status = domain.TransactionStatus(status)
	tx.Timestamp = domain.NormalizeTimestamp(tx.Timestamp)
	return &tx, nil
}
