/**
 * @description
 * This file defines the core domain models for the transfer-service: the ledger
 * record, the inbound transfer request, and the outbound response and event views.
 *
 * @notes
 * - Amounts are `decimal.Decimal` with a fixed scale of two. They are rendered as
 *   JSON numbers with exactly two decimals so 100.5 is sent as 100.50.
 * - Timestamps are UTC and truncated to microseconds, the resolution PostgreSQL
 *   stores, so a record read back from the ledger equals the one that was written.
 */

package domain

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// MaxDescriptionLength is the maximum number of characters accepted in a description.
const MaxDescriptionLength = 255

// AmountScale is the number of fractional digits a transfer amount may carry.
const AmountScale = 2

// MaxAccountIDLength is the longest account identifier the ledger stores.
const MaxAccountIDLength = 64

// MaxAmount is the exclusive upper bound of an amount, NUMERIC(19,2) in the ledger.
var MaxAmount = decimal.New(1, 17)

// TransactionStatus is the lifecycle state of a ledger record.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s TransactionStatus) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// Transaction is the ledger record of a single transfer.
// It maps directly to the `transactions` table.
type Transaction struct {
	ID              int64             `json:"id"`
	TransactionID   string            `json:"transaction_id"`
	SourceAccountID string            `json:"source_account_id"`
	TargetAccountID string            `json:"target_account_id"`
	Amount          decimal.Decimal   `json:"amount"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          TransactionStatus `json:"status"`
	Description     string            `json:"description"`
}

// NewTransaction builds a PENDING record for req. The timestamp is fixed here and
// never changes afterwards.
func NewTransaction(transactionID string, req TransferRequest, now time.Time) *Transaction {
	return &Transaction{
		TransactionID:   transactionID,
		SourceAccountID: strings.TrimSpace(req.SourceAccountID),
		TargetAccountID: strings.TrimSpace(req.TargetAccountID),
		Amount:          req.Amount.Round(AmountScale),
		Timestamp:       NormalizeTimestamp(now),
		Status:          StatusPending,
		Description:     req.Description,
	}
}

// NormalizeTimestamp converts t to UTC at microsecond resolution.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Transition moves the record from PENDING to a terminal status.
func (t *Transaction) Transition(to TransactionStatus) error {
	if t.Status.IsTerminal() {
		return ErrAlreadyFinalized
	}
	if !to.IsTerminal() {
		return ErrInvalidStateTransition
	}
	t.Status = to
	return nil
}

// ToResponse renders the public API view of the record.
func (t Transaction) ToResponse() TransactionResponse {
	return TransactionResponse{
		ID:              t.ID,
		TransactionID:   t.TransactionID,
		SourceAccountID: t.SourceAccountID,
		TargetAccountID: t.TargetAccountID,
		Amount:          FormatAmount(t.Amount),
		Timestamp:       t.Timestamp,
		Status:          t.Status,
		Description:     t.Description,
	}
}

// ToEvent renders the terminal event for the record. errorMessage is empty for
// completed transfers.
func (t Transaction) ToEvent(errorMessage string) TransactionEvent {
	return TransactionEvent{
		TransactionID:   t.TransactionID,
		SourceAccountID: t.SourceAccountID,
		TargetAccountID: t.TargetAccountID,
		Amount:          FormatAmount(t.Amount),
		Timestamp:       t.Timestamp,
		Status:          t.Status,
		Description:     t.Description,
		ErrorMessage:    errorMessage,
	}
}

// FormatAmount renders an amount as a JSON number with a fixed two-decimal scale.
func FormatAmount(amount decimal.Decimal) json.Number {
	return json.Number(amount.StringFixed(AmountScale))
}

// TransferRequest is the DTO for incoming transfer API requests.
type TransferRequest struct {
	SourceAccountID string          `json:"sourceAccountId"`
	TargetAccountID string          `json:"targetAccountId"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description,omitempty"`
}

// Validate runs the structural checks that need no remote call. The checks run
// cheapest first and stop at the first failure.
func (r TransferRequest) Validate() *TransferError {
	source := strings.TrimSpace(r.SourceAccountID)
	target := strings.TrimSpace(r.TargetAccountID)
	if source == "" || target == "" {
		return Invalid(ReasonMissingAccountID, "Source and target account IDs are required")
	}
	if utf8.RuneCountInString(source) > MaxAccountIDLength || utf8.RuneCountInString(target) > MaxAccountIDLength {
		return Invalid(ReasonAccountIDTooLong, "Account IDs cannot exceed 64 characters")
	}
	if source == target {
		return Invalid(ReasonSameAccount, "Source and target accounts cannot be the same")
	}
	if !r.Amount.IsPositive() {
		return Invalid(ReasonNonPositiveAmount, "Transfer amount must be greater than zero")
	}
	if !r.Amount.Equal(r.Amount.Truncate(AmountScale)) {
		return Invalid(ReasonAmountPrecision, "Transfer amount cannot have more than two decimal places")
	}
	if r.Amount.GreaterThanOrEqual(MaxAmount) {
		return Invalid(ReasonAmountTooLarge, "Transfer amount exceeds the supported maximum")
	}
	if utf8.RuneCountInString(r.Description) > MaxDescriptionLength {
		return Invalid(ReasonDescriptionTooLong, "Description cannot exceed 255 characters")
	}
	return nil
}

// TransactionResponse is the API view of a ledger record.
type TransactionResponse struct {
	ID              int64             `json:"id"`
	TransactionID   string            `json:"transactionId"`
	SourceAccountID string            `json:"sourceAccountId"`
	TargetAccountID string            `json:"targetAccountId"`
	Amount          json.Number       `json:"amount"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          TransactionStatus `json:"status"`
	Description     string            `json:"description"`
}

// TransactionEvent is published once per terminal transition.
type TransactionEvent struct {
	TransactionID   string            `json:"transactionId"`
	SourceAccountID string            `json:"sourceAccountId"`
	TargetAccountID string            `json:"targetAccountId"`
	Amount          json.Number       `json:"amount"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          TransactionStatus `json:"status"`
	Description     string            `json:"description"`
	ErrorMessage    string            `json:"errorMessage,omitempty"`
}
