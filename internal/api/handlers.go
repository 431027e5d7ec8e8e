/**
 * @description
 * This file contains the HTTP handlers for the transfer-service API. Handlers
 * decode requests, delegate to the application services and map their errors to
 * HTTP statuses with a stable JSON error body.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/domain, internal/store: Request/response models and error kinds.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

const (
	codeInvalidRequest        = "INVALID_REQUEST"
	codeInvalidTransaction    = "INVALID_TRANSACTION"
	codeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	codeTransactionNotFound   = "TRANSACTION_NOT_FOUND"
	codeUnauthorized          = "UNAUTHORIZED"
	codeForbidden             = "FORBIDDEN"
	codeRateLimited           = "RATE_LIMITED"
	codeInternalError         = "INTERNAL_ERROR"
)

// TransferProcessor runs the transfer orchestration.
type TransferProcessor interface {
	ProcessTransfer(ctx context.Context, req domain.TransferRequest, credential string) (*domain.TransactionResponse, error)
}

// TransactionQuerier serves ledger reads.
type TransactionQuerier interface {
	GetTransaction(ctx context.Context, transactionID string) (*domain.TransactionResponse, error)
	GetAccountTransactions(ctx context.Context, accountID string) ([]domain.TransactionResponse, error)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// TransactionHandlers holds the dependencies of the transaction endpoints.
type TransactionHandlers struct {
	transfers               TransferProcessor
	queries                 TransactionQuerier
	dependencyFailureStatus int
}

// NewTransactionHandlers creates the handlers. dependencyFailureStatus is the
// HTTP status used for rejections caused by an unavailable dependency.
func NewTransactionHandlers(transfers TransferProcessor, queries TransactionQuerier, dependencyFailureStatus int) *TransactionHandlers {
	if dependencyFailureStatus != http.StatusServiceUnavailable {
		dependencyFailureStatus = http.StatusBadRequest
	}
	return &TransactionHandlers{
		transfers:               transfers,
		queries:                 queries,
		dependencyFailureStatus: dependencyFailureStatus,
	}
}

// TransferHandler handles POST /transfer.
func (h *TransactionHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body", "")
		return
	}

	response, err := h.transfers.ProcessTransfer(r.Context(), req, GetBearerToken(r.Context()))
	if err != nil {
		h.writeTransferError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, response)
}

// GetTransactionHandler handles GET /{transactionId}.
func (h *TransactionHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	transactionID := strings.TrimSpace(chi.URLParam(r, "transactionId"))

	response, err := h.queries.GetTransaction(r.Context(), transactionID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			writeError(w, http.StatusNotFound, codeTransactionNotFound, "Transaction not found: "+transactionID, "")
			return
		}
		log.Printf("level=error component=api msg=\"transaction lookup failed\" transaction_id=%s err=%v", transactionID, err)
		writeError(w, http.StatusInternalServerError, codeInternalError, "Internal server error", "")
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// GetAccountTransactionsHandler handles GET /account/{accountId}.
func (h *TransactionHandlers) GetAccountTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(chi.URLParam(r, "accountId"))

	responses, err := h.queries.GetAccountTransactions(r.Context(), accountID)
	if err != nil {
		log.Printf("level=error component=api msg=\"account history lookup failed\" account_id=%s err=%v", accountID, err)
		writeError(w, http.StatusInternalServerError, codeInternalError, "Internal server error", "")
		return
	}
	if responses == nil {
		responses = []domain.TransactionResponse{}
	}

	writeJSON(w, http.StatusOK, responses)
}

func (h *TransactionHandlers) writeTransferError(w http.ResponseWriter, err error) {
	var terr *domain.TransferError
	if errors.As(err, &terr) {
		status, code := http.StatusBadRequest, codeInvalidTransaction
		if terr.DependencyUnavailable() {
			status, code = h.dependencyFailureStatus, codeDependencyUnavailable
		}
		writeError(w, status, code, terr.Message, string(terr.Reason))
		return
	}

	log.Printf("level=error component=api msg=\"transfer failed unexpectedly\" err=%v", err)
	writeError(w, http.StatusInternalServerError, codeInternalError, "Internal server error", "")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message, reason string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message, Reason: reason})
}
