package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/transfer-service/internal/app"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
	"github.com/transfa/transfer-service/pkg/accountclient"
)

type capturingNotifier struct {
	mu        sync.Mutex
	completed []domain.TransactionEvent
	failed    []domain.TransactionEvent
}

func (n *capturingNotifier) PublishTransactionCompleted(ctx context.Context, event domain.TransactionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, event)
	return nil
}

func (n *capturingNotifier) PublishTransactionFailed(ctx context.Context, event domain.TransactionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, event)
	return nil
}

// newAccountService fakes the account-service: every account is ACTIVE and the
// balance check passes for amounts up to 1000.
func newAccountService(t *testing.T, expectedToken string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/accounts/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+expectedToken, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodPost {
			amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
			sufficient := err == nil && amount.LessThanOrEqual(decimal.NewFromInt(1000))
			_ = json.NewEncoder(w).Encode(map[string]bool{"hasSufficientBalance": sufficient})
			return
		}
		id := r.URL.Path[len("/api/accounts/"):]
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"accountId": id, "customerId": 1, "status": "ACTIVE"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestTransferFlow_EndToEnd(t *testing.T) {
	token := signToken(t, jwt.MapClaims{"sub": "user_1"})
	accountService := newAccountService(t, token)

	ledger := store.NewMemoryLedger()
	notifier := &capturingNotifier{}
	transfers := app.NewTransferService(ledger, accountclient.NewClient(accountService.URL, time.Second, 0), nil, notifier, app.TransferOptions{})
	router := newTestRouter(transfers, app.NewQueryService(ledger, nil), RouterConfig{}, 0)

	rec := doRequest(t, router, http.MethodPost, "/transfer", token,
		`{"sourceAccountId":"12345","targetAccountId":"67890","amount":100.50,"description":"d"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.TransactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, domain.StatusCompleted, created.Status)
	assert.Equal(t, json.Number("100.50"), created.Amount)
	assert.NotEmpty(t, created.TransactionID)
	require.Len(t, notifier.completed, 1)
	assert.Empty(t, notifier.failed)

	first := doRequest(t, router, http.MethodGet, "/"+created.TransactionID, token, "")
	second := doRequest(t, router, http.MethodGet, "/"+created.TransactionID, token, "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.JSONEq(t, rec.Body.String(), first.Body.String())

	history := doRequest(t, router, http.MethodGet, "/account/67890", token, "")
	require.Equal(t, http.StatusOK, history.Code)
	var listed []domain.TransactionResponse
	require.NoError(t, json.Unmarshal(history.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.TransactionID, listed[0].TransactionID)

	rejected := doRequest(t, router, http.MethodPost, "/transfer", token,
		`{"sourceAccountId":"12345","targetAccountId":"12345","amount":1}`)
	assert.Equal(t, http.StatusBadRequest, rejected.Code)
	assert.Equal(t, "same-account", decodeError(t, rejected).Reason)
}
