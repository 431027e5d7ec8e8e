package accountclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchAccount_ForwardsBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/accounts/12345", r.URL.Path)
		assert.Equal(t, "Bearer token-abc", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accountId":"12345","customerId":77,"status":"ACTIVE"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, 0)
	account, err := client.FetchAccount(context.Background(), "12345", "token-abc")

	require.NoError(t, err)
	assert.Equal(t, "12345", account.AccountID)
	assert.Equal(t, "77", account.CustomerID.String())
	assert.True(t, account.IsActive())
}

func TestFetchAccount_MapsStatuses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantErr    error
		wantStatus int
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: ErrAccountNotFound},
		{name: "server error", status: http.StatusBadGateway, wantErr: ErrUnavailable, wantStatus: http.StatusBadGateway},
		{name: "throttled", status: http.StatusTooManyRequests, wantErr: ErrUnavailable, wantStatus: http.StatusTooManyRequests},
		{name: "forbidden", status: http.StatusForbidden, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := NewClient(server.URL, time.Second, 0).FetchAccount(context.Background(), "1", "t")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantStatus != 0 {
				var statusErr *StatusError
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, tt.wantStatus, statusErr.StatusCode)
			}
		})
	}
}

func TestFetchAccount_TimeoutIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, 20*time.Millisecond, 0).FetchAccount(context.Background(), "1", "t")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFetchAccount_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accountId":"1","status":"ACTIVE"}`))
	}))
	defer server.Close()

	account, err := NewClient(server.URL, time.Second, 1).FetchAccount(context.Background(), "1", "t")
	require.NoError(t, err)
	assert.Equal(t, "1", account.AccountID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCheckBalance_SendsAmountQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/accounts/12345/validate-balance", r.URL.Path)
		assert.Equal(t, "100.50", r.URL.Query().Get("amount"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hasSufficientBalance":true}`))
	}))
	defer server.Close()

	validation, err := NewClient(server.URL, time.Second, 0).
		CheckBalance(context.Background(), "12345", decimal.RequireFromString("100.5"), "t")
	require.NoError(t, err)
	assert.True(t, validation.Sufficient())
}

func TestBalanceValidation_AcceptsLegacyField(t *testing.T) {
	yes, no := true, false
	assert.True(t, BalanceValidation{HasBalance: &yes}.Sufficient())
	assert.False(t, BalanceValidation{HasBalance: &no}.Sufficient())
	assert.False(t, BalanceValidation{}.Sufficient())
}
