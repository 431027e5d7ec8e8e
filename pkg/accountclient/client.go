/**
 * @description
 * This package provides a client for communicating with the account-service.
 * It fetches accounts and asks the account-service whether an account can cover
 * a given amount. The caller's bearer token is forwarded on every request.
 *
 * @dependencies
 * - github.com/go-resty/resty/v2: HTTP client with timeouts and retries.
 * - github.com/shopspring/decimal: Amounts are sent as exact decimals.
 */
package accountclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// StatusActive is the only account status that allows money movement.
const StatusActive = "ACTIVE"

var (
	ErrAccountNotFound = errors.New("account not found")
	// ErrUnavailable covers transport failures, timeouts and 5xx/429 responses.
	ErrUnavailable = errors.New("account service unavailable")
)

// StatusError is returned for an unexpected non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("account service returned error status %d", e.StatusCode)
}

// Account is the account-service view of an account.
type Account struct {
	AccountID     string      `json:"accountId"`
	AccountNumber string      `json:"accountNumber,omitempty"`
	CustomerID    json.Number `json:"customerId"`
	Status        string      `json:"status"`
}

// IsActive reports whether the account status is exactly ACTIVE.
func (a Account) IsActive() bool {
	return a.Status == StatusActive
}

// BalanceValidation is the response of the validate-balance endpoint.
type BalanceValidation struct {
	HasSufficientBalance bool `json:"hasSufficientBalance"`
	// HasBalance is the field name used by older account-service builds.
	HasBalance *bool `json:"hasBalance,omitempty"`
}

// Sufficient reports whether the account can cover the requested amount.
func (b BalanceValidation) Sufficient() bool {
	return b.HasSufficientBalance || (b.HasBalance != nil && *b.HasBalance)
}

// Client is a client for the account service.
type Client struct {
	http *resty.Client
}

// NewClient creates a new account service client. retryCount applies to
// transport failures and 5xx responses only.
func NewClient(baseURL string, timeout time.Duration, retryCount int) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retryCount < 0 {
		retryCount = 0
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/")).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{http: httpClient}
}

func (c *Client) request(ctx context.Context, credential string) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if token := strings.TrimSpace(credential); token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// FetchAccount calls GET /api/accounts/{accountId}.
func (c *Client) FetchAccount(ctx context.Context, accountID string, credential string) (*Account, error) {
	resp, err := c.request(ctx, credential).
		SetPathParam("accountId", accountID).
		SetResult(&Account{}).
		Get("/api/accounts/{accountId}")
	if err := classify(resp, err, accountID); err != nil {
		return nil, err
	}

	account, ok := resp.Result().(*Account)
	if !ok || account == nil {
		return nil, fmt.Errorf("%w: empty account payload for %s", ErrUnavailable, accountID)
	}
	return account, nil
}

// CheckBalance calls POST /api/accounts/{accountId}/validate-balance?amount=…
func (c *Client) CheckBalance(ctx context.Context, accountID string, amount decimal.Decimal, credential string) (*BalanceValidation, error) {
	resp, err := c.request(ctx, credential).
		SetPathParam("accountId", accountID).
		SetQueryParam("amount", amount.StringFixed(2)).
		SetResult(&BalanceValidation{}).
		Post("/api/accounts/{accountId}/validate-balance")
	if err := classify(resp, err, accountID); err != nil {
		return nil, err
	}

	validation, ok := resp.Result().(*BalanceValidation)
	if !ok || validation == nil {
		return nil, fmt.Errorf("%w: empty balance payload for %s", ErrUnavailable, accountID)
	}
	return validation, nil
}

func classify(resp *resty.Response, err error, accountID string) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	status := resp.StatusCode()
	switch {
	case status < http.StatusBadRequest:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	case status >= http.StatusInternalServerError,
		status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %w", ErrUnavailable, &StatusError{StatusCode: status, Body: resp.String()})
	default:
		return &StatusError{StatusCode: status, Body: resp.String()}
	}
}
