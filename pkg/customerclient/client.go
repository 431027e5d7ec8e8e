/**
 * @description
 * Client for the customer-service. The transfer flow uses it to confirm that the
 * customer owning an account is still allowed to move money.
 *
 * @dependencies
 * - github.com/go-resty/resty/v2: HTTP client with timeouts and retries.
 */
package customerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrUnavailable      = errors.New("customer service unavailable")
)

// StatusError is returned for an unexpected non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("customer service returned error status %d", e.StatusCode)
}

type Customer struct {
	ID        json.Number `json:"id"`
	FirstName string      `json:"firstName,omitempty"`
	LastName  string      `json:"lastName,omitempty"`
	Email     string      `json:"email,omitempty"`
	Status    string      `json:"status,omitempty"`
}

type Validation struct {
	Valid bool `json:"valid"`
}

type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration, retryCount int) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retryCount < 0 {
		retryCount = 0
	}

	return &Client{http: resty.New().
		SetBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/")).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		}),
	}
}

func (c *Client) request(ctx context.Context, credential string) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if token := strings.TrimSpace(credential); token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// GetCustomer calls GET /api/customers/{customerId}.
func (c *Client) GetCustomer(ctx context.Context, customerID string, credential string) (*Customer, error) {
	resp, err := c.request(ctx, credential).
		SetPathParam("customerId", customerID).
		SetResult(&Customer{}).
		Get("/api/customers/{customerId}")
	if err := classify(resp, err, customerID); err != nil {
		return nil, err
	}

	customer, ok := resp.Result().(*Customer)
	if !ok || customer == nil {
		return nil, fmt.Errorf("%w: empty customer payload for %s", ErrUnavailable, customerID)
	}
	return customer, nil
}

// ValidateCustomer calls GET /api/customers/{customerId}/validate and reports
// whether the customer may transact.
func (c *Client) ValidateCustomer(ctx context.Context, customerID string, credential string) (bool, error) {
	resp, err := c.request(ctx, credential).
		SetPathParam("customerId", customerID).
		SetResult(&Validation{}).
		Get("/api/customers/{customerId}/validate")
	if err := classify(resp, err, customerID); err != nil {
		return false, err
	}

	validation, ok := resp.Result().(*Validation)
	if !ok || validation == nil {
		return false, fmt.Errorf("%w: empty validation payload for %s", ErrUnavailable, customerID)
	}
	return validation.Valid, nil
}

func classify(resp *resty.Response, err error, customerID string) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	status := resp.StatusCode()
	switch {
	case status < http.StatusBadRequest:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	case status >= http.StatusInternalServerError,
		status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %w", ErrUnavailable, &StatusError{StatusCode: status, Body: resp.String()})
	default:
		return &StatusError{StatusCode: status, Body: resp.String()}
	}
}
