package bonda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrNotConfigured = errors.New("bonda api not configured")

// maxErrorBody bounds how much of a non-vendor response is kept in a StatusError.
const maxErrorBody = 512

// StatusError is a vendor response that carried no vendor JSON body.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: %s (status: %d)", e.Body, e.StatusCode)
}

func newStatusError(status int, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = append(body[:maxErrorBody:maxErrorBody], "..."...)
	}
	return &StatusError{StatusCode: status, Body: strings.ToValidUTF8(string(body), "")}
}

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	MaxRetries           uint64
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		MaxRetries:           3,
		RetryInitialInterval: 300 * time.Millisecond,
		RetryMaxInterval:     3 * time.Second,
	}
}

func (c *Client) affiliatesPath(ms Microsite, code string) string {
	p := fmt.Sprintf("/api/v2/microsite/%s/affiliates", url.PathEscape(ms.ID))
	if code != "" {
		p += "/" + url.PathEscape(code)
	}
	return p
}

// CreateAffiliate registers a new affiliate in the microsite. A user deleted
// less than 30 days ago is restored by the vendor.
func (c *Client) CreateAffiliate(ctx context.Context, ms Microsite, req AffiliateRequest) (*AffiliateResponse, error) {
	return c.affiliateCall(ctx, http.MethodPost, ms, "", req)
}

// UpdateAffiliate sends only the non-empty fields of req.
func (c *Client) UpdateAffiliate(ctx context.Context, ms Microsite, code string, req AffiliateRequest) (*AffiliateResponse, error) {
	req.Code = ""
	return c.affiliateCall(ctx, http.MethodPatch, ms, code, req)
}

// DeleteAffiliate soft-deletes the affiliate for 30 days.
func (c *Client) DeleteAffiliate(ctx context.Context, ms Microsite, code string) (*DeleteResponse, error) {
	status, body, err := c.doRequest(ctx, http.MethodDelete, c.affiliatesPath(ms, code), c.token(ms), nil)
	if err != nil {
		return nil, err
	}

	var out DeleteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	out.StatusCode = status
	return &out, nil
}

// Endpoint is the absolute URL of the affiliates collection, for audit logs.
func (c *Client) Endpoint(ms Microsite) string {
	return c.BaseURL + c.affiliatesPath(ms, "")
}

func (c *Client) affiliateCall(ctx context.Context, method string, ms Microsite, code string, req AffiliateRequest) (*AffiliateResponse, error) {
	status, body, err := c.doRequest(ctx, method, c.affiliatesPath(ms, code), c.token(ms), req)
	if err != nil {
		return nil, err
	}

	var out AffiliateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	out.StatusCode = status
	out.Raw = body
	return &out, nil
}

func (c *Client) token(ms Microsite) string {
	if ms.APIKey != "" {
		return ms.APIKey
	}
	return c.APIKey
}

// doRequest retries transport failures and 5xx responses. 4xx responses with
// a vendor JSON body are returned to the caller as-is.
func (c *Client) doRequest(ctx context.Context, method, endpoint, token string, body interface{}) (int, []byte, error) {
	if c.BaseURL == "" || token == "" {
		return 0, nil, ErrNotConfigured
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = b
	}

	var (
		status   int
		respBody []byte
	)
	op := func() error {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+endpoint, bodyReader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("token", token)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		status = resp.StatusCode

		switch {
		case status >= 500:
			return newStatusError(status, respBody)
		case status >= 400 && !isVendorBody(respBody):
			return backoff.Permanent(newStatusError(status, respBody))
		}
		return nil
	}

	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		return status, respBody, err
	}
	return status, respBody, nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryInitialInterval
	b.MaxInterval = c.RetryMaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.MaxRetries), ctx)
}

func isVendorBody(body []byte) bool {
	var probe struct {
		Success *bool `json:"success"`
	}
	return json.Unmarshal(body, &probe) == nil && probe.Success != nil
}
