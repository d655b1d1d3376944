// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"shelfsync/internal/credential"
	"shelfsync/internal/logger"
)

const requestTimeout = 15 * time.Second

// APIError is a non-2xx response from the inventory service, carrying the
// server's structured error fields when it sent any.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inventory API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("inventory API error %d: %s", e.StatusCode, e.Message)
}

// Client talks to the inventory service and the UPC lookup service. It injects
// the stored access token on inventory calls and tags every request with a
// fresh X-Request-ID so server logs can be correlated with ours.
type Client struct {
	BaseURL    string
	UPCBaseURL string
	HTTPClient *http.Client

	creds *credential.Store
}

func NewClient(baseURL, upcBaseURL string, creds *credential.Store) *Client {
	return &Client{
		BaseURL:    baseURL,
		UPCBaseURL: upcBaseURL,
		creds:      creds,
		HTTPClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 5,
			},
		},
	}
}

// newRequest builds a JSON request. When authed is true the stored access
// token is attached; a missing token is left for the server to reject so the
// 401 flows through the normal error path.
func (c *Client) newRequest(ctx context.Context, method, url string, body interface{}, authed bool) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", method, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authed {
		token, err := c.creds.Get(credential.KeyAccessToken)
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			return nil, fmt.Errorf("reading access token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return req, nil
}

// do executes the request and decodes a 2xx body into out (when out is
// non-nil). Non-2xx responses become *APIError.
func (c *Client) do(req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		logger.LogError("API %s %s failed: %v", req.Method, req.URL.Path, err)
		return fmt.Errorf("executing %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	logger.LogAPICall(req.Method, req.URL.Path, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.buildAPIError(req, resp, body)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response from %s: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) buildAPIError(req *http.Request, resp *http.Response, body []byte) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		RequestID:  req.Header.Get("X-Request-ID"),
	}

	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Code != "" {
			apiErr.Code = payload.Code
		}
		switch {
		case payload.Message != "":
			apiErr.Message = payload.Message
		case payload.Error != "":
			apiErr.Message = payload.Error
		case payload.Details != "":
			apiErr.Message = payload.Details
		}
	}

	return apiErr
}

// getJSON is the common authenticated GET path.
func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, url, nil, true)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// getJSONWithRetry retries transient GET failures with a short backoff. Only
// used for non-critical reads; mutations are never retried automatically.
func (c *Client) getJSONWithRetry(ctx context.Context, url string, out interface{}, maxRetries int) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := c.getJSON(ctx, url, out)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			// The server understood us and said no; retrying will not help.
			return err
		}

		lastErr = err
		logger.LogWarn("GET %s attempt %d failed: %v", url, attempt, err)

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return fmt.Errorf("request failed after %d attempts: %w", maxRetries, lastErr)
}

// decodeList tolerates both a bare JSON array and the common envelope shapes
// the service has used over time.
func decodeList(payload interface{}) []interface{} {
	switch val := payload.(type) {
	case []interface{}:
		return val
	case map[string]interface{}:
		for _, key := range []string{"items", "data", "results", "records"} {
			if nested, ok := val[key].([]interface{}); ok {
				return nested
			}
		}
	}
	return nil
}

// decodeObject unwraps single-entity envelopes.
func decodeObject(payload interface{}) map[string]interface{} {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return nil
	}
	for _, key := range []string{"item", "data", "result"} {
		if nested, ok := obj[key].(map[string]interface{}); ok {
			return nested
		}
	}
	return obj
}

// stringField returns the first present key's value as a string.
func stringField(data map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := data[key]; ok {
			switch val := v.(type) {
			case string:
				return val
			case float64:
				return fmt.Sprintf("%.0f", val)
			}
		}
	}
	return ""
}
