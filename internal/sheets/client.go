// Package sheets implements the client for the external spreadsheet values
// API that backs every tenant's raw datasets. A fetch retrieves one
// rectangular range of rows (A<start>:Z of a named sheet) using the tenant's
// API key.
//
// Every failure is classified before it leaves this package: transient
// upstream trouble (5xx, timeouts, connection errors) is distinguished from
// credential problems (401/403/400) and from contract violations (non-JSON
// body, missing values array), because the refresh coordinator treats the
// three very differently — stale cache retained with a warning, hard error
// with no fetch retry, and hard error respectively.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	// ServiceUnavailable covers upstream outages: 5xx responses, 429s,
	// timeouts, and connection failures. Safe to retry later; the last
	// cached copy remains usable.
	ServiceUnavailable ErrorKind = "service_unavailable"
	// AuthError covers rejected credentials (401/403) and requests the
	// upstream refuses outright (400). Not retryable without operator
	// intervention.
	AuthError ErrorKind = "auth_error"
	// MalformedResponse covers contract violations: unparsable JSON, a body
	// without a values array, or an unexpected status.
	MalformedResponse ErrorKind = "malformed_response"
)

// ClassifiedError is the only error type Fetch returns.
type ClassifiedError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify extracts the classification from an error returned by Fetch.
// Unclassified errors report MalformedResponse, the defensive default for a
// contract we do not recognize.
func Classify(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return MalformedResponse
}

// FetchSpec identifies one rectangular range to fetch.
type FetchSpec struct {
	WorkbookID string
	SheetName  string
	StartRow   int
	APIKey     string
}

// Client fetches raw rows from the spreadsheet values API.
type Client struct {
	endpoint string
	http     *http.Client
	retries  int
}

// New creates a client for the given values-API endpoint. timeout bounds a
// single attempt; retries is the total number of attempts for transient
// failures (minimum 1).
func New(endpoint string, timeout time.Duration, retries int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retries < 1 {
		retries = 1
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
		retries:  retries,
	}
}

// valuesResponse is the expected response body shape.
type valuesResponse struct {
	Values [][]string `json:"values"`
}

// Fetch retrieves the rows of spec's range. Transient failures are retried
// with exponential backoff; other classifications return immediately.
func (c *Client) Fetch(ctx context.Context, spec FetchSpec) ([][]string, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retries; attempt++ {
		rows, err := c.fetchOnce(ctx, spec)
		if err == nil {
			return rows, nil
		}
		lastErr = err

		if Classify(err) != ServiceUnavailable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
		if attempt < c.retries {
			// Exponential backoff: 2s, 4s, ...
			backoff := time.Duration(1<<attempt) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, lastErr
			}
		}
	}

	return nil, lastErr
}

// fetchOnce performs a single fetch attempt.
func (c *Client) fetchOnce(ctx context.Context, spec FetchSpec) ([][]string, error) {
	rangeRef := fmt.Sprintf("%s!A%d:Z", spec.SheetName, spec.StartRow)
	fetchURL := fmt.Sprintf("%s/%s/values/%s?key=%s",
		c.endpoint,
		url.PathEscape(spec.WorkbookID),
		url.PathEscape(rangeRef),
		url.QueryEscape(spec.APIKey),
	)

	req, err := http.NewRequestWithContext(ctx, "GET", fetchURL, nil)
	if err != nil {
		return nil, &ClassifiedError{Kind: MalformedResponse, Message: "failed to build fetch request", Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts, DNS failures, refused connections: the upstream is
		// unreachable, not misbehaving.
		return nil, &ClassifiedError{Kind: ServiceUnavailable, Message: "sheet fetch failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ClassifiedError{
			Kind:    AuthError,
			Message: fmt.Sprintf("sheet API rejected request with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &ClassifiedError{
			Kind:    ServiceUnavailable,
			Message: fmt.Sprintf("sheet API returned status %d", resp.StatusCode),
		}
	default:
		return nil, &ClassifiedError{
			Kind:    MalformedResponse,
			Message: fmt.Sprintf("unexpected status %d from sheet API", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ClassifiedError{Kind: ServiceUnavailable, Message: "failed to read response body", Err: err}
	}

	var decoded valuesResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &ClassifiedError{Kind: MalformedResponse, Message: "failed to decode values response", Err: err}
	}
	if decoded.Values == nil {
		return nil, &ClassifiedError{Kind: MalformedResponse, Message: "values array missing from response"}
	}

	return decoded.Values, nil
}
