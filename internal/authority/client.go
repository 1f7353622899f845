// Package authority implements the HTTP client for the national e-invoice
// clearance authority's published REST protocol.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single authority call.
	DefaultTimeout = 30 * time.Second

	// HashHeader carries the authority-declared content hash on downloads.
	HashHeader = "X-Invoice-Hash"
)

// APIError is a protocol-level failure: the authority answered, but with a
// non-2xx status. Transport failures are returned as-is from the underlying
// http.Client.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("authority returned %d [%s]: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("authority returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the authority's authentication, session, submission, query
// and download endpoints. It is stateless; session tokens are passed per call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client, useful for testing and custom
// transports.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-call HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates an authority client for the given base endpoint.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return c
}

// Authenticate exchanges the long-lived token for a session access token.
func (c *Client) Authenticate(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/token", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenSession opens the single stateful processing session for the token's
// context.
func (c *Client) OpenSession(ctx context.Context, accessToken string) (*OpenSessionResponse, error) {
	var resp OpenSessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/session/open", accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CloseSession tears down an open session. Authority-side sessions also time
// out on their own, so callers treat failures here as non-fatal.
func (c *Client) CloseSession(ctx context.Context, accessToken, sessionRef string) error {
	path := "/api/v1/session/" + url.PathEscape(sessionRef)
	return c.doJSON(ctx, http.MethodDelete, path, accessToken, nil, nil)
}

// SendInvoice submits one invoice payload into the session. This call is not
// idempotent: a transport failure leaves the outcome unknown.
func (c *Client) SendInvoice(ctx context.Context, accessToken, sessionRef string, req SendInvoiceRequest) (*SendInvoiceResponse, error) {
	path := "/api/v1/session/" + url.PathEscape(sessionRef) + "/invoices"
	var resp SendInvoiceResponse
	if err := c.doJSON(ctx, http.MethodPost, path, accessToken, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InvoiceStatus polls the processing status of an acknowledged submission.
func (c *Client) InvoiceStatus(ctx context.Context, accessToken, sessionRef, elementRef string) (*InvoiceStatusResponse, error) {
	path := "/api/v1/session/" + url.PathEscape(sessionRef) + "/invoices/" + url.PathEscape(elementRef) + "/status"
	var resp InvoiceStatusResponse
	if err := c.doJSON(ctx, http.MethodGet, path, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LookupByHash reconciles a submission with unknown outcome by payload hash.
// A 404 means the authority never received the payload; a 501 means the
// deployment does not support reconciliation.
func (c *Client) LookupByHash(ctx context.Context, accessToken, sessionRef, payloadHash string) (*LookupResponse, error) {
	path := "/api/v1/session/" + url.PathEscape(sessionRef) + "/invoices/lookup?hash=" + url.QueryEscape(payloadHash)
	var resp LookupResponse
	if err := c.doJSON(ctx, http.MethodGet, path, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Query lists invoice metadata matching the filter, one page per call.
func (c *Client) Query(ctx context.Context, accessToken, sessionRef string, req QueryRequest) (*QueryResponse, error) {
	q := url.Values{}
	if !req.Since.IsZero() {
		q.Set("since", req.Since.UTC().Format(time.RFC3339))
	}
	if !req.Until.IsZero() {
		q.Set("until", req.Until.UTC().Format(time.RFC3339))
	}
	if req.SubjectTaxID != "" {
		q.Set("subjectTaxId", req.SubjectTaxID)
	}
	if req.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(req.PageSize))
	}
	if req.Cursor != "" {
		q.Set("cursor", req.Cursor)
	}

	path := "/api/v1/session/" + url.PathEscape(sessionRef) + "/query"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp QueryResponse
	if err := c.doJSON(ctx, http.MethodGet, path, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Download fetches the content of a cleared invoice. The second return value
// is the authority-declared content hash from the response header.
func (c *Client) Download(ctx context.Context, accessToken, referenceNumber string) ([]byte, string, error) {
	path := "/api/v1/invoices/" + url.PathEscape(referenceNumber) + "/download"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, "", apiError(httpResp.StatusCode, body)
	}

	return body, httpResp.Header.Get(HashHeader), nil
}

// doJSON performs a JSON request against the authority.
func (c *Client) doJSON(ctx context.Context, method, path, accessToken string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("authority call",
		"method", method,
		"path", path,
		"status", httpResp.StatusCode,
		"elapsed", time.Since(start),
	)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return apiError(httpResp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

func apiError(statusCode int, body []byte) *APIError {
	var errResp ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Code != "" {
		return &APIError{StatusCode: statusCode, Code: errResp.Code, Message: errResp.Message}
	}
	return &APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
}
