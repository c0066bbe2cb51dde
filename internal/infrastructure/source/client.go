// Package source is the HTTP adapter of the upstream loan-origination API.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/dealsync/backend/internal/infrastructure/ratelimit"
)

// Client implements dealsync.DealSource against the source REST API
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    ratelimit.Limiter
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLimiter replaces the default page limiter
func WithLimiter(l ratelimit.Limiter) Option {
	return func(cl *Client) {
		cl.limiter = l
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a source client with the given configuration
func NewClient(config Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    ratelimit.NewTokenBucketLimiter(config.PageInterval, 1),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchPage fetches one page of the window query
func (c *Client) FetchPage(ctx context.Context, partition *dealsync.Partition, window dealsync.Window, page int) (*DealPage, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("apikey", partition.APIKey)
	q.Set("startdate", window.StartDate())
	q.Set("enddate", window.EndDate())
	q.Set("datetype", "1")
	q.Set("page", strconv.Itoa(page))

	body, err := c.doRequest(ctx, "/v1/deals", q)
	if err != nil {
		return nil, err
	}

	var resp DealPage
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", dealsync.ErrSourceInvalidResponse, err)
	}
	return &resp, nil
}

// GetDeal looks up one deal document by loan code
func (c *Client) GetDeal(ctx context.Context, partition *dealsync.Partition, loanCode string) (dealsync.SourceDocument, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return dealsync.SourceDocument{}, err
	}

	q := url.Values{}
	q.Set("apikey", partition.APIKey)
	q.Set("loancode", loanCode)

	body, err := c.doRequest(ctx, "/v1/deal", q)
	if err != nil {
		return dealsync.SourceDocument{}, err
	}

	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return dealsync.SourceDocument{}, fmt.Errorf("%w: deal body is not json", dealsync.ErrSourceInvalidResponse)
	}
	code := dealsync.PeekLoanCode(body)
	if code == "" {
		code = loanCode
	}
	return dealsync.SourceDocument{LoanCode: code, Payload: json.RawMessage(body)}, nil
}

// doRequest performs a GET and maps transport and status failures to domain errors
func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.config.BaseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("source: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", dealsync.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("source: failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && path == "/v1/deal":
		return nil, dealsync.ErrDealNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP %d", dealsync.ErrSourceRateLimited, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: HTTP %d", dealsync.ErrSourceRequestFailed, resp.StatusCode)
	}

	return body, nil
}
