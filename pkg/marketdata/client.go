package marketdata

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

	"github.com/cenkalti/backoff/v4"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultMaxRetries  = 3
	defaultRetryDelay  = 5 * time.Second
	defaultUserAgent   = "stock-ingest/1.0"

	maxErrorBody = 512
)

// Client fetches price records from the upstream HTTP API.
type Client struct {
	url        string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	headers    http.Header
	timer      backoff.Timer
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client. Its Timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithMaxRetries sets the total number of attempts per Fetch.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay sets the fixed pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithHeader adds a static request header, e.g. an API key.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set(key, value)
		}
	}
}

func withTimer(t backoff.Timer) Option {
	return func(c *Client) {
		c.timer = t
	}
}

// NewClient constructs a Client for the given endpoint.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("marketdata: parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("marketdata: endpoint %q must be http or https", endpoint)
	}
	client := &Client{
		url:        u.String(),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		headers:    make(http.Header),
	}
	client.headers.Set("Accept", "application/json")
	client.headers.Set("User-Agent", defaultUserAgent)
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// FetchResult is the outcome of one Fetch call.
type FetchResult struct {
	Records   []StockRecord
	Received  int
	Dropped   int
	Malformed int
	Attempts  int
	OK        bool
}

// Fetch downloads the price list, retrying timeouts, transport failures and
// payload-shape errors up to the configured attempt budget with a fixed delay.
// Exhausting the budget is not an error: the result is empty and OK is false.
// Errors are returned only for failures a retry cannot fix.
func (c *Client) Fetch(ctx context.Context) (*FetchResult, error) {
	logger := logx.WithContext(ctx)
	result := &FetchResult{Records: []StockRecord{}}

	var items []json.RawMessage
	operation := func() error {
		result.Attempts++
		payload, err := c.fetchOnce(ctx)
		if err == nil {
			items = payload
			return nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		logger.Errorf("marketdata: [attempt %d/%d] %s error: %v", result.Attempts, c.maxRetries, Classify(err), err)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.maxRetries-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		logger.Infof("marketdata: retrying in %s", wait)
	}

	var err error
	if c.timer != nil {
		err = backoff.RetryNotifyWithTimer(operation, policy, notify, c.timer)
	} else {
		err = backoff.RetryNotify(operation, policy, notify)
	}
	if err != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("marketdata: fetch aborted: %w", ctx.Err())
		}
		if !IsRetryable(err) {
			return result, err
		}
		logger.Errorw(fmt.Sprintf("marketdata: failed to fetch data after %d attempts", result.Attempts),
			logx.Field("severity", "critical"), logx.Field("error", err.Error()))
		return result, nil
	}

	result.OK = true
	result.Received = len(items)
	for _, raw := range items {
		rec, err := ParseItem(raw)
		if err != nil {
			if errors.Is(err, ErrMalformedField) {
				result.Malformed++
			} else {
				result.Dropped++
			}
			logger.Infow("marketdata: skipping invalid record",
				logx.Field("severity", "warning"),
				logx.Field("record", string(raw)),
				logx.Field("reason", err.Error()))
			continue
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

// fetchOnce performs a single GET and returns the raw array items.
func (c *Client) fetchOnce(ctx context.Context) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("marketdata: build request: %w", err)
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &url.Error{Op: "Read", URL: c.url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadShape, err)
	}
	if items == nil {
		// a literal null decodes into a nil slice
		return nil, fmt.Errorf("%w: got null", ErrPayloadShape)
	}
	return items, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
