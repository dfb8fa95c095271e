package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantTimer satisfies backoff.Timer, records every requested wait and fires immediately.
type instantTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func newInstantTimer() *instantTimer {
	return &instantTimer{c: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func (t *instantTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}

func newTestClient(t *testing.T, endpoint string, opts ...Option) (*Client, *instantTimer) {
	t.Helper()
	timer := newInstantTimer()
	opts = append([]Option{WithRetryDelay(5 * time.Second), withTimer(timer)}, opts...)
	client, err := NewClient(endpoint, opts...)
	require.NoError(t, err)
	return client, timer
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestFetchDropsItemsMissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, `[{"symbol":"AAA","price":10.5,"date":"2024-01-01"},{"symbol":"BBB","date":"2024-01-01"}]`)
	}))
	defer server.Close()

	client, timer := newTestClient(t, server.URL)
	res, err := client.Fetch(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "AAA", res.Records[0].Symbol)
	assert.Equal(t, "10.5", res.Records[0].Price.String())
	assert.Equal(t, "2024-01-01", res.Records[0].DateString())
	assert.Equal(t, 2, res.Received)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 0, res.Malformed)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, timer.Waits())
}

func TestFetchCountsValidAndInvalid(t *testing.T) {
	const valid, invalid = 7, 4
	body := "["
	for i := 0; i < valid; i++ {
		body += fmt.Sprintf(`{"symbol":"S%d","price":%d.25,"date":"2024-01-0%d","extra":true},`, i, i, i%9+1)
	}
	for i := 0; i < invalid; i++ {
		body += fmt.Sprintf(`{"symbol":"X%d","price":1},`, i)
	}
	body = body[:len(body)-1] + "]"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, body)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL)
	res, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Records, valid)
	assert.Equal(t, invalid, res.Dropped)
	assert.Equal(t, valid+invalid, res.Received)
	for i, rec := range res.Records {
		assert.Equal(t, fmt.Sprintf("S%d", i), rec.Symbol, "order must follow the payload")
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeBody(w, http.StatusBadGateway, `upstream down`)
	}))
	defer server.Close()

	client, timer := newTestClient(t, server.URL, WithMaxRetries(3))
	res, err := client.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.OK)
	assert.Empty(t, res.Records)
	assert.Equal(t, 3, res.Attempts)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, timer.Waits(), "sleep between attempts, not after the last")
}

func TestFetchSingleAttemptNeverSleeps(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusInternalServerError, `boom`)
	}))
	defer server.Close()

	client, timer := newTestClient(t, server.URL, WithMaxRetries(1))
	res, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, timer.Waits())
}

func TestFetchRetriesPayloadShape(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			writeBody(w, http.StatusOK, `{"data":[]}`)
		case 2:
			writeBody(w, http.StatusOK, `not json`)
		default:
			writeBody(w, http.StatusOK, `[{"symbol":"AAA","price":"11.0","date":"2024-01-01"}]`)
		}
	}))
	defer server.Close()

	client, timer := newTestClient(t, server.URL, WithMaxRetries(3))
	res, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, timer.Waits(), 2)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "11", res.Records[0].Price.String())
}

func TestFetchRetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, timer := newTestClient(t, server.URL, WithMaxRetries(2), WithTimeout(30*time.Millisecond))
	res, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, timer.Waits(), 1)
}

func TestFetchRetriesConnectionErrors(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	client, timer := newTestClient(t, endpoint, WithMaxRetries(2))
	res, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, timer.Waits(), 1)
}

func TestFetchCancelledContextIsFatal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeBody(w, http.StatusOK, `[]`)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client, timer := newTestClient(t, server.URL)
	res, err := client.Fetch(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, timer.Waits())
	assert.EqualValues(t, 0, calls.Load())
}

func TestFetchSendsHeaders(t *testing.T) {
	var gotKey, gotAccept, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotAccept = r.Header.Get("Accept")
		gotMethod = r.Method
		writeBody(w, http.StatusOK, `[]`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, WithHeader("X-Api-Key", "secret"))
	res, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.Records)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, http.MethodGet, gotMethod)
}

func TestNewClientRejectsBadEndpoint(t *testing.T) {
	_, err := NewClient("ftp://example.com/prices")
	require.Error(t, err)
	_, err = NewClient("")
	require.Error(t, err)

	client, err := NewClient("https://example.com/prices")
	require.NoError(t, err)
	assert.Equal(t, defaultMaxRetries, client.maxRetries)
	assert.Equal(t, defaultRetryDelay, client.retryDelay)
	assert.Equal(t, defaultHTTPTimeout, client.httpClient.Timeout)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Failure
	}{
		{"nil", nil, FailureNone},
		{"payload", fmt.Errorf("%w: got object", ErrPayloadShape), FailurePayload},
		{"status", &StatusError{StatusCode: 503}, FailureTransport},
		{"timeout", &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, FailureTimeout},
		{"connection refused", &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}}, FailureTransport},
		{"unknown", errors.New("boom"), FailureFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
			assert.Equal(t, tt.want != FailureNone && tt.want != FailureFatal, IsRetryable(tt.err))
		})
	}
}
