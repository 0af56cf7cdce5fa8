package tradeapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = Credentials{KeyID: "key-id", SecretKey: "secret"}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(baseURL),
		WithDataURL(baseURL),
		WithRetryPolicy(RetryPolicy{MaxRetries: 3, Wait: 0, StatusCodes: []int{429, 504}}),
	}, opts...)
	client, err := NewClient(testCreds, opts...)
	require.NoError(t, err)
	return client
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(testCreds)
	require.NoError(t, err)

	assert.Equal(t, LiveBaseURL, client.BaseURL())
	assert.Equal(t, DataBaseURL, client.DataURL())
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
	assert.Equal(t, DefaultRetryPolicy(), client.retry)
	assert.False(t, client.Paper())
}

func TestNewClient_InvalidCredentials(t *testing.T) {
	_, err := NewClient(Credentials{KeyID: "only-key"})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "credentials", vErr.Field)
}

func TestNewClient_InvalidRetryPolicy(t *testing.T) {
	_, err := NewClient(testCreds, WithRetryPolicy(RetryPolicy{MaxRetries: -1}))

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestNewClient_PaperURL(t *testing.T) {
	client, err := NewClient(testCreds, WithBaseURL(PaperBaseURL+"/"))
	require.NoError(t, err)

	assert.Equal(t, PaperBaseURL, client.BaseURL())
	assert.True(t, client.Paper())
}

func TestClient_Request_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/account", r.URL.Path)
		assert.Equal(t, "key-id", r.Header.Get(HeaderKeyID))
		assert.Equal(t, "secret", r.Header.Get(HeaderSecretKey))
		assert.Empty(t, r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	body, err := client.Request(context.Background(), http.MethodGet, "/account", nil)

	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"abc"}`, string(body))
}

func TestClient_Request_OAuthHeader(t *testing.T) {
	var receivedAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedAuth = r.Header.Get("Authorization")
		assert.Empty(t, r.Header.Get(HeaderKeyID))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(Credentials{OAuthToken: "oauth-token"}, WithBaseURL(server.URL))
	require.NoError(t, err)

	body, err := client.Request(context.Background(), http.MethodGet, "/account", nil)

	require.NoError(t, err)
	assert.Nil(t, body)
	assert.Equal(t, "Bearer oauth-token", receivedAuth)
}

func TestClient_Request_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limit exceeded"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Request(context.Background(), http.MethodGet, "/account", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.True(t, apiErr.IsRateLimited())
	assert.Equal(t, "rate limit exceeded", apiErr.Message)
	assert.Equal(t, int32(4), calls.Load())
}

func TestClient_Request_ZeroRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithRetryPolicy(RetryPolicy{MaxRetries: 0, StatusCodes: []int{504}}))
	_, err := client.Request(context.Background(), http.MethodGet, "/account", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Request_SucceedsAfterRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	body, err := client.Request(context.Background(), http.MethodGet, "/clock", nil)

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Request_NonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":40310100,"message":"trade denied due to pattern day trading protection","day_trading_buying_power":"0"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Request(context.Background(), http.MethodPost, "/orders", map[string]any{"symbol": "AAPL"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsForbidden())
	assert.True(t, apiErr.PatternDayTrading())
	assert.Equal(t, "0", apiErr.Details["day_trading_buying_power"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Request_CustomRetryCodes(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithRetryPolicy(RetryPolicy{MaxRetries: 2, StatusCodes: []int{503}}))
	_, err := client.Request(context.Background(), http.MethodGet, "/account", nil)

	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Request_TransportErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	transportErr := errors.New("connection reset")
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, transportErr
	})}

	client := newTestClient(t, "http://api.invalid", WithHTTPClient(hc))
	_, err := client.Request(context.Background(), http.MethodGet, "/account", nil)

	require.ErrorIs(t, err, transportErr)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Request_ContextCancelledDuringWait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithRetryPolicy(RetryPolicy{MaxRetries: 3, Wait: time.Hour, StatusCodes: []int{429}}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Request(ctx, http.MethodGet, "/account", nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Request_QueryAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "open", r.URL.Query().Get("status"))
			assert.Equal(t, "AAPL,TSLA", r.URL.Query().Get("symbols"))
		case http.MethodPatch:
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"qty":"5"}`, string(body))
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	var out []any
	err := client.Get(context.Background(), "/orders", ListOrdersRequest{Status: "open", Symbols: []string{"AAPL", "TSLA"}}, &out)
	require.NoError(t, err)

	err = client.Patch(context.Background(), "/orders/1", map[string]string{"qty": "5"}, &out)
	require.NoError(t, err)
}

func TestClient_Request_PerRequestOverrides(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta3/crypto/us/bars", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, "http://unused.invalid")
	_, err := client.Request(context.Background(), http.MethodGet, "crypto/us/bars", nil,
		OnBaseURL(server.URL+"/"), OnAPIVersion("v1beta3"))

	require.NoError(t, err)
}

func TestClient_Get_DecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	var out map[string]any
	err := client.Get(context.Background(), "/account", nil, &out)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}

func TestClient_Metrics(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	client := newTestClient(t, server.URL, WithMetrics(reg))
	// A second client on the same registry shares the collectors.
	other := newTestClient(t, server.URL, WithMetrics(reg))

	_, err := client.Request(context.Background(), http.MethodGet, "/account", nil)
	require.NoError(t, err)
	_, err = other.Request(context.Background(), http.MethodGet, "/account", nil)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(client.metrics.retries.WithLabelValues("429")))
	assert.Equal(t, float64(2), testutil.ToFloat64(client.metrics.attempts.WithLabelValues("GET", "200")))
	assert.Equal(t, float64(0), testutil.ToFloat64(client.metrics.giveUps))
}

func TestClient_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithRateLimit(1, 1))

	_, err := client.Request(context.Background(), http.MethodGet, "/account", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = client.Request(ctx, http.MethodGet, "/account", nil)

	assert.Error(t, err)
}
