package advboxsync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchPage(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transactions", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totalCount": 120, "data": [{"id": 1}, {"id": 2}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/v1/", "secret", time.Second)
	page, err := c.FetchPage(context.Background(), PageRequest{
		Offset: 50,
		Limit:  50,
		Start:  civil.Date{Year: 2025, Month: 3, Day: 1},
		End:    civil.Date{Year: 2026, Month: 3, Day: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "date_due_end=2026-03-01&date_due_start=2025-03-01&limit=50&offset=50", gotQuery)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, 120, page.Total)
	assert.True(t, page.HasMore(100, 50))
	assert.False(t, page.HasMore(150, 50))
	assert.NotEmpty(t, page.Body)
}

func TestClient_FetchPage_BareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 1}]`))
	}))
	defer srv.Close()

	page, err := NewClient(srv.URL, "t", 0).FetchPage(context.Background(), PageRequest{Limit: 50})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, -1, page.Total)
	assert.False(t, page.HasMore(50, 50))
}

func TestClient_FetchPage_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUpstreamUnauthorized)
			},
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			header: map[string]string{"Retry-After": "7"},
			check: func(t *testing.T, err error) {
				var httpErr *HTTPError
				require.True(t, errors.As(err, &httpErr))
				assert.True(t, httpErr.RateLimited())
				assert.Equal(t, 7*time.Second, httpErr.RetryAfter)
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				var httpErr *HTTPError
				require.True(t, errors.As(err, &httpErr))
				assert.False(t, httpErr.RateLimited())
				assert.Contains(t, httpErr.Error(), "502")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "t", time.Second).FetchPage(context.Background(), PageRequest{Limit: 50})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_FetchPage_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": "nope"`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "t", time.Second).FetchPage(context.Background(), PageRequest{Limit: 50})
	assert.Error(t, err)
}

func TestFetchWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}

	t.Run("recovers after throttling", func(t *testing.T) {
		calls := 0
		page, err := fetchWithRetry(testCtx(), cfg, PageRequest{}, func(context.Context, PageRequest) (*Page, error) {
			calls++
			if calls < 3 {
				return nil, &HTTPError{StatusCode: http.StatusTooManyRequests}
			}
			return &Page{Total: -1}, nil
		})
		require.NoError(t, err)
		assert.NotNil(t, page)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry other failures", func(t *testing.T) {
		calls := 0
		_, err := fetchWithRetry(testCtx(), cfg, PageRequest{}, func(context.Context, PageRequest) (*Page, error) {
			calls++
			return nil, &HTTPError{StatusCode: http.StatusInternalServerError}
		})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrThrottled)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		_, err := fetchWithRetry(testCtx(), cfg, PageRequest{}, func(context.Context, PageRequest) (*Page, error) {
			calls++
			return nil, &HTTPError{StatusCode: http.StatusTooManyRequests}
		})
		assert.ErrorIs(t, err, ErrThrottled)
		assert.Equal(t, 4, calls)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(testCtx())
		cancel()
		_, err := fetchWithRetry(ctx, RetryConfig{MaxRetries: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}, PageRequest{},
			func(context.Context, PageRequest) (*Page, error) {
				return nil, &HTTPError{StatusCode: http.StatusTooManyRequests}
			})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBackoffDelay_HonoursRetryAfter(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}

	assert.Equal(t, time.Second, backoffDelay(cfg, 0, &HTTPError{StatusCode: 429}))
	assert.Equal(t, 4*time.Second, backoffDelay(cfg, 2, &HTTPError{StatusCode: 429}))
	assert.Equal(t, 10*time.Second, backoffDelay(cfg, 5, &HTTPError{StatusCode: 429}))
	assert.Equal(t, 6*time.Second, backoffDelay(cfg, 0, &HTTPError{StatusCode: 429, RetryAfter: 6 * time.Second}))
	assert.Equal(t, 10*time.Second, backoffDelay(cfg, 0, &HTTPError{StatusCode: 429, RetryAfter: time.Minute}))
}
