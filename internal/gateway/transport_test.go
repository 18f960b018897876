package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
)

func newTestClient(url string) *Client {
	return New(Options{
		Name:           "test",
		BaseURL:        url,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		Headers:        map[string]string{"X-Api-Key": "k"},
	})
}

func TestDoRetriesUpstreamFailuresWhenAllowed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Do(context.Background(), Request{Op: "ping", Path: "/", Retry: true})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoDoesNotRetryWithoutPermission(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Do(context.Background(), Request{Op: "create", Path: "/"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Do(context.Background(), Request{Op: "query", Path: "/", Retry: true})
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoReturnsClientErrorsToCaller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"msg":"bad"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Do(context.Background(), Request{Op: "otp", Path: "/otp", Body: map[string]string{"email": "a@b.c"}, Retry: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Status)

	var body struct {
		Msg string `json:"msg"`
	}
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, "bad", body.Msg)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv.URL).Do(ctx, Request{Op: "query", Path: "/", Retry: true})
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.ErrorIs(t, err, context.Canceled)
}
