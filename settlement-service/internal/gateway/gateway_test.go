package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/studenthub/pkg/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient("test", time.Second, nil)
	resp, err := c.PostJSON(context.Background(), "create", srv.URL, map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct{ OK bool }
	require.NoError(t, DecodeJSON("test", "create", resp, &out))
	assert.True(t, out.OK)
}

func TestPostJSON_ServerErrorIsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("test", time.Second, nil)
	_, err := c.PostJSON(context.Background(), "query", srv.URL, struct{}{})

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusBadGateway, gwErr.StatusCode)
	assert.Equal(t, "query", gwErr.Op)
}

func TestPostJSON_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient("test", 50*time.Millisecond, nil)
	start := time.Now()
	_, err := c.PostJSON(context.Background(), "refund", srv.URL, struct{}{})

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPostJSON_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := circuitbreaker.DefaultSettings("test")
	s.ConsecutiveFailures = 2
	c := NewClientWith("test", time.Second, s, nil)

	for i := 0; i < 2; i++ {
		_, err := c.PostJSON(context.Background(), "create", srv.URL, struct{}{})
		require.Error(t, err)
	}
	_, err := c.PostJSON(context.Background(), "create", srv.URL, struct{}{})

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "circuit open", gwErr.Message)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDecodeJSON_Malformed(t *testing.T) {
	var out map[string]any
	err := DecodeJSON("bank", "query", &Response{StatusCode: 200, Body: []byte("<html>")}, &out)
	assert.ErrorIs(t, err, ErrMalformedResponse)

	err = DecodeJSON("bank", "query", &Response{StatusCode: 200}, &out)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
