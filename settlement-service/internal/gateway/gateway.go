// Package gateway holds what both payment gateway adapters share: the
// GatewayError kind and an instrumented JSON client that runs every call
// behind a timeout and a circuit breaker.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/studenthub/pkg/circuitbreaker"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBody = 1 << 20

var ErrMalformedResponse = errors.New("malformed gateway response")

// Error is returned for any failed or unparseable gateway exchange.
type Error struct {
	Gateway    string
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Gateway, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" code=%s", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Response is a completed HTTP exchange with a non-5xx status.
type Response struct {
	StatusCode int
	Body       []byte
}

type Client struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*Response]
	timeout time.Duration
}

func NewClient(name string, timeout time.Duration, log *slog.Logger) *Client {
	return NewClientWith(name, timeout, circuitbreaker.DefaultSettings(name), log)
}

func NewClientWith(name string, timeout time.Duration, s circuitbreaker.Settings, log *slog.Logger) *Client {
	return &Client{
		name: name,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New[*Response](s, log),
		timeout: timeout,
	}
}

// PostJSON marshals body, posts it to url and returns the raw response.
// Transport errors and 5xx responses count against the breaker.
func (c *Client) PostJSON(ctx context.Context, op, url string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Gateway: c.name, Op: op, Err: fmt.Errorf("marshal request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.breaker.Execute(func() (*Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if res.StatusCode >= http.StatusInternalServerError {
			return nil, &Error{Gateway: c.name, Op: op, StatusCode: res.StatusCode, Message: string(data)}
		}
		return &Response{StatusCode: res.StatusCode, Body: data}, nil
	})
	if err != nil {
		var gwErr *Error
		if errors.As(err, &gwErr) {
			return nil, gwErr
		}
		if circuitbreaker.IsOpen(err) {
			return nil, &Error{Gateway: c.name, Op: op, Message: "circuit open", Err: err}
		}
		return nil, &Error{Gateway: c.name, Op: op, Err: err}
	}
	return resp, nil
}

// DecodeJSON decodes a gateway response body into out, reporting failures
// as a malformed-response Error.
func DecodeJSON(gatewayName, op string, resp *Response, out any) error {
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return &Error{Gateway: gatewayName, Op: op, StatusCode: resp.StatusCode, Message: "empty body", Err: ErrMalformedResponse}
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &Error{Gateway: gatewayName, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	return nil
}
