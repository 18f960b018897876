// Package gateway holds the JSON transport shared by the commerce and identity
// clients. It classifies failures at the boundary: anything that never produced
// a usable HTTP response, or a 5xx/429 response, is an upstream error; 4xx
// responses are handed back to the caller to interpret.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"storefront/internal/domain"
	"storefront/internal/metrics"
)

const maxBodyBytes = 4 << 20

// Options configures a Client.
type Options struct {
	Name           string
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	Headers        map[string]string
	HTTPClient     *http.Client
	Metrics        *metrics.Metrics
	Logger         *log.Logger
}

// Client performs JSON requests against one gateway.
type Client struct {
	name           string
	baseURL        string
	http           *http.Client
	headers        http.Header
	maxAttempts    int
	initialBackoff time.Duration
	metrics        *metrics.Metrics
	logger         *log.Logger
}

// New builds a Client.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = 200 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	headers := http.Header{}
	for k, v := range opts.Headers {
		if v != "" {
			headers.Set(k, v)
		}
	}
	return &Client{
		name:           opts.Name,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		http:           httpClient,
		headers:        headers,
		maxAttempts:    attempts,
		initialBackoff: initial,
		metrics:        opts.Metrics,
		logger:         logger,
	}
}

// Request describes one logical call.
type Request struct {
	Op     string
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   any
	// Retry allows automatic retries of upstream failures. Only set it for
	// calls whose repetition converges to the same remote state.
	Retry bool
}

// Response is a non-5xx HTTP response.
type Response struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Do executes req. Upstream failures come back as domain upstream errors.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", req.Op, err)
		}
		payload = b
	}

	started := time.Now()
	attempt := 0
	var out *Response
	operation := func() error {
		attempt++
		resp, err := c.send(ctx, req, payload)
		if err != nil {
			if ctx.Err() != nil || !req.Retry {
				return backoff.Permanent(err)
			}
			c.logger.Printf("%s gateway: op=%s attempt=%d err=%v", c.name, req.Op, attempt, err)
			return err
		}
		out = resp
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(c.policy(req.Retry), ctx))
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "upstream"
	case !out.OK():
		outcome = "client_error"
	}
	c.metrics.ObserveGateway(c.name, req.Op, outcome, time.Since(started))
	if err != nil {
		return nil, domain.Upstream(c.name+"."+req.Op, err)
	}
	return out, nil
}

func (c *Client) policy(retry bool) backoff.BackOff {
	if !retry || c.maxAttempts <= 1 {
		return &backoff.StopBackOff{}
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initialBackoff
	exp.Multiplier = 2
	exp.MaxInterval = 2 * time.Second
	exp.MaxElapsedTime = 0
	return backoff.WithMaxRetries(exp, uint64(c.maxAttempts-1))
}

func (c *Client) send(ctx context.Context, req Request, payload []byte) (*Response, error) {
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	for k, vals := range c.headers {
		httpReq.Header[k] = vals
	}
	for k, vals := range req.Header {
		httpReq.Header[k] = vals
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 256))
	}
	return &Response{Status: resp.StatusCode, Body: raw}, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
