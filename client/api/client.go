// Package api implements the hosted-backend client: auto-generated REST
// over managed Postgres plus RPC functions, consumed as opaque row sources.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"github.com/velichkin/wavefm/client"
	"golang.org/x/time/rate"
)

// Client provides resilient backend calls with retry, a circuit breaker,
// and a client-side rate limit.
type Client struct {
	baseURL string
	apiKey  string
	token   string
	retry   *retryablehttp.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  client.Logger
}

// Options configure a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Token      string
	Timeout    time.Duration
	RatePerSec float64
	RateBurst  int
	Logger     client.Logger
	HTTPClient *http.Client // overrides the default transport, mainly for tests
}

// New creates a backend client with retry and circuit breaker.
func New(opts Options) *Client {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.RetryWaitMin = 200 * time.Millisecond
	retry.RetryWaitMax = 2 * time.Second
	retry.Logger = nil
	if opts.HTTPClient != nil {
		retry.HTTPClient = opts.HTTPClient
	}
	if opts.Timeout > 0 {
		retry.HTTPClient.Timeout = opts.Timeout
	}

	settings := gobreaker.Settings{
		Name:        "wavefm-backend",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	perSec := opts.RatePerSec
	if perSec <= 0 {
		perSec = 8
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 16
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		token:   opts.Token,
		retry:   retry,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		logger:  opts.Logger,
	}
}

func (c *Client) execute(ctx context.Context, op string, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil && c.logger != nil && !client.IsCancelled(err) {
		c.logger.Error("backend call failed", "op", op, "error", err)
	}
	return err
}

// rpc POSTs a JSON body to /rest/v1/rpc/<fn> and decodes the response into out.
func (c *Client) rpc(ctx context.Context, fn string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/v1/rpc/"+fn, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, fn, out)
}

// table issues a request against a REST table endpoint with PostgREST-style
// filters in the query string.
func (c *Client) table(ctx context.Context, method, name string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	endpoint := c.baseURL + "/rest/v1/" + name
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set("Prefer", "resolution=merge-duplicates")
	}
	return c.send(req, name, out)
}

func (c *Client) send(req *retryablehttp.Request, op string, out any) error {
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	token := c.token
	if token == "" {
		token = c.apiKey
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.retry.Do(req)
	if err != nil {
		return &client.BackendError{Op: op, Resource: "http", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &client.BackendError{Op: op, Resource: "http", Err: client.ErrNotFound}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &client.BackendError{Op: op, Resource: "http", Err: client.ErrAuthRequired}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &client.BackendError{Op: op, Resource: "http", Err: client.ErrRateLimited}
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &client.BackendError{
			Op:       op,
			Resource: "http",
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &client.BackendError{Op: op, Resource: "body", Err: err}
	}
	return nil
}

// inFilter renders a PostgREST "in" filter value for the given ids.
func inFilter(ids []string) string {
	return "in.(" + strings.Join(ids, ",") + ")"
}
