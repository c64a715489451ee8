// Package httpx is the JSON-over-HTTP plumbing shared by the provider clients
// that talk to vendor REST APIs directly.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"cineai/internal/domain"
)

const maxErrorBody = 4 << 10

// Client issues requests against one provider's base URL with fixed headers.
type Client struct {
	provider string
	base     string
	headers  map[string]string
	http     *http.Client
}

func New(provider, base string, timeout time.Duration, headers map[string]string) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		provider: provider,
		base:     strings.TrimRight(base, "/"),
		headers:  headers,
		http:     &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) Base() string { return c.base }

// DoJSON sends in as JSON (nil sends no body) and decodes a 2xx body into out (nil discards it).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.do(ctx, method, path, in, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewProviderError(c.provider, domain.ErrMalformedResponse, resp.StatusCode, err.Error())
	}
	return nil
}

// DoBytes sends in as JSON and returns the raw 2xx body with its content type.
func (c *Client) DoBytes(ctx context.Context, method, path string, in any, accept string) ([]byte, string, error) {
	resp, err := c.do(ctx, method, path, in, accept)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", ClassifyTransport(c.provider, err)
	}
	if len(b) == 0 {
		return nil, "", domain.NewProviderError(c.provider, domain.ErrMalformedResponse, resp.StatusCode, "empty body")
	}
	return b, resp.Header.Get("Content-Type"), nil
}

// Stream sends in as JSON and feeds every server-sent event to fn.
func (c *Client) Stream(ctx context.Context, path string, in any, fn func(Event) error) error {
	resp, err := c.do(ctx, http.MethodPost, path, in, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := ParseSSE(resp.Body, fn); err != nil {
		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ClassifyTransport(c.provider, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, accept string) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", c.provider, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.provider, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, ClassifyTransport(c.provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, ClassifyStatus(c.provider, resp.StatusCode, b)
	}
	return resp, nil
}

// ClassifyStatus maps a non-2xx response onto the provider error taxonomy.
func ClassifyStatus(provider string, status int, body []byte) *domain.ProviderError {
	msg := strings.TrimSpace(string(body))
	switch {
	case status == http.StatusTooManyRequests:
		return domain.NewProviderError(provider, domain.ErrRateLimited, status, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewProviderError(provider, domain.ErrAuthentication, status, msg)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.NewProviderError(provider, domain.ErrTimeout, status, msg)
	case status >= 400 && status <= 499:
		return domain.NewProviderError(provider, domain.ErrProviderRejected, status, msg)
	default:
		return domain.NewProviderError(provider, domain.ErrProviderFailure, status, msg)
	}
}

// ClassifyTransport maps a transport error; caller cancellation passes through unchanged.
func ClassifyTransport(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderError(provider, domain.ErrTimeout, 0, "")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewProviderError(provider, domain.ErrTimeout, 0, err.Error())
	}
	return domain.NewProviderError(provider, domain.ErrProviderFailure, 0, err.Error())
}
