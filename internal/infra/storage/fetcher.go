package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cineai/internal/domain"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/adapters/httpx"
)

var _ adapter.AssetFetcher = (*HTTPFetcher)(nil)

// HTTPFetcher downloads provider assets. Bodies larger than maxBytes are rejected.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: asset url: %v", domain.ErrInvalidArgument, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, httpx.ClassifyTransport("asset-download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, httpx.ClassifyStatus("asset-download", resp.StatusCode, b)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: asset is %d bytes, limit %d", domain.ErrProviderRejected, resp.ContentLength, f.maxBytes)
	}
	r := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		r = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, httpx.ClassifyTransport("asset-download", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: asset exceeds %d bytes", domain.ErrProviderRejected, f.maxBytes)
	}
	return data, nil
}
