package reconciler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/abraham-ai/mintmodifier/pkg/util/resiliency"
)

// SourceFetcher opens a stream over an artifact's source locator.
type SourceFetcher interface {
	Fetch(ctx context.Context, locator string) (io.ReadCloser, error)
}

// FetchError carries a non-2xx response from an artifact source.
type FetchError struct {
	Locator    string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.Locator, e.StatusCode)
}

// HTTPFetcher downloads artifacts over HTTP(S). The body is streamed, so the
// client has no overall timeout; each download is bounded by Timeout instead.
type HTTPFetcher struct {
	client  *resiliency.EnhancedClient
	timeout time.Duration
}

func NewHTTPFetcher(timeout time.Duration, opts ...resiliency.Option) *HTTPFetcher {
	opts = append([]resiliency.Option{resiliency.WithTimeout(0)}, opts...)
	return &HTTPFetcher{
		client:  resiliency.NewEnhancedClient("artifact-source", opts...),
		timeout: timeout,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) (io.ReadCloser, error) {
	cancel := context.CancelFunc(func() {})
	if f.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch %s: %w", locator, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch %s: %w", locator, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		cancel()
		return nil, &FetchError{Locator: locator, StatusCode: resp.StatusCode}
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
