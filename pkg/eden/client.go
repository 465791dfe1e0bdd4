// Package eden is a thin client for the Eden generative task service.
package eden

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

	"golang.org/x/time/rate"

	"github.com/abraham-ai/mintmodifier/pkg/util/resiliency"
)

const (
	DefaultBaseURL = "https://api.eden.art"

	// maxErrorBody bounds how much of an error response is kept in APIError.
	maxErrorBody = 512
)

// Config holds connection settings for the task service.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string

	// RatePerSecond and Burst bound outgoing requests. Zero means 2 rps, burst 5.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

// Client queries task status and creations.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *resiliency.EnhancedClient
	limiter   *rate.Limiter
}

func NewClient(cfg Config, opts ...resiliency.Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Timeout > 0 {
		opts = append([]resiliency.Option{resiliency.WithTimeout(cfg.Timeout)}, opts...)
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		http:      resiliency.NewEnhancedClient("eden", opts...),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

// GetTasksByIDs fetches the status of every task in ids with one request.
// An empty batch returns no tasks without contacting the service.
func (c *Client) GetTasksByIDs(ctx context.Context, ids []string) ([]Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(struct {
		TaskIDs []string `json:"taskIds"`
	}{TaskIDs: ids})
	if err != nil {
		return nil, err
	}

	var out struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.do(ctx, "get tasks", http.MethodPost, "/tasks/fetch", body, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// GetCreation resolves the creation a completed task produced.
func (c *Client) GetCreation(ctx context.Context, ref string) (Creation, error) {
	if ref == "" {
		return Creation{}, ErrMissingCreation
	}

	var out struct {
		Creation Creation `json:"creation"`
	}
	if err := c.do(ctx, "get creation", http.MethodGet, "/creation/"+url.PathEscape(ref), nil, &out); err != nil {
		return Creation{}, err
	}
	if out.Creation.ID == "" {
		out.Creation.ID = ref
	}
	return out.Creation, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("eden %s: %w", op, err)
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("eden %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Api-Secret", c.apiSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("eden %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("eden %s: decode response: %w", op, err)
	}
	return nil
}
