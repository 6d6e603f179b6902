package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WorkerClient triggers one batch pass of the external operations worker over HTTP.
type WorkerClient struct {
	url    string
	secret string
	logger *slog.Logger
	client *http.Client
}

// NewWorkerClient creates a worker trigger. An empty url makes RunPass a no-op.
func NewWorkerClient(url, secret string, timeout time.Duration, logger *slog.Logger) *WorkerClient {
	if url == "" {
		logger.Info("worker trigger disabled, repair passes will only re-enqueue")
	}
	return &WorkerClient{
		url:    url,
		secret: secret,
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

// RunPass asks the worker to process one batch of due operations.
func (c *WorkerClient) RunPass(ctx context.Context) error {
	if c.url == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.secret != "" {
		req.Header.Set("X-Worker-Secret", c.secret)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("worker call: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("worker returned %d", resp.StatusCode)
	}
	return nil
}
