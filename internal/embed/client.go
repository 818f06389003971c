package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
)

// jsonClient posts JSON to an embedding server with throttling, retries and
// a circuit breaker shared by every request.
type jsonClient struct {
	name      string
	client    *http.Client
	transport *http.Transport
	timeout   time.Duration
	retry     cerrors.RetryConfig
	breaker   *cerrors.CircuitBreaker
	throttle  *throttle

	mu     sync.Mutex
	closed bool
}

func newJSONClient(name string, timeout time.Duration, maxConcurrent int, rps float64, retry cerrors.RetryConfig) *jsonClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrency
	}
	if retry.Multiplier == 0 {
		retry = cerrors.DefaultRetryConfig()
	}
	// Per-request timeouts come from the context, not http.Client.Timeout.
	transport := &http.Transport{
		MaxIdleConns:        maxConcurrent,
		MaxIdleConnsPerHost: maxConcurrent,
		IdleConnTimeout:     10 * time.Second,
	}
	return &jsonClient{
		name:      name,
		client:    &http.Client{Transport: transport},
		transport: transport,
		timeout:   timeout,
		retry:     retry,
		breaker:   cerrors.NewCircuitBreaker(name),
		throttle:  newThrottle(maxConcurrent, rps),
	}
}

// post sends body to url and decodes the JSON response into out.
func (c *jsonClient) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := c.throttle.acquire(ctx); err != nil {
		return err
	}
	defer c.throttle.release()

	attempt := 0
	_, err = cerrors.RetryWithResult(ctx, c.retry, func() (struct{}, error) {
		attempt++
		return cerrors.CircuitExecute(c.breaker, func() (struct{}, error) {
			err := c.do(ctx, url, payload, out)
			if err != nil {
				slog.Debug("embedding_attempt_failed",
					slog.String("provider", c.name),
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()))
			}
			return struct{}{}, err
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return cerrors.BackendError(cerrors.ErrCodeEmbeddingBackend,
			fmt.Sprintf("%s embedding request failed", c.name), err).
			WithDetail("url", url)
	}
	return nil
}

func (c *jsonClient) do(ctx context.Context, url string, payload []byte, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *jsonClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.transport.CloseIdleConnections()
}
