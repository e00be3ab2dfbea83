// Package llm is the upstream OpenAI-compatible chat-completion client.
//
// DESIGN: The gateway hands this package a fully prepared request body;
// the client owns transport concerns only: deadlines, the single retry
// on transient failures, SSE frame decoding, and classification of
// upstream errors into kinds the HTTP layer maps onto status codes.
// Unary calls are bounded by the configured timeout end to end;
// streaming calls apply it as an idle timeout between chunks instead,
// so long generations survive as long as the upstream keeps talking.
//
// FILES:
//   - llm.go:    client construction and unary Complete with retry
//   - stream.go: SSE stream with idle timeout enforcement
//   - errors.go: failure classification
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/synthlang/proxy/internal/config"
	"github.com/synthlang/proxy/internal/monitoring"
)

// maxResponseSize caps upstream response bodies (10MB).
const maxResponseSize = 10 * 1024 * 1024

// Client talks to one upstream provider.
type Client struct {
	unary   *http.Client
	stream  *http.Client
	baseURL string
	apiKey  string
	timeout time.Duration
	metrics *monitoring.Metrics
}

// New builds a client for the configured upstream. metrics may be nil.
func New(cfg config.UpstreamConfig, metrics *monitoring.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// The streaming client bounds only the wait for response headers;
	// chunk-to-chunk idleness is enforced by Stream itself.
	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		transport = &http.Transport{}
	}
	streamTransport := transport.Clone()
	streamTransport.ResponseHeaderTimeout = timeout

	return &Client{
		unary:   &http.Client{}, // deadline comes from the per-call context
		stream:  &http.Client{Transport: streamTransport},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: timeout,
		metrics: metrics,
	}
}

// Complete proxies a unary chat completion and returns the raw response
// body. Transient transport failures and 5xx responses are retried
// exactly once; timeouts and upstream rejections are not.
func (c *Client) Complete(ctx context.Context, body []byte) ([]byte, error) {
	data, err := c.completeOnce(ctx, body)
	if err == nil {
		return data, nil
	}

	var ue *Error
	if !errors.As(err, &ue) || !ue.retryable() {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.LLMRetriesTotal.Inc()
	}
	return c.completeOnce(ctx, body)
}

func (c *Client) completeOnce(ctx context.Context, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.unary.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}
	return respBody, nil
}
