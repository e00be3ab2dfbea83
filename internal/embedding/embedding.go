// Package embedding turns request text into vectors for the semantic
// cache via an OpenAI-compatible /embeddings endpoint.
//
// DESIGN: One client per process, fixed to the configured embedding
// model. Repeat texts are served from a small bounded cache keyed by
// content hash, and concurrent requests for the same text share a
// single upstream call through singleflight. Failures are returned to
// the caller; the cache layer above treats them as a miss.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/synthlang/proxy/internal/config"
)

// Dimensions of the common OpenAI embedding models.
var modelDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

const defaultDim = 1536

// Client calls the upstream embeddings endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dim        int

	cache *vectorCache
	group singleflight.Group
}

// New builds a client from the upstream connection settings and the
// configured cache embedding model.
func New(upstream config.UpstreamConfig, cache config.CacheConfig) *Client {
	model := cache.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	dim, ok := modelDims[model]
	if !ok {
		dim = defaultDim
	}
	timeout := upstream.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    upstream.BaseURL,
		apiKey:     upstream.APIKey,
		model:      model,
		dim:        dim,
		cache:      newVectorCache(defaultCacheEntries),
	}
}

// Model returns the embedding model in use.
func (c *Client) Model() string { return c.model }

// Dim returns the vector dimension for the configured model.
func (c *Client) Dim() int { return c.dim }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed returns the vector for text. The returned slice is owned by the
// caller. Identical texts in flight at the same time share one upstream
// call; completed vectors are served from the content-hash cache.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	key := string(sum[:])

	if vec, ok := c.cache.get(key); ok {
		return vec, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if vec, ok := c.cache.get(key); ok {
			return vec, nil
		}
		vec, err := c.embedOnce(ctx, text)
		if err != nil {
			return nil, err
		}
		c.cache.put(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}

	shared := v.([]float32)
	out := make([]float32, len(shared))
	copy(out, shared)
	return out, nil
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings call failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embeddings response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("embeddings API status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("embeddings API status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embeddings response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embeddings response contained no vector")
	}
	return parsed.Data[0].Embedding, nil
}
