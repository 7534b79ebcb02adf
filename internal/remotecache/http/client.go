// Package http implements provider.RemoteCache as an HTTP client against an
// external embeddings cache service.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vecindex/engine/pkg/provider"
)

// Config contains remote cache client configuration.
type Config struct {
	Endpoint string
	APIKey   string
}

// Client implements provider.RemoteCache over HTTP.
type Client struct {
	config Config
	http   *http.Client
}

// New creates a new remote cache HTTP client. A nil-endpoint config produces
// a client that reports itself as never connected, so callers can wire it
// unconditionally and let Connected() gate its use.
func New(cfg Config) *Client {
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Connected reports whether the remote cache endpoint is reachable.
func (c *Client) Connected(ctx context.Context) bool {
	if c.config.Endpoint == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

type getRequest struct {
	Keys     []string `json:"keys"`
	Label    string   `json:"label"`
	RepoName string   `json:"repoName"`
}

type getResponseItem struct {
	CacheKey  string    `json:"cacheKey"`
	Contents  string    `json:"contents"`
	StartLine int       `json:"startLine"`
	EndLine   int       `json:"endLine"`
	Vector    []float32 `json:"vector"`
}

// Get looks up embeddings for keys under label and repoName.
func (c *Client) Get(ctx context.Context, keys []string, label string, repoName string) ([]provider.RemoteCacheResult, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(getRequest{Keys: keys, Label: label, RepoName: repoName})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/cache/get", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote cache request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote cache returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var items []getResponseItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode remote cache response: %w", err)
	}

	results := make([]provider.RemoteCacheResult, len(items))
	for i, item := range items {
		results[i] = provider.RemoteCacheResult{
			CacheKey:  item.CacheKey,
			Contents:  item.Contents,
			StartLine: item.StartLine,
			EndLine:   item.EndLine,
			Vector:    item.Vector,
		}
	}
	return results, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
}

var _ provider.RemoteCache = (*Client)(nil)
