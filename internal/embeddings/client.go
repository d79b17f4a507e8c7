// Package embeddings wraps the external embedding model used to vectorize
// both catalog functions (at registration time) and search queries (at
// request time), so both sides are produced by the same model.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ocx/gateway/internal/catalog"
)

// Client produces a dense vector for arbitrary text.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPClient calls an OpenAI-compatible embeddings endpoint.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewHTTPClient(endpoint, apiKey, model string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed request returned %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("embed response had no data")
	}
	return out.Data[0].Embedding, nil
}

// CanonicalFunctionText builds the text a Function's embedding is computed
// over: app name, function name, description and tags concatenated in a
// fixed order so re-embedding the same function is deterministic.
func CanonicalFunctionText(f *catalog.Function) string {
	var b strings.Builder
	b.WriteString(f.AppName)
	b.WriteString(" ")
	b.WriteString(f.Name)
	b.WriteString(": ")
	b.WriteString(f.Description)
	if len(f.Tags) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(f.Tags, ", "))
		b.WriteString("]")
	}
	return b.String()
}
