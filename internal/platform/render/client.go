// Package render wraps the external image-generation provider. The
// provider is stochastic; everything this backend does to force
// cross-panel consistency happens around this interface, never inside it.
package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yungbote/archsheet-backend/internal/platform/envutil"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
)

// PanelSpec is one generation request. Seed must be honored by the
// provider for reproducibility; ControlImage conditions geometry.
type PanelSpec struct {
	PanelType       string  `json:"panel_type,omitempty"`
	Prompt          string  `json:"prompt"`
	NegativePrompt  string  `json:"negative_prompt,omitempty"`
	Seed            int     `json:"seed"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	ControlImageB64 string  `json:"control_image,omitempty"`
	ControlStrength float64 `json:"control_strength,omitempty"`
}

// Generation is the provider's reply.
type Generation struct {
	ImageRef   string
	ImageBytes []byte
	SeedUsed   int
}

// Client is the generation provider contract.
type Client interface {
	Generate(ctx context.Context, spec PanelSpec) (Generation, error)
}

type httpClient struct {
	log     *logger.Logger
	baseURL string
	apiKey  string
	model   string
	hc      *http.Client
	retries int
}

// NewHTTPClient builds the provider client from the environment.
func NewHTTPClient(log *logger.Logger) (Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("RENDER_API_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing env var RENDER_API_URL")
	}
	return &httpClient{
		log:     log.With("client", "RenderClient"),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(os.Getenv("RENDER_API_KEY")),
		model:   envutil.Str("RENDER_MODEL", "sdxl-controlnet"),
		hc: &http.Client{
			Timeout: envutil.Duration("RENDER_HTTP_TIMEOUT", 120*time.Second),
		},
		retries: envutil.Int("RENDER_HTTP_RETRIES", 2),
	}, nil
}

type generateRequest struct {
	Model string `json:"model"`
	PanelSpec
}

type generateResponse struct {
	ImageURL    string `json:"image_url,omitempty"`
	ImageB64    string `json:"image_b64,omitempty"`
	SeedUsed    int    `json:"seed_used"`
	Error       string `json:"error,omitempty"`
	RetryAfterS int    `json:"retry_after_s,omitempty"`
}

func (c *httpClient) Generate(ctx context.Context, spec PanelSpec) (Generation, error) {
	payload, err := json.Marshal(generateRequest{Model: c.model, PanelSpec: spec})
	if err != nil {
		return Generation{}, fmt.Errorf("render: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * time.Second
			select {
			case <-ctx.Done():
				return Generation{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
		gen, retryable, err := c.doGenerate(ctx, payload)
		if err == nil {
			return gen, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		if c.log != nil {
			c.log.Warn("render call failed, retrying", "attempt", attempt, "error", err)
		}
	}
	return Generation{}, fmt.Errorf("render: generate failed: %w", lastErr)
}

func (c *httpClient) doGenerate(ctx context.Context, payload []byte) (Generation, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return Generation{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return Generation{}, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return Generation{}, true, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Generation{}, true, fmt.Errorf("render API status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if resp.StatusCode != http.StatusOK {
		return Generation{}, false, fmt.Errorf("render API status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Generation{}, false, fmt.Errorf("render: decode response: %w", err)
	}
	if out.Error != "" {
		return Generation{}, false, fmt.Errorf("render API error: %s", out.Error)
	}

	gen := Generation{ImageRef: out.ImageURL, SeedUsed: out.SeedUsed}
	if out.ImageB64 != "" {
		raw, err := base64.StdEncoding.DecodeString(out.ImageB64)
		if err != nil {
			return Generation{}, false, fmt.Errorf("render: decode image payload: %w", err)
		}
		gen.ImageBytes = raw
	}
	if gen.ImageRef == "" && len(gen.ImageBytes) == 0 {
		return Generation{}, false, fmt.Errorf("render API returned no image")
	}
	return gen, false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
