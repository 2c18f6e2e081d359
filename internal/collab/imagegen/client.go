// Package imagegen renders narration scenes through an image generation
// HTTP API.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
)

// The generation backend caps dimensions; larger requests are clamped and
// the result upscaled at composition time.
const (
	maxWidth  = 1440
	maxHeight = 1440
)

// Client calls the image generation endpoint.
type Client struct {
	cfg        config.ImageConfig
	httpClient *http.Client
}

// New constructs an image Client from configuration.
func New(cfg config.ImageConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 3 * time.Minute
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

type generateRequest struct {
	Prompt         string `json:"prompt"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
	ResponseFormat string `json:"response_format"`
}

type generateResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate renders one prompt and returns the image bytes.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, retrier.Permanent("empty_prompt", fmt.Errorf("prompt is required"))
	}

	body, err := json.Marshal(generateRequest{
		Prompt:         prompt,
		Width:          clamp(c.cfg.Width, maxWidth),
		Height:         clamp(c.cfg.Height, maxHeight),
		Steps:          c.cfg.Steps,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal image request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/images/generations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, retrier.FromHTTPStatus(resp.StatusCode, string(respBytes))
	}

	var gen generateResponse
	if err := json.Unmarshal(respBytes, &gen); err != nil {
		return nil, retrier.Permanent("malformed_response", fmt.Errorf("parse image response: %w", err))
	}
	if gen.Error != nil {
		return nil, retrier.Permanent("provider_error", fmt.Errorf("image generation: %s", gen.Error.Message))
	}
	if len(gen.Data) == 0 || gen.Data[0].B64JSON == "" {
		return nil, retrier.Permanent("no_image", fmt.Errorf("image generation returned no data"))
	}

	img, err := base64.StdEncoding.DecodeString(gen.Data[0].B64JSON)
	if err != nil {
		return nil, retrier.Permanent("bad_encoding", fmt.Errorf("decode image payload: %w", err))
	}
	return img, nil
}

func clamp(v, max int) int {
	if v > max {
		return max
	}
	return v
}
