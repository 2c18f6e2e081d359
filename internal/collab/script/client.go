// Package script generates narration scripts through an OpenAI-compatible
// chat completions endpoint.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/model"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
)

const systemPrompt = `You are a scriptwriter for vertical short-form videos.
Write a narration script for the requested topic.

You MUST respond with ONLY valid JSON — no markdown, no explanation, no preamble.

The JSON must have exactly these fields:
- "title": string, a concise video title
- "hook": string, the opening line that grabs attention in the first two seconds
- "narration": array of objects, each with:
    - "text": string, one spoken sentence
    - "image_prompt": string, a visual scene description for this sentence
- "tags": array of strings for discoverability
- "description": string, a short video description

Keep sentences short and speakable. The whole narration should fit the
requested duration when read aloud.`

// Client calls the chat completions endpoint.
type Client struct {
	cfg        config.ScriptConfig
	httpClient *http.Client
}

// New constructs a script Client from configuration.
func New(cfg config.ScriptConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate produces a script document for the topic.
func (c *Client) Generate(ctx context.Context, topic string, keywords []string) (*model.ScriptDocument, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, retrier.Permanent("empty_topic", fmt.Errorf("topic is required"))
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: c.userPrompt(topic, keywords)},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
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

	var chat chatResponse
	if err := json.Unmarshal(respBytes, &chat); err != nil {
		return nil, retrier.Permanent("malformed_response", fmt.Errorf("parse chat response: %w", err))
	}
	if chat.Error != nil {
		return nil, retrier.Permanent("provider_error", fmt.Errorf("chat completion: %s", chat.Error.Message))
	}
	if len(chat.Choices) == 0 {
		return nil, retrier.Permanent("no_choices", fmt.Errorf("chat completion returned no choices"))
	}

	doc, err := ParseDocument(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Client) userPrompt(topic string, keywords []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a short-form video script about: %s\n", topic)
	if len(keywords) > 0 {
		fmt.Fprintf(&sb, "Keywords to weave in: %s\n", strings.Join(keywords, ", "))
	}
	if c.cfg.TargetAudience != "" {
		fmt.Fprintf(&sb, "Target audience: %s\n", c.cfg.TargetAudience)
	}
	duration := c.cfg.TargetDuration
	if duration == 0 {
		duration = 45
	}
	fmt.Fprintf(&sb, "Target spoken duration: about %d seconds.\n", duration)
	return sb.String()
}

// ParseDocument extracts the script JSON from a model reply, tolerating
// fenced code blocks and surrounding prose.
func ParseDocument(content string) (*model.ScriptDocument, error) {
	raw := extractJSON(content)
	var doc model.ScriptDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, retrier.Permanent("malformed_script", fmt.Errorf("parse script JSON: %w", err))
	}
	if err := validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func validate(doc *model.ScriptDocument) error {
	if strings.TrimSpace(doc.Title) == "" {
		return retrier.Permanent("malformed_script", fmt.Errorf("script is missing a title"))
	}
	if len(doc.Narration) == 0 {
		return retrier.Permanent("malformed_script", fmt.Errorf("script has no narration lines"))
	}
	for i, line := range doc.Narration {
		if strings.TrimSpace(line.Text) == "" {
			return retrier.Permanent("malformed_script", fmt.Errorf("narration line %d is empty", i))
		}
	}
	return nil
}

// extractJSON strips markdown fences and trims to the outermost JSON
// object.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
