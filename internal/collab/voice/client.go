// Package voice synthesizes narration audio through a VOICEVOX-compatible
// engine.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
)

// Client talks to the synthesis engine's HTTP API.
type Client struct {
	cfg        config.VoiceConfig
	httpClient *http.Client
}

// New constructs a voice Client from configuration.
func New(cfg config.VoiceConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

// Version returns the engine version string, used as a liveness probe.
func (c *Client) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/version", nil), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", retrier.FromHTTPStatus(resp.StatusCode, string(body))
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`), nil
}

// Synthesize renders text to WAV audio and returns the bytes together with
// the clip duration measured from the WAV header.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, 0, retrier.Permanent("empty_text", fmt.Errorf("nothing to synthesize"))
	}

	query, err := c.audioQuery(ctx, text)
	if err != nil {
		return nil, 0, err
	}
	query["speedScale"] = c.cfg.Speed
	query["pitchScale"] = c.cfg.Pitch
	query["intonationScale"] = c.cfg.Intonation
	query["volumeScale"] = c.cfg.Volume

	wav, err := c.synthesis(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	duration, err := WAVDuration(wav)
	if err != nil {
		return nil, 0, retrier.Permanent("bad_wav", err)
	}
	return wav, duration, nil
}

// audioQuery builds the synthesis query for text.
func (c *Client) audioQuery(ctx context.Context, text string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(c.cfg.Speaker))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/audio_query", params), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, retrier.FromHTTPStatus(resp.StatusCode, string(body))
	}
	var query map[string]interface{}
	if err := json.Unmarshal(body, &query); err != nil {
		return nil, retrier.Permanent("malformed_query", fmt.Errorf("parse audio query: %w", err))
	}
	return query, nil
}

// synthesis renders the query into WAV bytes.
func (c *Client) synthesis(ctx context.Context, query map[string]interface{}) ([]byte, error) {
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal audio query: %w", err)
	}
	params := url.Values{}
	params.Set("speaker", strconv.Itoa(c.cfg.Speaker))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/synthesis", params), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, retrier.FromHTTPStatus(resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// WAVDuration measures the duration of a RIFF/WAVE payload in seconds by
// walking its chunks for the fmt byte rate and the data length.
func WAVDuration(data []byte) (float64, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, fmt.Errorf("not a RIFF/WAVE payload")
	}
	var byteRate uint32
	var dataLen uint32
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := le32(data[offset+4 : offset+8])
		body := offset + 8
		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return 0, fmt.Errorf("truncated fmt chunk")
			}
			byteRate = le32(data[body+8 : body+12])
		case "data":
			dataLen = size
		}
		// Chunks are word-aligned.
		offset = body + int(size)
		if size%2 == 1 {
			offset++
		}
	}
	if byteRate == 0 || dataLen == 0 {
		return 0, fmt.Errorf("missing fmt or data chunk")
	}
	return float64(dataLen) / float64(byteRate), nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
