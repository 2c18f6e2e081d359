// Package media fetches portrait stock footage from a Pexels-compatible
// video API.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
)

// Client searches and downloads stock clips.
type Client struct {
	cfg        config.MediaConfig
	httpClient *http.Client
}

// New constructs a media Client from configuration.
func New(cfg config.MediaConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

// Video is one search result with its downloadable renditions.
type Video struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Duration int    `json:"duration"`
	User     struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"user"`
	VideoFiles []VideoFile `json:"video_files"`
}

// VideoFile is one rendition of a video.
type VideoFile struct {
	Link    string `json:"link"`
	Quality string `json:"quality"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

type searchResponse struct {
	Videos []Video `json:"videos"`
}

// Search queries the provider for clips matching query.
func (c *Client) Search(ctx context.Context, query string, perPage int) ([]Video, error) {
	if strings.TrimSpace(query) == "" {
		return nil, retrier.Permanent("empty_query", fmt.Errorf("search query is required"))
	}
	if perPage <= 0 {
		perPage = 5
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("orientation", c.cfg.Orientation)
	params.Set("per_page", strconv.Itoa(perPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, retrier.FromHTTPStatus(resp.StatusCode, string(body))
	}

	var search searchResponse
	if err := json.Unmarshal(body, &search); err != nil {
		return nil, retrier.Permanent("malformed_response", fmt.Errorf("parse search response: %w", err))
	}
	return search.Videos, nil
}

// BestFile picks the preferred rendition: portrait HD first, then any HD,
// then SD, then whatever is left.
func BestFile(files []VideoFile) (VideoFile, bool) {
	if len(files) == 0 {
		return VideoFile{}, false
	}
	for _, quality := range []string{"hd", "sd"} {
		for _, vf := range files {
			if vf.Quality == quality && vf.Height > vf.Width {
				return vf, true
			}
		}
	}
	for _, quality := range []string{"hd", "sd"} {
		for _, vf := range files {
			if vf.Quality == quality {
				return vf, true
			}
		}
	}
	return files[0], true
}

// Download streams the rendition at link into path.
func (c *Client) Download(ctx context.Context, link, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retrier.FromHTTPStatus(resp.StatusCode, string(body))
	}

	tmp, err := os.CreateTemp(dirOf(path), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return retrier.Transient("download_interrupted", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func dirOf(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx > 0 {
		return path[:idx]
	}
	return "."
}
