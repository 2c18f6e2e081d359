package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/artifact"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/collab/media"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/fingerprint"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/model"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
)

// MediaSearcher finds and downloads stock footage.
type MediaSearcher interface {
	Search(ctx context.Context, query string, perPage int) ([]media.Video, error)
	Download(ctx context.Context, link, path string) error
}

// MediaFetch pulls portrait stock clips matching the topic. It runs
// concurrently with image generation; neither branch sees the other.
type MediaFetch struct {
	client MediaSearcher
	cfg    config.MediaConfig
}

// NewMediaFetch constructs the media fetch stage.
func NewMediaFetch(client MediaSearcher, cfg config.MediaConfig) *MediaFetch {
	return &MediaFetch{client: client, cfg: cfg}
}

func (m *MediaFetch) Name() string        { return pipeline.StageMediaFetch }
func (m *MediaFetch) DependsOn() []string { return []string{pipeline.StageScript} }
func (m *MediaFetch) Cacheable() bool     { return true }

func (m *MediaFetch) ValidateInputs(upstream map[string]pipeline.Record) error {
	return pipeline.RequireUsable(upstream, pipeline.StageScript)
}

func (m *MediaFetch) Fingerprint(in pipeline.Inputs, upstream map[string]pipeline.Record) string {
	return fingerprint.New(pipeline.StageMediaFetch, map[string]interface{}{
		"script_fingerprint": upstream[pipeline.StageScript].Fingerprint,
		"query":              m.query(in),
		"orientation":        m.cfg.Orientation,
		"count":              m.cfg.Count,
	})
}

func (m *MediaFetch) query(in pipeline.Inputs) string {
	if len(in.Keywords) > 0 {
		return in.Topic + " " + strings.Join(in.Keywords, " ")
	}
	return in.Topic
}

func (m *MediaFetch) Execute(ctx context.Context, in pipeline.Inputs, _ map[string]pipeline.Record, dir string) (pipeline.Artifact, error) {
	videos, err := m.client.Search(ctx, m.query(in), m.cfg.Count*2)
	if err != nil {
		return pipeline.Artifact{}, err
	}
	if len(videos) == 0 {
		return pipeline.Artifact{}, retrier.Permanent("no_results",
			fmt.Errorf("no stock footage found for %q", m.query(in)))
	}

	var (
		clips     []model.Clip
		locations []string
	)
	for _, video := range videos {
		if len(clips) >= m.cfg.Count {
			break
		}
		file, ok := media.BestFile(video.VideoFiles)
		if !ok {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("clip_%02d.mp4", len(clips)))
		if err := m.client.Download(ctx, file.Link, path); err != nil {
			return pipeline.Artifact{}, fmt.Errorf("download clip %d: %w", video.ID, err)
		}
		clips = append(clips, model.Clip{
			Index:      len(clips),
			ProviderID: fmt.Sprintf("%d", video.ID),
			File:       path,
			Duration:   float64(video.Duration),
			Width:      file.Width,
			Height:     file.Height,
			Quality:    file.Quality,
			Credit:     video.User.Name,
			SourceURL:  video.URL,
			License:    "provider standard license",
		})
		locations = append(locations, path)
	}
	if len(clips) == 0 {
		return pipeline.Artifact{}, retrier.Permanent("no_usable_files",
			fmt.Errorf("search returned %d videos but none had usable renditions", len(videos)))
	}

	metaPath := filepath.Join(dir, clipsFile)
	if err := artifact.WriteJSON(metaPath, clips); err != nil {
		return pipeline.Artifact{}, err
	}
	locations = append(locations, metaPath)

	return pipeline.Artifact{
		Locations: locations,
		Degraded:  len(clips) < m.cfg.Count,
		Detail: map[string]interface{}{
			"requested": m.cfg.Count,
			"fetched":   len(clips),
		},
	}, nil
}
