package stages

import (
	"context"
	"fmt"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/collab/compose"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/fingerprint"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
)

// Renderer builds the final video from gathered assets.
type Renderer interface {
	Compose(ctx context.Context, assets compose.Assets, outDir string) (string, error)
}

// Compose is the fan-in stage: it waits for voice, images, and stock
// footage, then renders the final captioned vertical video.
type Compose struct {
	renderer Renderer
	cfg      config.VideoConfig
}

// NewCompose constructs the composition stage.
func NewCompose(renderer Renderer, cfg config.VideoConfig) *Compose {
	return &Compose{renderer: renderer, cfg: cfg}
}

func (c *Compose) Name() string { return pipeline.StageCompose }

func (c *Compose) DependsOn() []string {
	return []string{pipeline.StageVoice, pipeline.StageImageGen, pipeline.StageMediaFetch}
}

func (c *Compose) Cacheable() bool { return true }

func (c *Compose) ValidateInputs(upstream map[string]pipeline.Record) error {
	return pipeline.RequireUsable(upstream,
		pipeline.StageVoice, pipeline.StageImageGen, pipeline.StageMediaFetch)
}

// Fingerprint chains all three upstream fingerprints with the render
// settings. A degraded upstream artifact has its own fingerprint, so the
// degradation propagates into this hash.
func (c *Compose) Fingerprint(_ pipeline.Inputs, upstream map[string]pipeline.Record) string {
	return fingerprint.New(pipeline.StageCompose, map[string]interface{}{
		"voice_fingerprint": upstream[pipeline.StageVoice].Fingerprint,
		"image_fingerprint": upstream[pipeline.StageImageGen].Fingerprint,
		"media_fingerprint": upstream[pipeline.StageMediaFetch].Fingerprint,
		"width":             c.cfg.Width,
		"height":            c.cfg.Height,
		"fps":               c.cfg.FPS,
	})
}

func (c *Compose) Execute(ctx context.Context, _ pipeline.Inputs, upstream map[string]pipeline.Record, dir string) (pipeline.Artifact, error) {
	voiceRec := upstream[pipeline.StageVoice]
	segments, err := loadSegments(voiceRec)
	if err != nil {
		return pipeline.Artifact{}, err
	}
	audio := locationNamed(voiceRec, audioFile)
	if audio == "" {
		return pipeline.Artifact{}, fmt.Errorf("voice record has no %s location", audioFile)
	}

	assets := compose.Assets{
		Images:   locationsWithExt(upstream[pipeline.StageImageGen], ".png"),
		Clips:    locationsWithExt(upstream[pipeline.StageMediaFetch], ".mp4"),
		Audio:    audio,
		Segments: segments,
	}

	final, err := c.renderer.Compose(ctx, assets, dir)
	if err != nil {
		return pipeline.Artifact{}, err
	}

	total := 0.0
	if len(segments) > 0 {
		total = segments[len(segments)-1].End
	}
	return pipeline.Artifact{
		Locations: []string{final},
		Detail: map[string]interface{}{
			"duration_seconds": total,
			"image_count":      len(assets.Images),
			"clip_count":       len(assets.Clips),
		},
	}, nil
}
