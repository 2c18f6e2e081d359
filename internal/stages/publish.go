package stages

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/artifact"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/collab/publish"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/fingerprint"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/model"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
)

// Publisher uploads a finished video and returns its receipt.
type Publisher interface {
	Upload(ctx context.Context, videoFile string, meta publish.Metadata) (*model.PublishReceipt, error)
}

// Publish is the terminal stage. Uploads are externally visible side
// effects, so this stage never serves from the cache: every publish request
// talks to the platform.
type Publish struct {
	uploader Publisher
	cfg      config.PublishConfig
}

// NewPublish constructs the publish stage.
func NewPublish(uploader Publisher, cfg config.PublishConfig) *Publish {
	return &Publish{uploader: uploader, cfg: cfg}
}

func (p *Publish) Name() string { return pipeline.StagePublish }

func (p *Publish) DependsOn() []string {
	return []string{pipeline.StageCompose, pipeline.StageScript}
}

func (p *Publish) Cacheable() bool { return false }

func (p *Publish) ValidateInputs(upstream map[string]pipeline.Record) error {
	return pipeline.RequireUsable(upstream, pipeline.StageCompose, pipeline.StageScript)
}

func (p *Publish) Fingerprint(_ pipeline.Inputs, upstream map[string]pipeline.Record) string {
	return fingerprint.New(pipeline.StagePublish, map[string]interface{}{
		"compose_fingerprint": upstream[pipeline.StageCompose].Fingerprint,
		"script_fingerprint":  upstream[pipeline.StageScript].Fingerprint,
		"category":            p.cfg.CategoryID,
		"privacy":             p.cfg.Privacy,
	})
}

func (p *Publish) Execute(ctx context.Context, _ pipeline.Inputs, upstream map[string]pipeline.Record, dir string) (pipeline.Artifact, error) {
	composeRec := upstream[pipeline.StageCompose]
	if len(composeRec.Locations) == 0 {
		return pipeline.Artifact{}, fmt.Errorf("compose record has no video location")
	}
	videoFile := composeRec.Locations[0]

	doc, err := loadScript(upstream[pipeline.StageScript])
	if err != nil {
		return pipeline.Artifact{}, err
	}

	receipt, err := p.uploader.Upload(ctx, videoFile, publish.Metadata{
		Title:       doc.Title,
		Description: doc.Description,
		Tags:        doc.Tags,
	})
	if err != nil {
		return pipeline.Artifact{}, err
	}

	path := filepath.Join(dir, receiptFile)
	if err := artifact.WriteJSON(path, receipt); err != nil {
		return pipeline.Artifact{}, err
	}
	return pipeline.Artifact{
		Locations: []string{path},
		Detail: map[string]interface{}{
			"video_id":  receipt.VideoID,
			"video_url": receipt.VideoURL,
		},
	}, nil
}
