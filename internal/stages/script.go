package stages

import (
	"context"
	"path/filepath"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/artifact"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/fingerprint"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/model"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
)

// scriptPromptVersion is folded into the fingerprint so prompt changes
// invalidate cached scripts.
const scriptPromptVersion = "v2"

// ScriptGenerator produces a script document for a topic.
type ScriptGenerator interface {
	Generate(ctx context.Context, topic string, keywords []string) (*model.ScriptDocument, error)
}

// Script is the first pipeline stage: topic in, narration script out.
type Script struct {
	gen ScriptGenerator
	cfg config.ScriptConfig
}

// NewScript constructs the script stage.
func NewScript(gen ScriptGenerator, cfg config.ScriptConfig) *Script {
	return &Script{gen: gen, cfg: cfg}
}

func (s *Script) Name() string        { return pipeline.StageScript }
func (s *Script) DependsOn() []string { return nil }
func (s *Script) Cacheable() bool     { return true }

func (s *Script) ValidateInputs(upstream map[string]pipeline.Record) error { return nil }

func (s *Script) Fingerprint(in pipeline.Inputs, _ map[string]pipeline.Record) string {
	return fingerprint.New(pipeline.StageScript, map[string]interface{}{
		"topic":           in.Topic,
		"keywords":        in.Keywords,
		"model":           s.cfg.Model,
		"temperature":     s.cfg.Temperature,
		"target_audience": s.cfg.TargetAudience,
		"target_duration": s.cfg.TargetDuration,
		"prompt_version":  scriptPromptVersion,
	})
}

func (s *Script) Execute(ctx context.Context, in pipeline.Inputs, _ map[string]pipeline.Record, dir string) (pipeline.Artifact, error) {
	doc, err := s.gen.Generate(ctx, in.Topic, in.Keywords)
	if err != nil {
		return pipeline.Artifact{}, err
	}
	path := filepath.Join(dir, scriptFile)
	if err := artifact.WriteJSON(path, doc); err != nil {
		return pipeline.Artifact{}, err
	}
	return pipeline.Artifact{
		Locations: []string{path},
		Detail: map[string]interface{}{
			"title":      doc.Title,
			"line_count": len(doc.Narration),
		},
	}, nil
}
