package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/artifact"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/fingerprint"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/model"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
)

// ImageGenerator renders one prompt to image bytes.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// ImageGen renders one image per narration line. Individual prompt
// failures are tolerated as long as the minimum viable count is met; the
// artifact is then marked degraded.
type ImageGen struct {
	gen ImageGenerator
	cfg config.ImageConfig
}

// NewImageGen constructs the image generation stage.
func NewImageGen(gen ImageGenerator, cfg config.ImageConfig) *ImageGen {
	return &ImageGen{gen: gen, cfg: cfg}
}

func (g *ImageGen) Name() string        { return pipeline.StageImageGen }
func (g *ImageGen) DependsOn() []string { return []string{pipeline.StageScript} }
func (g *ImageGen) Cacheable() bool     { return true }

func (g *ImageGen) ValidateInputs(upstream map[string]pipeline.Record) error {
	return pipeline.RequireUsable(upstream, pipeline.StageScript)
}

func (g *ImageGen) Fingerprint(_ pipeline.Inputs, upstream map[string]pipeline.Record) string {
	return fingerprint.New(pipeline.StageImageGen, map[string]interface{}{
		"script_fingerprint": upstream[pipeline.StageScript].Fingerprint,
		"width":              g.cfg.Width,
		"height":             g.cfg.Height,
		"steps":              g.cfg.Steps,
	})
}

func (g *ImageGen) Execute(ctx context.Context, _ pipeline.Inputs, upstream map[string]pipeline.Record, dir string) (pipeline.Artifact, error) {
	doc, err := loadScript(upstream[pipeline.StageScript])
	if err != nil {
		return pipeline.Artifact{}, err
	}

	var (
		locations []string
		results   []model.ImageResult
		failures  []string
		transient int
	)
	for i, line := range doc.Narration {
		prompt := line.ImagePrompt
		if strings.TrimSpace(prompt) == "" {
			prompt = line.Text
		}
		img, err := g.gen.Generate(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return pipeline.Artifact{}, ctx.Err()
			}
			if retrier.Classify(err) == retrier.ClassTransient {
				transient++
			}
			failures = append(failures, fmt.Sprintf("line %d: %v", i, err))
			results = append(results, model.ImageResult{Index: i, Prompt: prompt, Error: err.Error()})
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("img_%02d.png", i))
		if err := artifact.WriteFile(path, img); err != nil {
			return pipeline.Artifact{}, err
		}
		locations = append(locations, path)
		results = append(results, model.ImageResult{Index: i, Prompt: prompt, File: path})
	}

	total := len(doc.Narration)
	got := len(locations)
	if got < g.cfg.MinImages {
		err := fmt.Errorf("minimum viable image count not met (got %d, need %d): %s",
			got, g.cfg.MinImages, strings.Join(failures, "; "))
		// Only when every failure was transient is a retry worth anything.
		if got == 0 && transient == len(failures) && len(failures) > 0 {
			return pipeline.Artifact{}, retrier.Transient("image_generation_unavailable", err)
		}
		return pipeline.Artifact{}, retrier.Permanent("insufficient_images", err)
	}

	// The prompt-to-image mapping travels with the images so downstream
	// consumers can tell which scene each file belongs to.
	metaPath := filepath.Join(dir, imagesFile)
	if err := artifact.WriteJSON(metaPath, results); err != nil {
		return pipeline.Artifact{}, err
	}

	art := pipeline.Artifact{
		Locations: append(locations, metaPath),
		Degraded:  got < total,
		Detail: map[string]interface{}{
			"requested": total,
			"produced":  got,
		},
	}
	if len(failures) > 0 {
		art.Detail["failures"] = failures
	}
	return art, nil
}
