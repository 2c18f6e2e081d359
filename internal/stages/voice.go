package stages

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/artifact"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/collab/voice"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/fingerprint"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/model"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
)

// Synthesizer renders one line of text to WAV audio and its duration.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, float64, error)
}

// versioner is implemented by engines that expose a health endpoint.
type versioner interface {
	Version(ctx context.Context) (string, error)
}

// Voice synthesizes the narration: one clip per line for timing, joined
// into a single continuous track for composition.
type Voice struct {
	synth Synthesizer
	cfg   config.VoiceConfig
}

// NewVoice constructs the voice stage.
func NewVoice(synth Synthesizer, cfg config.VoiceConfig) *Voice {
	return &Voice{synth: synth, cfg: cfg}
}

func (v *Voice) Name() string        { return pipeline.StageVoice }
func (v *Voice) DependsOn() []string { return []string{pipeline.StageScript} }
func (v *Voice) Cacheable() bool     { return true }

func (v *Voice) ValidateInputs(upstream map[string]pipeline.Record) error {
	return pipeline.RequireUsable(upstream, pipeline.StageScript)
}

// Fingerprint chains the script fingerprint with the voice parameters, so
// a changed script or voice setting reruns synthesis while run ids never
// enter the hash.
func (v *Voice) Fingerprint(_ pipeline.Inputs, upstream map[string]pipeline.Record) string {
	return fingerprint.New(pipeline.StageVoice, map[string]interface{}{
		"script_fingerprint": upstream[pipeline.StageScript].Fingerprint,
		"speaker":            v.cfg.Speaker,
		"speed":              v.cfg.Speed,
		"pitch":              v.cfg.Pitch,
		"intonation":         v.cfg.Intonation,
		"volume":             v.cfg.Volume,
	})
}

func (v *Voice) Execute(ctx context.Context, _ pipeline.Inputs, upstream map[string]pipeline.Record, dir string) (pipeline.Artifact, error) {
	doc, err := loadScript(upstream[pipeline.StageScript])
	if err != nil {
		return pipeline.Artifact{}, err
	}

	// Probe the engine before spending synthesis calls; an unreachable
	// engine is a retryable condition, not a bad script.
	if vc, ok := v.synth.(versioner); ok {
		if _, err := vc.Version(ctx); err != nil {
			return pipeline.Artifact{}, retrier.Transient("voice_engine_unavailable", err)
		}
	}

	var (
		clips     [][]byte
		clipFiles []string
		segments  []model.Segment
		cursor    float64
	)
	for i, line := range doc.Narration {
		wav, duration, err := v.synth.Synthesize(ctx, line.Text)
		if err != nil {
			return pipeline.Artifact{}, fmt.Errorf("synthesize line %d: %w", i, err)
		}
		// Each line is kept as its own clip so a caption or timing fix can
		// be checked against the exact audio it narrates.
		clipPath := filepath.Join(dir, fmt.Sprintf("line_%02d.wav", i))
		if err := artifact.WriteFile(clipPath, wav); err != nil {
			return pipeline.Artifact{}, err
		}
		clips = append(clips, wav)
		clipFiles = append(clipFiles, clipPath)
		segments = append(segments, model.Segment{
			Index: i,
			Text:  line.Text,
			Start: cursor,
			End:   cursor + duration,
			File:  clipPath,
		})
		cursor += duration
	}

	joined, err := voice.ConcatWAV(clips)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("join narration clips: %w", err)
	}

	audioPath := filepath.Join(dir, audioFile)
	if err := artifact.WriteFile(audioPath, joined); err != nil {
		return pipeline.Artifact{}, err
	}
	segmentsPath := filepath.Join(dir, segmentsFile)
	if err := artifact.WriteJSON(segmentsPath, segments); err != nil {
		return pipeline.Artifact{}, err
	}

	return pipeline.Artifact{
		Locations: append([]string{audioPath, segmentsPath}, clipFiles...),
		Detail: map[string]interface{}{
			"duration_seconds": cursor,
			"segment_count":    len(segments),
		},
	}, nil
}
