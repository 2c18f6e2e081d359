// Package stages implements the pipeline stage contracts on top of the
// collaborator clients. Each stage validates its upstream records, derives
// a content fingerprint from its logical inputs, and persists immutable
// artifacts plus a metadata record.
package stages

import (
	"fmt"
	"path/filepath"

	"github.com/Y-Kanekoo/ai-shorts-factory/internal/artifact"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/model"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
)

const (
	scriptFile   = "script.json"
	audioFile    = "narration.wav"
	segmentsFile = "segments.json"
	imagesFile   = "images.json"
	clipsFile    = "clips.json"
	receiptFile  = "receipt.json"
)

// loadScript reads the script document referenced by a script stage record.
func loadScript(rec pipeline.Record) (*model.ScriptDocument, error) {
	path := locationNamed(rec, scriptFile)
	if path == "" {
		return nil, fmt.Errorf("script record has no %s location", scriptFile)
	}
	var doc model.ScriptDocument
	if err := artifact.ReadJSON(path, &doc); err != nil {
		return nil, fmt.Errorf("load script document: %w", err)
	}
	return &doc, nil
}

// loadSegments reads the narration timing referenced by a voice record.
func loadSegments(rec pipeline.Record) ([]model.Segment, error) {
	path := locationNamed(rec, segmentsFile)
	if path == "" {
		return nil, fmt.Errorf("voice record has no %s location", segmentsFile)
	}
	var segments []model.Segment
	if err := artifact.ReadJSON(path, &segments); err != nil {
		return nil, fmt.Errorf("load narration segments: %w", err)
	}
	return segments, nil
}

// locationNamed finds the artifact location with the given base name.
func locationNamed(rec pipeline.Record, name string) string {
	for _, loc := range rec.Locations {
		if filepath.Base(loc) == name {
			return loc
		}
	}
	return ""
}

// locationsWithExt filters artifact locations by extension.
func locationsWithExt(rec pipeline.Record, ext string) []string {
	var out []string
	for _, loc := range rec.Locations {
		if filepath.Ext(loc) == ext {
			out = append(out, loc)
		}
	}
	return out
}
