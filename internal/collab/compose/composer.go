// Package compose assembles the final video from narration audio, scene
// images, stock clips, and captions using ffmpeg.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/model"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
)

// Runner executes an external command. Tests substitute a recorder.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands through os/exec, keeping the stderr tail for
// error reports.
type ExecRunner struct {
	Logger *log.Logger
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if r.Logger != nil {
		r.Logger.Printf("exec %s %s", name, strings.Join(args, " "))
	}
	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > 400 {
			tail = tail[len(tail)-400:]
		}
		return retrier.Permanent("ffmpeg_failed", fmt.Errorf("%s: %w: %s", name, err, tail))
	}
	return nil
}

// Assets is everything the composer needs to build the final video.
type Assets struct {
	Images   []string
	Clips    []string
	Audio    string
	Segments []model.Segment
}

// Composer renders the final vertical video.
type Composer struct {
	cfg    config.VideoConfig
	runner Runner
	logger *log.Logger
}

// New constructs a Composer. A nil runner defaults to ExecRunner.
func New(cfg config.VideoConfig, runner Runner, logger *log.Logger) *Composer {
	if logger == nil {
		logger = log.New(log.Writer(), "[COMPOSE] ", log.LstdFlags)
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &Composer{cfg: cfg, runner: runner, logger: logger}
}

// Compose builds final.mp4 in outDir: a visual track timed to the
// narration segments, the narration audio, and burned-in captions.
func (c *Composer) Compose(ctx context.Context, assets Assets, outDir string) (string, error) {
	if assets.Audio == "" {
		return "", retrier.Permanent("missing_audio", fmt.Errorf("narration audio is required"))
	}
	if len(assets.Segments) == 0 {
		return "", retrier.Permanent("missing_segments", fmt.Errorf("narration segments are required"))
	}
	if len(assets.Images) == 0 && len(assets.Clips) == 0 {
		return "", retrier.Permanent("missing_visuals", fmt.Errorf("no images or clips to compose"))
	}

	visual, err := c.buildVisualTrack(ctx, assets, outDir)
	if err != nil {
		return "", fmt.Errorf("build visual track: %w", err)
	}

	srtFile := filepath.Join(outDir, "captions.srt")
	if err := os.WriteFile(srtFile, []byte(BuildSRT(assets.Segments)), 0o644); err != nil {
		return "", fmt.Errorf("write captions: %w", err)
	}

	final := filepath.Join(outDir, "final.mp4")
	if err := c.mux(ctx, visual, assets.Audio, srtFile, final); err != nil {
		return "", fmt.Errorf("mux final video: %w", err)
	}
	c.logger.Printf("final video ready: %s", final)
	return final, nil
}

// visualSource is one segment's visual: a still image looped for the
// segment duration, or a stock clip trimmed to it.
type visualSource struct {
	path string
	clip bool
}

// planVisuals assigns a visual to each of n narration segments,
// alternating scene images with stock clips so both kinds of footage make
// the final cut. Whichever pool runs short cycles from its start.
func planVisuals(images, clips []string, n int) []visualSource {
	out := make([]visualSource, 0, n)
	ii, ci := 0, 0
	for i := 0; i < n; i++ {
		useClip := len(clips) > 0 && (len(images) == 0 || i%2 == 1)
		if useClip {
			out = append(out, visualSource{path: clips[ci%len(clips)], clip: true})
			ci++
		} else {
			out = append(out, visualSource{path: images[ii%len(images)], clip: false})
			ii++
		}
	}
	return out
}

// buildVisualTrack produces a silent video covering the narration: each
// segment is rendered to a uniformly encoded piece, then the pieces are
// concatenated without re-encoding.
func (c *Composer) buildVisualTrack(ctx context.Context, assets Assets, outDir string) (string, error) {
	sources := planVisuals(assets.Images, assets.Clips, len(assets.Segments))

	var pieces []string
	for i, seg := range assets.Segments {
		src := sources[i]
		piece := filepath.Join(outDir, fmt.Sprintf("seg_%02d.mp4", i))
		args := []string{"-y"}
		if src.clip {
			args = append(args, "-i", src.path)
		} else {
			args = append(args, "-loop", "1", "-i", src.path)
		}
		args = append(args,
			"-t", fmt.Sprintf("%.3f", seg.End-seg.Start),
			"-vf", c.coverFilter(),
			"-r", strconv.Itoa(c.cfg.FPS),
			"-pix_fmt", "yuv420p",
			"-c:v", "libx264",
			"-preset", "fast",
			"-crf", "22",
			"-an",
			piece,
		)
		if err := c.runner.Run(ctx, c.cfg.FFmpegPath, args...); err != nil {
			return "", err
		}
		pieces = append(pieces, piece)
	}

	listFile := filepath.Join(outDir, "visuals.txt")
	var lines []string
	for _, p := range pieces {
		lines = append(lines, fmt.Sprintf("file '%s'", p))
	}
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write visual list: %w", err)
	}

	out := filepath.Join(outDir, "visuals.mp4")
	err := c.runner.Run(ctx, c.cfg.FFmpegPath, "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		out,
	)
	if err != nil {
		return "", err
	}
	return out, nil
}

// mux combines the visual track with narration audio and burns captions.
func (c *Composer) mux(ctx context.Context, visual, audio, srtFile, out string) error {
	vf := fmt.Sprintf("subtitles=%s:force_style='Alignment=2,MarginV=60,Outline=2'", escapeFilterPath(srtFile))
	if c.cfg.FontFile != "" {
		vf = fmt.Sprintf("subtitles=%s:fontsdir=%s:force_style='Alignment=2,MarginV=60,Outline=2'",
			escapeFilterPath(srtFile), escapeFilterPath(filepath.Dir(c.cfg.FontFile)))
	}
	return c.runner.Run(ctx, c.cfg.FFmpegPath, "-y",
		"-i", visual,
		"-i", audio,
		"-vf", vf,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		out,
	)
}

// coverFilter scales visuals to fill the frame and crops at center.
func (c *Composer) coverFilter() string {
	w, h := c.cfg.Width, c.cfg.Height
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1", w, h, w, h)
}

// escapeFilterPath quotes characters ffmpeg's filter parser treats
// specially.
func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, `\`, `\\`)
	p = strings.ReplaceAll(p, ":", `\:`)
	return p
}
