package compose

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/model"
)

type recordingRunner struct {
	commands [][]string
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) error {
	r.commands = append(r.commands, append([]string{name}, args...))
	return nil
}

func testSegments() []model.Segment {
	return []model.Segment{
		{Index: 0, Text: "Anglerfish lure prey with living light.", Start: 0, End: 3.2},
		{Index: 1, Text: "Pressure down there would crush a submarine.", Start: 3.2, End: 6.8},
	}
}

func testComposer(r Runner) *Composer {
	cfg := config.VideoConfig{Width: 1080, Height: 1920, FPS: 30, FFmpegPath: "ffmpeg"}
	return New(cfg, r, log.New(io.Discard, "", 0))
}

func TestBuildSRT(t *testing.T) {
	srt := BuildSRT(testSegments())
	want := "1\n00:00:00,000 --> 00:00:03,200\nAnglerfish lure prey with living light.\n\n" +
		"2\n00:00:03,200 --> 00:00:06,800\nPressure down there would crush a submarine.\n\n"
	if srt != want {
		t.Fatalf("srt = %q\nwant %q", srt, want)
	}
}

func TestSRTTimestampRollover(t *testing.T) {
	if got := srtTimestamp(3725.5); got != "01:02:05,500" {
		t.Fatalf("timestamp = %q", got)
	}
	if got := srtTimestamp(-1); got != "00:00:00,000" {
		t.Fatalf("negative timestamp = %q", got)
	}
}

func TestComposeSlideshow(t *testing.T) {
	dir := t.TempDir()
	runner := &recordingRunner{}
	c := testComposer(runner)

	assets := Assets{
		Images:   []string{"/art/img_0.png", "/art/img_1.png"},
		Audio:    "/art/narration.wav",
		Segments: testSegments(),
	}
	out, err := c.Compose(context.Background(), assets, dir)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if filepath.Base(out) != "final.mp4" {
		t.Fatalf("out = %s", out)
	}
	if len(runner.commands) != 4 {
		t.Fatalf("commands = %d, want two segment renders + concat + mux", len(runner.commands))
	}

	first := strings.Join(runner.commands[0], " ")
	if !strings.Contains(first, "-loop 1 -i /art/img_0.png") || !strings.Contains(first, "-t 3.200") {
		t.Fatalf("first segment command = %s", first)
	}
	second := strings.Join(runner.commands[1], " ")
	if !strings.Contains(second, "-i /art/img_1.png") || !strings.Contains(second, "-t 3.600") {
		t.Fatalf("second segment command = %s", second)
	}

	list, err := os.ReadFile(filepath.Join(dir, "visuals.txt"))
	if err != nil {
		t.Fatalf("read visual list: %v", err)
	}
	if !strings.Contains(string(list), "seg_00.mp4") || !strings.Contains(string(list), "seg_01.mp4") {
		t.Fatalf("visual list = %s", list)
	}

	srt, err := os.ReadFile(filepath.Join(dir, "captions.srt"))
	if err != nil {
		t.Fatalf("read captions: %v", err)
	}
	if !strings.Contains(string(srt), "Anglerfish") {
		t.Fatalf("captions = %s", srt)
	}

	mux := strings.Join(runner.commands[3], " ")
	if !strings.Contains(mux, "narration.wav") || !strings.Contains(mux, "subtitles=") {
		t.Fatalf("mux command = %s", mux)
	}
}

func TestComposeImagesCycleWhenShort(t *testing.T) {
	dir := t.TempDir()
	runner := &recordingRunner{}
	c := testComposer(runner)

	// One image for two segments: the image repeats instead of failing.
	assets := Assets{
		Images:   []string{"/art/img_0.png"},
		Audio:    "/art/narration.wav",
		Segments: testSegments(),
	}
	if _, err := c.Compose(context.Background(), assets, dir); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	got := 0
	for _, cmd := range runner.commands {
		if strings.Contains(strings.Join(cmd, " "), "-i /art/img_0.png") {
			got++
		}
	}
	if got != 2 {
		t.Fatalf("image rendered %d times, want 2 (one per segment)", got)
	}
}

func TestComposeClipsOnly(t *testing.T) {
	dir := t.TempDir()
	runner := &recordingRunner{}
	c := testComposer(runner)

	assets := Assets{
		Clips:    []string{"/art/clip_0.mp4", "/art/clip_1.mp4"},
		Audio:    "/art/narration.wav",
		Segments: testSegments(),
	}
	if _, err := c.Compose(context.Background(), assets, dir); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	first := strings.Join(runner.commands[0], " ")
	if !strings.Contains(first, "-i /art/clip_0.mp4") || strings.Contains(first, "-loop") {
		t.Fatalf("first segment command = %s", first)
	}
	if !strings.Contains(first, "-t 3.200") {
		t.Fatalf("first segment command missing duration trim: %s", first)
	}
	second := strings.Join(runner.commands[1], " ")
	if !strings.Contains(second, "-i /art/clip_1.mp4") || !strings.Contains(second, "-t 3.600") {
		t.Fatalf("second segment command = %s", second)
	}
}

func TestComposeInterleavesImagesAndClips(t *testing.T) {
	dir := t.TempDir()
	runner := &recordingRunner{}
	c := testComposer(runner)

	// Both producers contributed footage: the cut alternates between them
	// instead of discarding the stock clips.
	assets := Assets{
		Images:   []string{"/art/img_0.png", "/art/img_1.png"},
		Clips:    []string{"/art/clip_0.mp4"},
		Audio:    "/art/narration.wav",
		Segments: testSegments(),
	}
	if _, err := c.Compose(context.Background(), assets, dir); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	first := strings.Join(runner.commands[0], " ")
	if !strings.Contains(first, "-loop 1 -i /art/img_0.png") {
		t.Fatalf("first segment should use an image: %s", first)
	}
	second := strings.Join(runner.commands[1], " ")
	if !strings.Contains(second, "-i /art/clip_0.mp4") || strings.Contains(second, "-loop") {
		t.Fatalf("second segment should use a stock clip: %s", second)
	}
}

func TestComposeRequiresAssets(t *testing.T) {
	c := testComposer(&recordingRunner{})
	_, err := c.Compose(context.Background(), Assets{Audio: "a.wav", Segments: testSegments()}, t.TempDir())
	if err == nil {
		t.Fatal("expected error with no visuals")
	}
	_, err = c.Compose(context.Background(), Assets{Images: []string{"i.png"}, Segments: testSegments()}, t.TempDir())
	if err == nil {
		t.Fatal("expected error with no audio")
	}
}
