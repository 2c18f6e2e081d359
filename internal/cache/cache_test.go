package cache

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/store"
)

type fakeIndex struct {
	entries map[string]store.IndexEntry
	evicted []string
	touched int
}

func newFakeIndex() *fakeIndex { return &fakeIndex{entries: make(map[string]store.IndexEntry)} }

func (f *fakeIndex) InsertArtifactIndex(_ context.Context, stage, fp string, rec pipeline.Record) (pipeline.Record, error) {
	key := stage + "/" + fp
	if existing, ok := f.entries[key]; ok {
		return existing.Record, nil
	}
	f.entries[key] = store.IndexEntry{Stage: stage, Fingerprint: fp, Record: rec, CreatedAt: time.Now()}
	return rec, nil
}

func (f *fakeIndex) GetArtifactIndex(_ context.Context, stage, fp string) (store.IndexEntry, bool, error) {
	entry, ok := f.entries[stage+"/"+fp]
	return entry, ok, nil
}

func (f *fakeIndex) TouchArtifactIndex(_ context.Context, stage, fp string) error {
	f.touched++
	return nil
}

func (f *fakeIndex) DeleteArtifactIndex(_ context.Context, stage, fp string) error {
	key := stage + "/" + fp
	delete(f.entries, key)
	f.evicted = append(f.evicted, key)
	return nil
}

func (f *fakeIndex) EvictArtifactIndex(_ context.Context, stage string, maxEntries int) (int, error) {
	return 0, nil
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestLookupMiss(t *testing.T) {
	c := New(newFakeIndex(), 0, testLogger())
	_, hit, err := c.Lookup(context.Background(), "script", "fp-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit {
		t.Fatal("expected miss on empty index")
	}
}

func TestLookupHitVerifiesArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	idx := newFakeIndex()
	c := New(idx, 0, testLogger())
	rec := pipeline.Record{RunID: "run-1", Stage: "script", Status: pipeline.StageComplete, Fingerprint: "fp-1", Locations: []string{path}}
	if _, err := c.Insert(context.Background(), "script", "fp-1", rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, hit, err := c.Lookup(context.Background(), "script", "fp-1")
	if err != nil || !hit {
		t.Fatalf("Lookup: hit=%v err=%v", hit, err)
	}
	if got.RunID != "run-1" {
		t.Fatalf("record = %+v", got)
	}
	if idx.touched != 1 {
		t.Fatalf("touched = %d, want 1", idx.touched)
	}
}

func TestLookupEvictsMissingArtifact(t *testing.T) {
	idx := newFakeIndex()
	c := New(idx, 0, testLogger())
	corruptions := 0
	c.OnCorruption = func(string) { corruptions++ }

	rec := pipeline.Record{Stage: "voice", Status: pipeline.StageComplete, Fingerprint: "fp-2", Locations: []string{filepath.Join(t.TempDir(), "gone.wav")}}
	if _, err := c.Insert(context.Background(), "voice", "fp-2", rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, hit, err := c.Lookup(context.Background(), "voice", "fp-2")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit {
		t.Fatal("entry with missing artifact must be a miss")
	}
	if len(idx.evicted) != 1 {
		t.Fatalf("evicted = %v, want one entry", idx.evicted)
	}
	if corruptions != 1 {
		t.Fatalf("corruption callbacks = %d, want 1", corruptions)
	}
	// The entry is gone: the next lookup is a plain miss.
	if _, hit, _ := c.Lookup(context.Background(), "voice", "fp-2"); hit {
		t.Fatal("evicted entry served again")
	}
}

func TestInsertFirstWriterWins(t *testing.T) {
	idx := newFakeIndex()
	c := New(idx, 0, testLogger())

	first := pipeline.Record{RunID: "run-1", Stage: "script", Fingerprint: "fp-3", Status: pipeline.StageComplete}
	second := pipeline.Record{RunID: "run-2", Stage: "script", Fingerprint: "fp-3", Status: pipeline.StageComplete}

	if _, err := c.Insert(context.Background(), "script", "fp-3", first); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	stored, err := c.Insert(context.Background(), "script", "fp-3", second)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if stored.RunID != "run-1" {
		t.Fatalf("stored = %+v, want first writer's record", stored)
	}
}
