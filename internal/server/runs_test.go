package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/queue"
)

type fakeRunStore struct {
	runs    map[string]pipeline.Run
	records map[string][]pipeline.Record
	created []string
	cancels []string
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: map[string]pipeline.Run{}, records: map[string][]pipeline.Record{}}
}

func (f *fakeRunStore) CreateRun(_ context.Context, topic string, keywords []string) (string, error) {
	id := fmt.Sprintf("run-%d", len(f.created)+1)
	f.created = append(f.created, id)
	f.runs[id] = pipeline.Run{ID: id, Topic: topic, Keywords: keywords, Status: pipeline.RunPending}
	return id, nil
}

func (f *fakeRunStore) GetRun(_ context.Context, id string) (pipeline.Run, bool, error) {
	run, ok := f.runs[id]
	return run, ok, nil
}

func (f *fakeRunStore) ListRuns(_ context.Context, limit int) ([]pipeline.Run, error) {
	out := make([]pipeline.Run, 0, len(f.runs))
	for _, run := range f.runs {
		out = append(out, run)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRunStore) ListStageRecords(_ context.Context, runID string) ([]pipeline.Record, error) {
	return f.records[runID], nil
}

func (f *fakeRunStore) RequestCancel(_ context.Context, id string) error {
	if _, ok := f.runs[id]; !ok {
		return fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, id)
	}
	f.cancels = append(f.cancels, id)
	return nil
}

type fakePublisher struct {
	published []queue.RunRequest
	err       error
}

func (f *fakePublisher) PublishRun(_ context.Context, req queue.RunRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.published = append(f.published, req)
	return fmt.Sprintf("170000-%d", len(f.published)), nil
}

var testStages = []string{"script", "voice", "imagegen", "mediafetch", "compose", "publish"}

func newTestServer(store *fakeRunStore, pub *fakePublisher) *httptest.Server {
	h := NewRunsHandler(store, pub, testStages)
	srv := New(h, prometheus.NewRegistry(), log.New(io.Discard, "", 0))
	return httptest.NewServer(srv.Echo())
}

func postJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func TestCreateRunEnqueues(t *testing.T) {
	store := newFakeRunStore()
	pub := &fakePublisher{}
	srv := newTestServer(store, pub)
	defer srv.Close()

	resp, raw := postJSON(t, srv.URL+"/api/runs", `{"topic":"deep sea creatures","keywords":["anglerfish"]}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, raw)
	}
	var out createRunResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.RunID == "" || out.Status != pipeline.RunPending {
		t.Fatalf("unexpected response: %+v", out)
	}
	if len(pub.published) != 1 || pub.published[0].RunID != out.RunID || pub.published[0].RerunFrom != "" {
		t.Fatalf("unexpected published requests: %+v", pub.published)
	}
}

func TestCreateRunRejectsEmptyTopic(t *testing.T) {
	store := newFakeRunStore()
	pub := &fakePublisher{}
	srv := newTestServer(store, pub)
	defer srv.Close()

	resp, _ := postJSON(t, srv.URL+"/api/runs", `{"topic":"   "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if len(store.created) != 0 || len(pub.published) != 0 {
		t.Fatal("empty topic must not create or enqueue a run")
	}
}

func TestGetRunWithRecords(t *testing.T) {
	store := newFakeRunStore()
	store.runs["run-7"] = pipeline.Run{ID: "run-7", Topic: "volcanoes", Status: pipeline.RunPartial}
	store.records["run-7"] = []pipeline.Record{
		{RunID: "run-7", Stage: "script", Status: pipeline.StageComplete},
		{RunID: "run-7", Stage: "voice", Status: pipeline.StageFailed, Error: "synthesis failed"},
	}
	srv := newTestServer(store, &fakePublisher{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs/run-7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out runDetailResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Run.ID != "run-7" || len(out.Records) != 2 {
		t.Fatalf("unexpected detail: %+v", out)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(newFakeRunStore(), &fakePublisher{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRerunPublishesFromStage(t *testing.T) {
	store := newFakeRunStore()
	store.runs["run-3"] = pipeline.Run{ID: "run-3", Topic: "glaciers", Status: pipeline.RunPartial}
	pub := &fakePublisher{}
	srv := newTestServer(store, pub)
	defer srv.Close()

	resp, raw := postJSON(t, srv.URL+"/api/runs/run-3/rerun", `{"stage":"voice"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, raw)
	}
	if len(pub.published) != 1 || pub.published[0].RerunFrom != "voice" || pub.published[0].RunID != "run-3" {
		t.Fatalf("unexpected published requests: %+v", pub.published)
	}
}

func TestRerunRejectsUnknownStage(t *testing.T) {
	store := newFakeRunStore()
	store.runs["run-3"] = pipeline.Run{ID: "run-3", Status: pipeline.RunComplete}
	pub := &fakePublisher{}
	srv := newTestServer(store, pub)
	defer srv.Close()

	resp, _ := postJSON(t, srv.URL+"/api/runs/run-3/rerun", `{"stage":"render"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if len(pub.published) != 0 {
		t.Fatal("unknown stage must not enqueue a rerun")
	}
}

func TestRerunConflictsWhileRunning(t *testing.T) {
	store := newFakeRunStore()
	store.runs["run-4"] = pipeline.Run{ID: "run-4", Status: pipeline.RunRunning}
	srv := newTestServer(store, &fakePublisher{})
	defer srv.Close()

	resp, _ := postJSON(t, srv.URL+"/api/runs/run-4/rerun", `{"stage":"compose"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestCancelRun(t *testing.T) {
	store := newFakeRunStore()
	store.runs["run-5"] = pipeline.Run{ID: "run-5", Status: pipeline.RunRunning}
	srv := newTestServer(store, &fakePublisher{})
	defer srv.Close()

	resp, _ := postJSON(t, srv.URL+"/api/runs/run-5/cancel", ``)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if len(store.cancels) != 1 || store.cancels[0] != "run-5" {
		t.Fatalf("unexpected cancels: %v", store.cancels)
	}

	resp, _ = postJSON(t, srv.URL+"/api/runs/nope/cancel", ``)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing run, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(newFakeRunStore(), &fakePublisher{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
