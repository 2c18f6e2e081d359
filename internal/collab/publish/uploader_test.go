package publish

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
)

func fakeUploader(t *testing.T, srv *httptest.Server) *Uploader {
	t.Helper()
	u := New(config.PublishConfig{CategoryID: "22", Privacy: "private"}, log.New(io.Discard, "", 0))
	u.newService = func(ctx context.Context) (*youtube.Service, error) {
		return youtube.NewService(ctx,
			option.WithEndpoint(srv.URL+"/"),
			option.WithHTTPClient(srv.Client()),
		)
	}
	return u
}

func videoFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "final.mp4")
	if err := os.WriteFile(path, []byte("fake mp4"), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	return path
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		json.NewEncoder(w).Encode(youtube.Video{Id: "abc123"})
	}))
	defer srv.Close()

	u := fakeUploader(t, srv)
	receipt, err := u.Upload(context.Background(), videoFile(t), Metadata{
		Title:       "Three Deep Sea Facts",
		Description: "Quick facts about the deep sea.",
		Tags:        []string{"ocean"},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if receipt.VideoID != "abc123" {
		t.Fatalf("receipt = %+v", receipt)
	}
	if receipt.VideoURL != "https://www.youtube.com/watch?v=abc123" {
		t.Fatalf("url = %s", receipt.VideoURL)
	}
}

func TestUploadRequiresTitle(t *testing.T) {
	u := New(config.PublishConfig{}, log.New(io.Discard, "", 0))
	if _, err := u.Upload(context.Background(), "x.mp4", Metadata{}); err == nil {
		t.Fatal("expected error for missing title")
	}
}

func TestUploadMissingCredentials(t *testing.T) {
	u := New(config.PublishConfig{}, log.New(io.Discard, "", 0))
	_, err := u.Upload(context.Background(), videoFile(t), Metadata{Title: "t"})
	if err == nil {
		t.Fatal("expected error")
	}
	if retrier.Classify(err) != retrier.ClassPermanent {
		t.Fatalf("classification of %v is not permanent", err)
	}
}

func TestClassifyAPIError(t *testing.T) {
	transient := classifyAPIError(&googleapi.Error{Code: 503})
	if retrier.Classify(transient) != retrier.ClassTransient {
		t.Fatalf("503 classified as %v", transient)
	}
	permanent := classifyAPIError(&googleapi.Error{Code: 403, Message: "quotaExceeded"})
	if retrier.Classify(permanent) != retrier.ClassPermanent {
		t.Fatalf("403 classified as %v", permanent)
	}
}
