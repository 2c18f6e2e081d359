package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
)

func TestGenerate(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Prompt != "glowing anglerfish" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		if req.Width != 1080 || req.Height != 1440 {
			t.Errorf("dimensions = %dx%d", req.Width, req.Height)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(png)}},
		})
	}))
	defer srv.Close()

	// Height above the backend cap is clamped.
	c := New(config.ImageConfig{BaseURL: srv.URL, Width: 1080, Height: 1920, Steps: 4})
	img, err := c.Generate(context.Background(), "glowing anglerfish")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(img) != string(png) {
		t.Fatalf("image bytes = %v", img)
	}
}

func TestGenerateServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(config.ImageConfig{BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), "anything")
	if err == nil {
		t.Fatal("expected error")
	}
	if retrier.Classify(err) != retrier.ClassTransient {
		t.Fatalf("classification of %v is not transient", err)
	}
}

func TestGenerateContentRejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"prompt rejected"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(config.ImageConfig{BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), "rejected prompt")
	if err == nil {
		t.Fatal("expected error")
	}
	if retrier.Classify(err) != retrier.ClassPermanent {
		t.Fatalf("classification of %v is not permanent", err)
	}
}

func TestGenerateEmptyPrompt(t *testing.T) {
	c := New(config.ImageConfig{BaseURL: "http://unused"})
	if _, err := c.Generate(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}
