package voice

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
)

// wavPayload builds a minimal RIFF/WAVE file with the given duration at
// 24kHz mono 16-bit.
func wavPayload(seconds float64) []byte {
	const sampleRate = 24000
	const blockAlign = 2
	byteRate := uint32(sampleRate * blockAlign)
	dataLen := uint32(seconds * float64(byteRate))

	buf := make([]byte, 0, 44+int(dataLen))
	buf = append(buf, []byte("RIFF")...)
	buf = binary.LittleEndian.AppendUint32(buf, 36+dataLen)
	buf = append(buf, []byte("WAVE")...)
	buf = append(buf, []byte("fmt ")...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1) // PCM
	buf = binary.LittleEndian.AppendUint16(buf, 1) // mono
	buf = binary.LittleEndian.AppendUint32(buf, sampleRate)
	buf = binary.LittleEndian.AppendUint32(buf, byteRate)
	buf = binary.LittleEndian.AppendUint16(buf, blockAlign)
	buf = binary.LittleEndian.AppendUint16(buf, 16)
	buf = append(buf, []byte("data")...)
	buf = binary.LittleEndian.AppendUint32(buf, dataLen)
	buf = append(buf, make([]byte, dataLen)...)
	return buf
}

func TestWAVDuration(t *testing.T) {
	for _, want := range []float64{0.5, 1.0, 2.25} {
		got, err := WAVDuration(wavPayload(want))
		if err != nil {
			t.Fatalf("WAVDuration(%v): %v", want, err)
		}
		if math.Abs(got-want) > 0.01 {
			t.Fatalf("duration = %v, want %v", got, want)
		}
	}
}

func TestWAVDurationRejectsGarbage(t *testing.T) {
	if _, err := WAVDuration([]byte("definitely not audio")); err == nil {
		t.Fatal("expected error for non-WAV payload")
	}
}

func TestSynthesize(t *testing.T) {
	var queries, syntheses int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/audio_query":
			queries++
			if r.URL.Query().Get("text") != "こんにちは" {
				t.Errorf("text param = %q", r.URL.Query().Get("text"))
			}
			if r.URL.Query().Get("speaker") != "3" {
				t.Errorf("speaker param = %q", r.URL.Query().Get("speaker"))
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"accent_phrases": []interface{}{}})
		case "/synthesis":
			syntheses++
			var query map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
				t.Errorf("decode query: %v", err)
			}
			if query["speedScale"] != 1.1 {
				t.Errorf("speedScale = %v", query["speedScale"])
			}
			w.Write(wavPayload(1.5))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(config.VoiceConfig{BaseURL: srv.URL, Speaker: 3, Speed: 1.1, Pitch: 0, Intonation: 1, Volume: 1})
	wav, duration, err := c.Synthesize(context.Background(), "こんにちは")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(wav) == 0 {
		t.Fatal("empty audio")
	}
	if math.Abs(duration-1.5) > 0.01 {
		t.Fatalf("duration = %v, want 1.5", duration)
	}
	if queries != 1 || syntheses != 1 {
		t.Fatalf("queries=%d syntheses=%d", queries, syntheses)
	}
}

func TestSynthesizeEngineDownIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(config.VoiceConfig{BaseURL: srv.URL, Speaker: 3})
	_, _, err := c.Synthesize(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if retrier.Classify(err) != retrier.ClassTransient {
		t.Fatalf("classification of %v is not transient", err)
	}
}

func TestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/version" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`"0.14.5"`))
	}))
	defer srv.Close()

	c := New(config.VoiceConfig{BaseURL: srv.URL})
	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "0.14.5" {
		t.Fatalf("version = %q", v)
	}
}
