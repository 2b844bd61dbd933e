package whisperapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"

	"github.com/forPelevin/capburn/internal/ports"
)

const verboseBody = `{
  "text": "Hello there. General Kenobi.",
  "segments": [
    {"start": 0, "end": 1.2, "text": " Hello there."},
    {"start": 1.2, "end": 2.5, "text": " General Kenobi."}
  ],
  "words": [
    {"word": "Hello", "start": 0.1, "end": 0.4},
    {"word": "there.", "start": 0.5, "end": 1.0},
    {"word": "General", "start": 1.3, "end": 1.8},
    {"word": "Kenobi.", "start": 1.9, "end": 2.4}
  ]
}`

func writeMedia(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("RIFF0000WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func newTestAdapter(srv *httptest.Server) *Adapter {
	return New("sk-test", srv.URL+"/v1/", nil, option.WithMaxRetries(0))
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("file part: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(verboseBody))
	}))
	defer srv.Close()

	cache := t.TempDir()
	tr, err := newTestAdapter(srv).Transcribe(context.Background(), writeMedia(t, "clip.wav"), cache)
	if err != nil {
		t.Fatal(err)
	}
	if len(tr.Segments) != 2 || len(tr.Segments[0].Words) != 2 || len(tr.Segments[1].Words) != 2 {
		t.Fatalf("segments = %+v", tr.Segments)
	}
	if tr.Segments[1].Words[1].Word != "Kenobi." || tr.Segments[0].Text != "Hello there." {
		t.Fatalf("transcript = %+v", tr)
	}
	if _, err := os.Stat(filepath.Join(cache, "whisper.json")); err != nil {
		t.Fatalf("raw response not cached: %v", err)
	}
}

func TestTranscribe_UnsupportedExtension(t *testing.T) {
	a := New("sk-test", "http://127.0.0.1:1/v1/", nil, option.WithMaxRetries(0))
	_, err := a.Transcribe(context.Background(), writeMedia(t, "clip.avi"), "")
	if !ports.IsUnsupportedFormat(err) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestTranscribe_ErrorKinds(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		unsupported bool
	}{
		{"bad format", http.StatusBadRequest, `{"error":{"message":"Invalid file format.","type":"invalid_request_error"}}`, true},
		{"server", http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestAdapter(srv).Transcribe(context.Background(), writeMedia(t, "clip.mp4"), "")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := ports.IsUnsupportedFormat(err); got != tt.unsupported {
				t.Fatalf("unsupported = %v for %v", got, err)
			}
		})
	}
}

func TestParseVerbose_NoSegments(t *testing.T) {
	tr, err := parseVerbose([]byte(`{"text":"a b","words":[{"word":" a","start":0,"end":0.2},{"word":"b","start":0.3,"end":0.5}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(tr.Segments) != 1 || tr.Segments[0].Text != "a b" || tr.Segments[0].Words[0].Word != "a" {
		t.Fatalf("transcript = %+v", tr)
	}
	if _, err := parseVerbose([]byte(`{"text":"","words":[]}`)); err == nil {
		t.Fatal("expected error for empty word list")
	}
}
