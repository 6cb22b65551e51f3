package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestAdapter(t *testing.T, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "test-key", BaseURL: srv.URL + "/", MaxRetries: 0})
}

func TestComplete(t *testing.T) {
	var body map[string]any
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" [1] "}}]}`)
	})

	out, err := a.Complete(context.Background(), "sys", "hello")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "[1]" {
		t.Fatalf("unexpected output %q", out)
	}
	if body["model"] != DefaultChatModel {
		t.Fatalf("unexpected model %v", body["model"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %v", body["messages"])
	}
}

func TestComplete_ServerError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	})
	if _, err := a.Complete(context.Background(), "s", "p"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTranscribe(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("unexpected response_format %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":" hi there ","language":"english","duration":2.0,
			"segments":[{"id":0,"start":0.0,"end":2.0,"text":" hi there"}],
			"words":[{"word":"hi","start":0.1,"end":0.4},{"word":" there","start":0.5,"end":0.9}]}`)
	})

	wav := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(wav, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tr, err := a.Transcribe(context.Background(), wav)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if tr.Text != "hi there" || tr.Language != "english" {
		t.Fatalf("unexpected transcript: %+v", tr)
	}
	if len(tr.Segments) != 1 || len(tr.Words) != 2 || tr.Words[1].Word != "there" {
		t.Fatalf("unexpected timing data: %+v", tr)
	}
}

func TestTranscribe_MissingFile(t *testing.T) {
	a := New(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1/", MaxRetries: 0})
	_, err := a.Transcribe(context.Background(), "/nonexistent.wav")
	if err == nil || !strings.Contains(err.Error(), "open audio") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestParseVerboseJSON_Invalid(t *testing.T) {
	if _, err := ParseVerboseJSON([]byte("{")); err == nil {
		t.Fatalf("expected error")
	}
}
