package whispercpp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
)

func TestParseFullJSON(t *testing.T) {
	in := []byte(`{
	  "result": {"language": "en"},
	  "transcription": [
	    {
	      "offsets": {"from": 0, "to": 2000},
	      "text": " Hello wonderful",
	      "tokens": [
	        {"text": "[_BEG_]", "offsets": {"from": 0, "to": 0}},
	        {"text": " Hello", "offsets": {"from": 0, "to": 500}},
	        {"text": " wonder", "offsets": {"from": 600, "to": 1200}},
	        {"text": "ful", "offsets": {"from": 1200, "to": 1500}}
	      ]
	    },
	    {
	      "offsets": {"from": 2000, "to": 3500},
	      "text": " world.",
	      "tokens": [
	        {"text": " world.", "offsets": {"from": 2100, "to": 3000}},
	        {"text": "[_TT_150]", "offsets": {"from": 3000, "to": 3000}}
	      ]
	    }
	  ]
	}`)

	tr, err := ParseFullJSON(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tr.Text != "Hello wonderful world." || tr.Language != "en" {
		t.Fatalf("unexpected transcript: %+v", tr)
	}
	if len(tr.Segments) != 2 || tr.Segments[1].Start != 2 || tr.Segments[1].End != 3.5 {
		t.Fatalf("unexpected segments: %+v", tr.Segments)
	}
	want := []string{"Hello", "wonderful", "world."}
	if len(tr.Words) != len(want) {
		t.Fatalf("expected %d words, got %+v", len(want), tr.Words)
	}
	for i, w := range want {
		if tr.Words[i].Word != w {
			t.Fatalf("word %d: got %q want %q", i, tr.Words[i].Word, w)
		}
	}
	if tr.Words[1].Start != 0.6 || tr.Words[1].End != 1.5 {
		t.Fatalf("sub-word tokens should extend the word: %+v", tr.Words[1])
	}
}

func TestParseFullJSON_Invalid(t *testing.T) {
	if _, err := ParseFullJSON([]byte("nope")); err == nil {
		t.Fatalf("expected error")
	}
}

// fakeWhisper writes a script that mimics whisper-cli: it writes body to the
// -of prefix with a .json suffix and exits with code.
func fakeWhisper(t *testing.T, body string, code int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake")
	}
	bin := filepath.Join(t.TempDir(), "whisper-cli")
	script := "#!/bin/sh\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  if [ \"$1\" = \"-of\" ]; then out=\"$2\"; fi\n" +
		"  shift\n" +
		"done\n" +
		"printf '%s' '" + body + "' > \"$out.json\"\n" +
		"exit " + strconv.Itoa(code) + "\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake: %v", err)
	}
	return bin
}

func TestTranscribe_RemovesOutputFile(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		code    int
		wantErr bool
	}{
		{name: "success", body: `{"result":{"language":"en"},"transcription":[]}`, code: 0},
		{name: "failure after partial output", body: `{"result":`, code: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			wav := filepath.Join(dir, "chunk_000.wav")
			if err := os.WriteFile(wav, []byte("RIFF"), 0o644); err != nil {
				t.Fatal(err)
			}

			_, err := New(fakeWhisper(t, tt.body, tt.code), "model.bin").Transcribe(context.Background(), wav)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if _, err := os.Stat(filepath.Join(dir, "chunk_000.whisper.json")); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("whisper output left behind, stat err = %v", err)
			}
		})
	}
}
