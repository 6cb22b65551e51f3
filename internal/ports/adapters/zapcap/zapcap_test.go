package zapcap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/forPelevin/autoclip/internal/ports"
)

func TestUploadVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/videos" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("missing api key")
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		b, _ := io.ReadAll(f)
		if hdr.Filename != "clip.mp4" || string(b) != "video" {
			t.Errorf("unexpected file %q %q", hdr.Filename, b)
		}
		_, _ = io.WriteString(w, `{"id":"vid-1"}`)
	}))
	defer srv.Close()

	id, err := New("k", srv.URL).UploadVideo(context.Background(), "clip.mp4", "video/mp4", []byte("video"))
	if err != nil || id != "vid-1" {
		t.Fatalf("got %q, %v", id, err)
	}
}

func TestParseUploadSession(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []string
		wantErr bool
	}{
		{name: "strings", body: `{"uploadId":"u","videoId":"v","presignedUrls":["a","b"]}`, want: []string{"a", "b"}},
		{name: "objects under parts", body: `{"uploadId":"u","videoId":"v","parts":[{"url":"a"},{"uploadUrl":"b"},{"presignedUrl":"c"}]}`, want: []string{"a", "b", "c"}},
		{name: "snake case key", body: `{"uploadId":"u","videoId":"v","upload_urls":["x"]}`, want: []string{"x"}},
		{name: "empty list skipped", body: `{"uploadId":"u","videoId":"v","urls":[],"uploadUrls":["y"]}`, want: []string{"y"}},
		{name: "no urls", body: `{"uploadId":"u","videoId":"v"}`, wantErr: true},
		{name: "object without url", body: `{"uploadId":"u","videoId":"v","urls":[{"foo":"a"}]}`, wantErr: true},
		{name: "missing upload id", body: `{"videoId":"v","urls":["a"]}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw map[string]json.RawMessage
			if err := json.Unmarshal([]byte(tt.body), &raw); err != nil {
				t.Fatalf("bad fixture: %v", err)
			}
			s, err := parseUploadSession(raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.UploadID != "u" || s.VideoID != "v" || len(s.PartURLs) != len(tt.want) {
				t.Fatalf("unexpected session: %+v", s)
			}
			for i := range tt.want {
				if s.PartURLs[i] != tt.want[i] {
					t.Fatalf("part %d: got %q", i, s.PartURLs[i])
				}
			}
		})
	}
}

func TestMultipartFlow(t *testing.T) {
	var (
		created  map[string]any
		complete map[string]any
	)
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("POST /videos/upload", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&created)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"uploadId":      "up-1",
			"videoId":       "vid-9",
			"presignedUrls": []string{srv.URL + "/s3/1"},
		})
	})
	mux.HandleFunc("PUT /s3/1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "" {
			t.Errorf("presigned upload must not carry the api key")
		}
		w.Header().Set("ETag", `"etag-1"`)
	})
	mux.HandleFunc("POST /videos/upload/complete", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&complete)
		w.WriteHeader(http.StatusCreated)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	a := New("k", srv.URL)
	ctx := context.Background()
	sess, err := a.CreateUpload(ctx, "clip.mp4", "video/mp4", []int64{5})
	if err != nil {
		t.Fatalf("create upload: %v", err)
	}
	parts, _ := created["uploadParts"].([]any)
	if len(parts) != 1 || created["filename"] != "clip.mp4" {
		t.Fatalf("unexpected create payload: %v", created)
	}

	etag, err := a.UploadPart(ctx, sess.PartURLs[0], "video/mp4", []byte("hello"))
	if err != nil || etag != `"etag-1"` {
		t.Fatalf("upload part: %q, %v", etag, err)
	}

	err = a.CompleteUpload(ctx, ports.CompleteUpload{
		UploadID:     sess.UploadID,
		VideoID:      sess.VideoID,
		Filename:     "clip.mp4",
		ContentType:  "video/mp4",
		OriginalSize: 5,
		Parts:        []ports.UploadedPart{{PartNumber: 1, ETag: "etag-1"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if complete["baseName"] != "clip" || complete["fileExtension"] != ".mp4" {
		t.Fatalf("unexpected complete payload: %v", complete)
	}
	meta, _ := complete["metadata"].(map[string]any)
	if meta["uploadMethod"] != "multipart" {
		t.Fatalf("unexpected metadata: %v", meta)
	}
}

func TestTaskLifecycle(t *testing.T) {
	var task map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /videos/vid-1/task", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&task)
		_, _ = io.WriteString(w, `{"taskId":"t-1"}`)
	})
	mux.HandleFunc("GET /videos/vid-1/task/t-1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status":"completed","downloadUrl":"https://cdn/x.mp4"}`)
	})
	mux.HandleFunc("GET /videos/vid-1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	mux.HandleFunc("GET /result.mp4", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("download must carry the api key")
		}
		_, _ = io.WriteString(w, "captioned")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := New("k", srv.URL+"/")
	ctx := context.Background()

	id, err := a.CreateTask(ctx, "vid-1", ports.CaptionTask{TemplateID: "tpl", Language: "en", AutoApprove: true})
	if err != nil || id != "t-1" {
		t.Fatalf("create task: %q, %v", id, err)
	}
	if task["templateId"] != "tpl" || task["autoApprove"] != true || task["language"] != "en" {
		t.Fatalf("unexpected task payload: %v", task)
	}

	st, err := a.TaskStatus(ctx, "vid-1", "t-1")
	if err != nil || st.Status != "completed" || st.DownloadURL != "https://cdn/x.mp4" {
		t.Fatalf("status: %+v, %v", st, err)
	}

	ok, err := a.VideoExists(ctx, "vid-1")
	if err != nil || !ok {
		t.Fatalf("exists: %v, %v", ok, err)
	}
	ok, err = a.VideoExists(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("missing video: %v, %v", ok, err)
	}

	var buf bytes.Buffer
	if err := a.Download(ctx, srv.URL+"/result.mp4", &buf); err != nil || buf.String() != "captioned" {
		t.Fatalf("download: %q, %v", buf.String(), err)
	}
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	_, err := New("k", srv.URL).CreateTask(context.Background(), "v", ports.CaptionTask{})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusTooManyRequests || se.Body != "slow down" {
		t.Fatalf("expected status error, got %v", err)
	}
}
