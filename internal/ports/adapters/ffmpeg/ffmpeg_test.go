package ffmpeg

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/forPelevin/autoclip/internal/ports"
)

const sampleProbe = `{
  "streams": [
    {"codec_name": "mjpeg", "codec_type": "video", "width": 320, "height": 320, "disposition": {"attached_pic": 1}},
    {"codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080, "avg_frame_rate": "30000/1001", "bit_rate": "4000000"},
    {"codec_name": "aac", "codec_type": "audio", "channels": 2}
  ],
  "format": {"duration": "90.500000", "size": "52428800", "bit_rate": "4634000"}
}`

func TestParseProbeJSON(t *testing.T) {
	info, err := ParseProbeJSON([]byte(sampleProbe))
	if err != nil {
		t.Fatalf("ParseProbeJSON: %v", err)
	}
	if info.Width != 1920 || info.Height != 1080 {
		t.Fatalf("expected primary stream 1920x1080, got %dx%d", info.Width, info.Height)
	}
	if info.Codec != "h264" {
		t.Fatalf("codec = %q", info.Codec)
	}
	if info.Duration != 90.5 || info.FileSize != 52428800 || info.Bitrate != 4634000 {
		t.Fatalf("unexpected format fields: %+v", info)
	}
	if !info.HasAudio {
		t.Fatalf("expected audio stream to be detected")
	}
	if math.Abs(info.AspectRatio-16.0/9.0) > 1e-9 {
		t.Fatalf("aspect ratio = %v", info.AspectRatio)
	}
	if math.Abs(info.FPS-29.97) > 0.01 {
		t.Fatalf("fps = %v", info.FPS)
	}
}

func TestParseProbeJSON_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantNoVid bool
	}{
		{"audio only", `{"streams":[{"codec_type":"audio"}],"format":{"duration":"3"}}`, true},
		{"cover art only", `{"streams":[{"codec_type":"video","width":10,"height":10,"disposition":{"attached_pic":1}}]}`, true},
		{"zero dims", `{"streams":[{"codec_type":"video","width":0,"height":0}]}`, false},
		{"garbage", `not json`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProbeJSON([]byte(tt.in))
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := errors.Is(err, ErrNoVideoStream); got != tt.wantNoVid {
				t.Fatalf("errors.Is(ErrNoVideoStream) = %v, want %v (err=%v)", got, tt.wantNoVid, err)
			}
		})
	}
}

func TestEncodeArgs(t *testing.T) {
	req := ports.EncodeRequest{
		Input:     "in.mp4",
		Output:    "out.mp4",
		Start:     12.5,
		End:       57.5,
		Filter:    "crop=607:1080:656:0,scale=1080:1920",
		Preset:    "fast",
		CRF:       23,
		KeepAudio: true,
	}
	got := strings.Join(encodeArgs(req), " ")
	want := "-y -ss 12.500 -to 57.500 -i in.mp4 -vf crop=607:1080:656:0,scale=1080:1920 -c:v libx264 -preset fast -crf 23 -c:a aac -b:a 128k out.mp4"
	if got != want {
		t.Fatalf("encodeArgs =\n%s\nwant\n%s", got, want)
	}

	req.KeepAudio = false
	req.Filter = ""
	got = strings.Join(encodeArgs(req), " ")
	if strings.Contains(got, "-vf") || !strings.HasSuffix(got, "-an out.mp4") {
		t.Fatalf("unexpected video-only args: %s", got)
	}
}

func TestParseRate(t *testing.T) {
	tests := map[string]float64{"25/1": 25, "0/0": 0, "24": 24, "": 0}
	for in, want := range tests {
		if got := parseRate(in); got != want {
			t.Fatalf("parseRate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCheck_MissingTools(t *testing.T) {
	a := New("/nonexistent/ffmpeg", "/nonexistent/ffprobe")
	got := a.Check(context.Background())
	if len(got) != 2 || got["ffmpeg"] == nil || got["ffprobe"] == nil {
		t.Fatalf("expected both tools reported missing, got %v", got)
	}
}
