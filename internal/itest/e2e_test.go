//go:build integration

package itest

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/forPelevin/autoclip/internal/domain/media"
	"github.com/forPelevin/autoclip/internal/domain/render"
	"github.com/forPelevin/autoclip/internal/domain/selection"
	"github.com/forPelevin/autoclip/internal/domain/transcript"
	"github.com/forPelevin/autoclip/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/autoclip/internal/types"
	"github.com/forPelevin/autoclip/internal/usecase"
)

// scriptedSpeech returns one fixed segment per chunk so chunk offsets are
// visible in the merged transcript.
type scriptedSpeech struct{}

func (scriptedSpeech) Transcribe(_ context.Context, _ string) (types.Transcript, error) {
	return types.Transcript{
		Text:     "here is the key idea",
		Language: "en",
		Segments: []types.Segment{{Start: 0, End: 4, Text: "here is the key idea"}},
		Words:    []types.Word{{Start: 0, End: 1, Word: "here"}},
	}, nil
}

type cannedPicker struct{ resp string }

func (c cannedPicker) Complete(context.Context, string, string) (string, error) {
	return c.resp, nil
}

func makeFixture(t *testing.T, dir string, seconds int) string {
	t.Helper()
	in := filepath.Join(dir, "input.mp4")
	d := strconv.Itoa(seconds)
	ff := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi", "-i", "testsrc=size=1280x720:rate=25:duration="+d,
		"-f", "lavfi", "-i", "sine=frequency=440:duration="+d,
		"-shortest",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		in,
	)
	if b, err := ff.CombinedOutput(); err != nil {
		t.Fatalf("ffmpeg fixture failed: %v\n%s", err, string(b))
	}
	return in
}

func TestE2E(t *testing.T) {
	tmp := t.TempDir()
	in := makeFixture(t, tmp, 40)

	ff := ffmpeg.New("ffmpeg", "ffprobe")
	tempDir := filepath.Join(tmp, "temp")
	clipsDir := filepath.Join(tmp, "clips")

	uc := usecase.New(usecase.Deps{
		Media: media.New(ff, ff, tempDir, nil),
		// A tiny chunk limit forces the split path on real audio.
		Transcriber: transcript.New(scriptedSpeech{}, ff, transcript.Config{
			MaxChunkBytes: 256 * 1024,
			TempDir:       tempDir,
		}, nil),
		Selector: selection.New(cannedPicker{resp: `Sure! [
			{"title": "Key Idea", "description": "the hook", "start_time": "00:05", "end_time": "00:17", "duration": 12, "engagement_score": 8},
			{"title": "Too Short", "description": "", "start_time": "00:20", "end_time": "00:23", "duration": 3, "engagement_score": 5}
		]`}, nil),
		Renderer: render.New(ff, ff, render.Config{}, nil),
		Settings: usecase.Settings{ClipsDir: clipsDir, TempDir: tempDir},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := uc.Run(ctx, usecase.Input{
		Source:      types.Source{Kind: types.SourcePath, Path: in},
		AspectRatio: render.AspectVertical,
	})
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	if len(report.Clips) != 1 || report.Clips[0].Ordinal != 1 {
		t.Fatalf("clips = %+v", report.Clips)
	}

	info, err := ff.Probe(ctx, report.Clips[0].FilePath)
	if err != nil {
		t.Fatalf("probe clip: %v", err)
	}
	if info.Width != 1080 || info.Height != 1920 {
		t.Fatalf("clip size = %dx%d, want 1080x1920", info.Width, info.Height)
	}
	if info.Duration < 11 || info.Duration > 13 {
		t.Fatalf("clip duration = %.2f, want ~12", info.Duration)
	}
	if !info.HasAudio {
		t.Fatalf("clip lost its audio track")
	}

	if _, err := os.Stat(in); err != nil {
		t.Fatalf("local source must survive the run: %v", err)
	}
	leftovers, _ := os.ReadDir(tempDir)
	if len(leftovers) != 0 {
		t.Fatalf("temp dir not cleaned: %d entries", len(leftovers))
	}
}
