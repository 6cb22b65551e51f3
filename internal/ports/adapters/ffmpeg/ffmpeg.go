package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/forPelevin/autoclip/internal/ports"
)

type Adapter struct {
	ffmpeg  string
	ffprobe string
}

func New(ffmpegPath, ffprobePath string) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

func (a *Adapter) ExtractAudio(ctx context.Context, videoPath, outWav string) error {
	args := append([]string{"-y", "-i", videoPath}, pcmArgs(outWav)...)
	return a.run(ctx, "extract audio", args)
}

func (a *Adapter) CutAudio(ctx context.Context, inWav, outWav string, start, end float64) error {
	args := []string{
		"-y",
		"-i", inWav,
		"-ss", fmtSeconds(start),
		"-to", fmtSeconds(end),
	}
	args = append(args, pcmArgs(outWav)...)
	return a.run(ctx, "cut audio", args)
}

func (a *Adapter) EncodeClip(ctx context.Context, req ports.EncodeRequest) error {
	return a.run(ctx, "render clip", encodeArgs(req))
}

func (a *Adapter) AudioDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w\n%s", err, tail(b))
	}
	s := strings.TrimSpace(string(b))
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return sec, nil
}

// Check runs ffmpeg and ffprobe with -version and returns the failure for
// each tool that cannot be run, keyed by tool name.
func (a *Adapter) Check(ctx context.Context) map[string]error {
	out := map[string]error{}
	for name, bin := range map[string]string{"ffmpeg": a.ffmpeg, "ffprobe": a.ffprobe} {
		if b, err := exec.CommandContext(ctx, bin, "-version").CombinedOutput(); err != nil {
			out[name] = fmt.Errorf("%s not available: %w\n%s", name, err, tail(b))
		}
	}
	return out
}

func (a *Adapter) run(ctx context.Context, what string, args []string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg %s: %w\n%s", what, err, tail(b))
	}
	return nil
}

func pcmArgs(out string) []string {
	return []string{
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		out,
	}
}

func encodeArgs(req ports.EncodeRequest) []string {
	args := []string{
		"-y",
		"-ss", fmtSeconds(req.Start),
		"-to", fmtSeconds(req.End),
		"-i", req.Input,
	}
	if req.Filter != "" {
		args = append(args, "-vf", req.Filter)
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", req.Preset,
		"-crf", strconv.Itoa(req.CRF),
	)
	if req.KeepAudio {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-an")
	}
	return append(args, req.Output)
}

func fmtSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

// tail keeps the end of tool output, where ffmpeg prints the actual failure.
func tail(b []byte) string {
	const limit = 4096
	if len(b) > limit {
		b = b[len(b)-limit:]
	}
	return string(b)
}
