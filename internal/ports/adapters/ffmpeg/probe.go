package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/forPelevin/autoclip/internal/types"
)

var ErrNoVideoStream = errors.New("no video stream")

// Probe runs a single ffprobe JSON call against path.
func (a *Adapter) Probe(ctx context.Context, path string) (types.MediaInfo, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return types.MediaInfo{}, fmt.Errorf("ffprobe %q: %w\n%s", path, err, tail(stderr.Bytes()))
	}

	info, err := ParseProbeJSON(out)
	if err != nil {
		return types.MediaInfo{}, fmt.Errorf("ffprobe %q: %w", path, err)
	}
	if info.FileSize == 0 {
		if st, err := os.Stat(path); err == nil {
			info.FileSize = st.Size()
		}
	}
	return info, nil
}

// ParseProbeJSON converts raw ffprobe JSON output into MediaInfo. Inputs
// without a usable video stream are rejected.
func ParseProbeJSON(data []byte) (types.MediaInfo, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.MediaInfo{}, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	var video *probeStream
	hasAudio := false
	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil && s.Disposition["attached_pic"] != 1 {
				video = s
			}
		case "audio":
			hasAudio = true
		}
	}
	if video == nil {
		return types.MediaInfo{}, ErrNoVideoStream
	}
	if video.Width <= 0 || video.Height <= 0 {
		return types.MediaInfo{}, fmt.Errorf("video stream has invalid dimensions %dx%d", video.Width, video.Height)
	}

	duration := parseFloat(raw.Format.Duration)
	if duration <= 0 {
		duration = parseFloat(video.Duration)
	}
	bitrate := parseInt64(raw.Format.BitRate)
	if bitrate <= 0 {
		bitrate = parseInt64(video.BitRate)
	}

	return types.MediaInfo{
		Duration:    duration,
		Width:       video.Width,
		Height:      video.Height,
		AspectRatio: float64(video.Width) / float64(video.Height),
		Codec:       video.CodecName,
		Bitrate:     bitrate,
		FPS:         parseRate(video.AvgFrameRate),
		HasAudio:    hasAudio,
		FileSize:    parseInt64(raw.Format.Size),
	}, nil
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
	BitRate  string `json:"bit_rate"`
}

type probeStream struct {
	CodecName    string         `json:"codec_name"`
	CodecType    string         `json:"codec_type"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	Duration     string         `json:"duration"`
	BitRate      string         `json:"bit_rate"`
	AvgFrameRate string         `json:"avg_frame_rate"`
	Disposition  map[string]int `json:"disposition"`
}

// ffprobe reports numbers as strings.

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

// parseRate handles "30000/1001" style frame rates.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return parseFloat(num)
	}
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return parseFloat(num) / d
}
