// Package ytdlp downloads social media videos with the yt-dlp CLI.
package ytdlp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/forPelevin/autoclip/internal/types"
)

const (
	PlatformTikTok    = "tiktok"
	PlatformInstagram = "instagram"
	PlatformYouTube   = "youtube"
	PlatformUnknown   = "unknown"
)

var (
	tiktokIDRE    = regexp.MustCompile(`/video/(\d+)`)
	instagramIDRE = regexp.MustCompile(`(?i)/(?:p|reel|tv|reels)/([A-Za-z0-9_-]+)`)
	youtubeIDRE   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

var videoExts = []string{".mp4", ".mkv", ".webm", ".mov"}

type Config struct {
	Bin string
	// Instagram credentials are optional; without them only public posts work.
	InstagramUsername string
	InstagramPassword string
}

type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	if cfg.Bin == "" {
		cfg.Bin = "yt-dlp"
	}
	return &Adapter{cfg: cfg}
}

// Check reports whether the yt-dlp binary can be run.
func (a *Adapter) Check(ctx context.Context) error {
	b, err := exec.CommandContext(ctx, a.cfg.Bin, "--version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("yt-dlp not available: %w\n%s", err, b)
	}
	return nil
}

// Download fetches metadata and the video for rawURL into dir/<platform>_<id>.
func (a *Adapter) Download(ctx context.Context, rawURL, dir string) (types.Download, error) {
	platform := DetectPlatform(rawURL)
	if platform == PlatformUnknown {
		return types.Download{}, fmt.Errorf("unsupported platform for %q", rawURL)
	}
	if err := a.Check(ctx); err != nil {
		return types.Download{}, err
	}
	postID := PostID(rawURL, platform)
	if postID == "" {
		postID = "unknown"
	}
	postDir := filepath.Join(dir, platform+"_"+postID)
	if err := os.MkdirAll(postDir, 0o755); err != nil {
		return types.Download{}, err
	}

	meta, err := a.metadata(ctx, rawURL, platform)
	if err != nil {
		return types.Download{}, err
	}

	args := []string{
		"--output", filepath.Join(postDir, postID+".%(ext)s"),
		"--no-playlist",
		"--format", "best[height<=720]/best",
	}
	args = append(args, a.authArgs(platform)...)
	args = append(args, rawURL)
	if b, err := exec.CommandContext(ctx, a.cfg.Bin, args...).CombinedOutput(); err != nil {
		return types.Download{}, fmt.Errorf("yt-dlp download: %w\n%s", err, tail(b))
	}

	path, err := findVideo(postDir, postID)
	if err != nil {
		return types.Download{}, err
	}
	return types.Download{Path: path, Platform: platform, PostID: postID, Metadata: meta}, nil
}

type wireMetadata struct {
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Duration   float64 `json:"duration"`
	ViewCount  int64   `json:"view_count"`
	LikeCount  int64   `json:"like_count"`
	WebpageURL string  `json:"webpage_url"`
}

func (a *Adapter) metadata(ctx context.Context, rawURL, platform string) (types.VideoMetadata, error) {
	args := append([]string{"--dump-json", "--no-download"}, a.authArgs(platform)...)
	args = append(args, rawURL)
	cmd := exec.CommandContext(ctx, a.cfg.Bin, args...)
	out, err := cmd.Output()
	if err != nil {
		var stderr []byte
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = ee.Stderr
		}
		return types.VideoMetadata{}, fmt.Errorf("yt-dlp metadata: %w\n%s", err, tail(stderr))
	}
	return ParseMetadata(out)
}

func ParseMetadata(b []byte) (types.VideoMetadata, error) {
	var w wireMetadata
	if err := json.Unmarshal(b, &w); err != nil {
		return types.VideoMetadata{}, fmt.Errorf("decode yt-dlp metadata: %w", err)
	}
	return types.VideoMetadata(w), nil
}

func (a *Adapter) authArgs(platform string) []string {
	if platform != PlatformInstagram || a.cfg.InstagramUsername == "" || a.cfg.InstagramPassword == "" {
		return nil
	}
	return []string{"--username", a.cfg.InstagramUsername, "--password", a.cfg.InstagramPassword}
}

func DetectPlatform(rawURL string) string {
	u := strings.ToLower(rawURL)
	switch {
	case strings.Contains(u, "tiktok.com"):
		return PlatformTikTok
	case strings.Contains(u, "instagram.com"):
		return PlatformInstagram
	case strings.Contains(u, "youtube.com"), strings.Contains(u, "youtu.be"):
		return PlatformYouTube
	default:
		return PlatformUnknown
	}
}

// PostID extracts the platform's id for the post, or "" when the URL has none.
func PostID(rawURL, platform string) string {
	switch platform {
	case PlatformTikTok:
		if m := tiktokIDRE.FindStringSubmatch(rawURL); m != nil {
			return m[1]
		}
	case PlatformInstagram:
		if m := instagramIDRE.FindStringSubmatch(rawURL); m != nil {
			return m[1]
		}
	case PlatformYouTube:
		u, err := url.Parse(rawURL)
		if err != nil {
			return ""
		}
		id := u.Query().Get("v")
		if strings.EqualFold(u.Hostname(), "youtu.be") {
			id = strings.Trim(u.Path, "/")
		} else if rest, ok := strings.CutPrefix(u.Path, "/shorts/"); ok {
			id = strings.Trim(rest, "/")
		}
		if youtubeIDRE.MatchString(id) {
			return id
		}
	}
	return ""
}

func findVideo(dir, postID string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, postID) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		for _, v := range videoExts {
			if ext == v {
				return filepath.Join(dir, name), nil
			}
		}
	}
	return "", fmt.Errorf("no video file for %s in %s", postID, dir)
}

func tail(b []byte) string {
	const limit = 2048
	if len(b) > limit {
		b = b[len(b)-limit:]
	}
	return string(b)
}
