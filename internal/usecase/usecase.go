package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/forPelevin/autoclip/internal/domain/captions"
	"github.com/forPelevin/autoclip/internal/domain/render"
	"github.com/forPelevin/autoclip/internal/domain/selection"
	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/logging"
	"github.com/forPelevin/autoclip/internal/ports"
	"github.com/forPelevin/autoclip/internal/types"
)

const (
	DefaultMaxClips = 5
	MaxClipsLimit   = 10
)

type Media interface {
	Probe(ctx context.Context, path string) (types.MediaInfo, error)
	ExtractAudio(ctx context.Context, videoPath string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (types.Transcript, error)
}

type Selector interface {
	Select(ctx context.Context, tr types.Transcript, totalDuration float64) ([]types.ClipCandidate, error)
}

type Renderer interface {
	Render(ctx context.Context, req render.Request) (string, error)
}

type Captioner interface {
	Fanout(ctx context.Context, clips []types.RenderedClip, opts captions.Options) map[int]captions.Outcome
}

type Settings struct {
	ClipsDir string
	TempDir  string
	MinClip  float64
	MaxClip  float64
}

type Deps struct {
	Media       Media
	Transcriber Transcriber
	Selector    Selector
	Renderer    Renderer
	// Captions and Downloader are optional; without them captioning and URL
	// sources are rejected.
	Captions   Captioner
	Downloader ports.Downloader

	Settings Settings
	Logger   *slog.Logger
	Now      func() time.Time
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase {
	if d.Settings.MinClip <= 0 {
		d.Settings.MinClip = render.DefaultMinDuration
	}
	if d.Settings.MaxClip <= 0 {
		d.Settings.MaxClip = render.DefaultMaxDuration
	}
	if d.Settings.TempDir == "" {
		d.Settings.TempDir = os.TempDir()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	d.Logger = logging.WithComponent(d.Logger, "pipeline")
	return Usecase{d: d}
}

type Input struct {
	TaskID            string
	Source            types.Source
	UseCaption        bool
	CaptionTemplateID string
	CaptionLanguage   string
	AspectRatio       string
	MaxClips          int
}

type accepted struct {
	cand       types.ClipCandidate
	start, end float64
}

// Run executes one job end to end. Temp artifacts are removed on every exit
// path; rendered clips and captioned results belong to the caller once Run
// returns successfully.
func (u Usecase) Run(ctx context.Context, in Input) (types.PipelineReport, error) {
	log := u.d.Logger
	if in.TaskID != "" {
		log = logging.WithTaskID(log, in.TaskID)
	}
	owned := newArtifacts()
	defer owned.cleanup(log)
	if in.Source.Kind == types.SourceUpload && in.Source.Path != "" {
		owned.add(in.Source.Path)
	}

	if err := u.validate(&in); err != nil {
		return types.PipelineReport{}, err
	}

	source, err := u.resolveSource(ctx, in.Source, owned, log)
	if err != nil {
		return types.PipelineReport{}, err
	}

	info, err := u.d.Media.Probe(ctx, source)
	if err != nil {
		return types.PipelineReport{}, err
	}

	audio, err := u.d.Media.ExtractAudio(ctx, source)
	if err != nil {
		return types.PipelineReport{}, err
	}
	owned.add(audio)

	tr, err := u.d.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		return types.PipelineReport{}, errs.Wrap(errs.Transcription, err, "transcribe")
	}

	cands, err := u.d.Selector.Select(ctx, tr, info.Duration)
	if err != nil {
		return types.PipelineReport{}, errs.Wrap(errs.ContentAnalysis, err, "select segments")
	}
	if len(cands) == 0 {
		return types.PipelineReport{}, errs.New(errs.ContentAnalysis, "no suitable clip segments found")
	}

	picked := u.accept(cands, info.Duration, in.MaxClips, log)
	if len(picked) == 0 {
		return types.PipelineReport{}, errs.Errorf(errs.ContentAnalysis,
			"none of %d proposed segments fit %.0f-%.0fs", len(cands), u.d.Settings.MinClip, u.d.Settings.MaxClip)
	}

	clips, err := u.renderAll(ctx, source, info, picked, in.AspectRatio, owned, log)
	if err != nil {
		return types.PipelineReport{}, err
	}

	if in.UseCaption {
		log.Info("captioning clips", "clips", len(clips))
		outcomes := u.d.Captions.Fanout(ctx, clips, captions.Options{
			TemplateID:  in.CaptionTemplateID,
			Language:    in.CaptionLanguage,
			AutoApprove: true,
		})
		captions.Apply(clips, outcomes)
	}

	for _, c := range clips {
		owned.keep(c.FilePath)
	}
	report := buildReport(clips, info, tr, in)
	log.Info("pipeline finished", "clips", len(clips), "clip_seconds", report.Summary.TotalClipDuration)
	return report, nil
}

func (u Usecase) validate(in *Input) error {
	if in.AspectRatio == "" {
		in.AspectRatio = render.AspectVertical
	}
	if !render.SupportedAspect(in.AspectRatio) {
		return errs.Errorf(errs.Validation, "unsupported aspect ratio %q", in.AspectRatio)
	}
	switch {
	case in.MaxClips <= 0:
		in.MaxClips = DefaultMaxClips
	case in.MaxClips > MaxClipsLimit:
		in.MaxClips = MaxClipsLimit
	}
	if in.UseCaption && u.d.Captions == nil {
		return errs.New(errs.Validation, "captioning requested but no caption service is configured")
	}
	return nil
}

// resolveSource returns a local path for the job's video. Downloaded files are
// registered as owned; Run registers uploads before anything can fail.
func (u Usecase) resolveSource(ctx context.Context, src types.Source, owned *artifacts, log *slog.Logger) (string, error) {
	switch src.Kind {
	case types.SourcePath, types.SourceUpload:
		if src.Path == "" {
			return "", errs.New(errs.Validation, "source path is empty")
		}
		if _, err := os.Stat(src.Path); err != nil {
			return "", errs.Wrap(errs.Validation, err, "source not found")
		}
		return src.Path, nil
	case types.SourceURL:
		if u.d.Downloader == nil {
			return "", errs.New(errs.Validation, "url sources are not enabled")
		}
		dir := filepath.Join(u.d.Settings.TempDir, "download-"+uuid.NewString()[:8])
		owned.addDir(dir)
		log.Info("downloading source", "url", src.URL)
		dl, err := u.d.Downloader.Download(ctx, src.URL, dir)
		if err != nil {
			return "", errs.Wrap(errs.Download, err, "download source")
		}
		log.Info("downloaded source", "platform", dl.Platform, "post_id", dl.PostID, "title", dl.Metadata.Title)
		return dl.Path, nil
	default:
		return "", errs.Errorf(errs.Validation, "unknown source kind %q", src.Kind)
	}
}

// accept keeps candidates whose labels parse and whose duration is within
// bounds, up to maxClips.
func (u Usecase) accept(cands []types.ClipCandidate, videoDuration float64, maxClips int, log *slog.Logger) []accepted {
	var out []accepted
	for i, c := range cands {
		if len(out) == maxClips {
			log.Info("max clips reached", "max", maxClips, "dropped", len(cands)-i)
			break
		}
		start, errS := selection.ParseTimestamp(c.StartTime)
		end, errE := selection.ParseTimestamp(c.EndTime)
		if err := errors.Join(errS, errE); err != nil {
			log.Warn("rejecting candidate with bad timestamps", "title", c.Title, "error", err)
			continue
		}
		if videoDuration > 0 && start >= videoDuration {
			log.Warn("rejecting candidate past end of video", "title", c.Title, "start", start)
			continue
		}
		if err := render.ValidateDuration(start, end, u.d.Settings.MinClip, u.d.Settings.MaxClip); err != nil {
			log.Warn("rejecting candidate", "title", c.Title, "error", err)
			continue
		}
		out = append(out, accepted{cand: c, start: start, end: end})
	}
	return out
}

// renderAll renders accepted candidates in order. A clip that fails to render
// is skipped and the next one takes its ordinal, so ordinals stay contiguous.
func (u Usecase) renderAll(
	ctx context.Context,
	source string,
	info types.MediaInfo,
	picked []accepted,
	aspect string,
	owned *artifacts,
	log *slog.Logger,
) ([]types.RenderedClip, error) {
	if err := os.MkdirAll(u.d.Settings.ClipsDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Storage, err, "create clips dir")
	}
	ts := u.d.Now().Unix()

	clips := make([]types.RenderedClip, 0, len(picked))
	for _, p := range picked {
		ordinal := len(clips) + 1
		name := fmt.Sprintf("clip_%d_%d_%s.mp4", ts, ordinal, safeTitle(p.cand.Title))
		out := filepath.Join(u.d.Settings.ClipsDir, name)
		owned.add(out)

		path, err := u.d.Renderer.Render(ctx, render.Request{
			Source: source,
			Info:   &info,
			Start:  p.start,
			End:    p.end,
			Output: out,
			Aspect: aspect,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errs.Wrap(errs.VideoProcessing, ctxErr, "render cancelled")
			}
			log.Warn("clip render failed", "title", p.cand.Title, "error", err)
			continue
		}

		clips = append(clips, types.RenderedClip{
			Ordinal:         ordinal,
			Title:           p.cand.Title,
			Description:     p.cand.Description,
			StartTime:       p.cand.StartTime,
			EndTime:         p.cand.EndTime,
			Duration:        p.end - p.start,
			EngagementScore: clampScore(p.cand.EngagementScore),
			FilePath:        path,
			FileName:        filepath.Base(path),
			AspectRatio:     aspect,
		})
	}
	if len(clips) == 0 {
		return nil, errs.Errorf(errs.VideoProcessing, "none of %d clips could be rendered", len(picked))
	}
	return clips, nil
}

func buildReport(clips []types.RenderedClip, info types.MediaInfo, tr types.Transcript, in Input) types.PipelineReport {
	var total float64
	for _, c := range clips {
		total += c.Duration
	}
	return types.PipelineReport{
		Success:    true,
		Message:    fmt.Sprintf("Successfully created %d clips", len(clips)),
		Clips:      clips,
		MediaInfo:  info,
		Transcript: tr.Text,
		Summary: types.Summary{
			VideoDuration:     info.Duration,
			TotalClips:        len(clips),
			TotalClipDuration: total,
			UsedCaptioning:    in.UseCaption,
			AspectRatio:       in.AspectRatio,
		},
	}
}

func clampScore(s float64) float64 {
	return min(max(s, 0), 10)
}

// safeTitle keeps letters, digits and underscores, turns runs of spaces and
// dashes into one underscore and caps the result at 50 runes.
func safeTitle(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-':
			sep = true
		}
	}
	out := []rune(b.String())
	if len(out) > 50 {
		out = out[:50]
	}
	name := strings.Trim(string(out), "_")
	if name == "" {
		return "clip"
	}
	return name
}
