// Package transcript turns audio of any size into one ordered transcript by
// splitting it into time chunks and transcribing them in parallel.
package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/logging"
	"github.com/forPelevin/autoclip/internal/ports"
	"github.com/forPelevin/autoclip/internal/types"
)

const (
	DefaultMaxChunkBytes int64 = 20 * 1024 * 1024
	DefaultConcurrency         = 5
	defaultLanguage            = "en"
)

type Config struct {
	MaxChunkBytes int64
	Concurrency   int
	TempDir       string
}

type Transcriber struct {
	stt    ports.SpeechToText
	audio  ports.AudioTool
	cfg    Config
	logger *slog.Logger
}

func New(stt ports.SpeechToText, audio ports.AudioTool, cfg Config, logger *slog.Logger) *Transcriber {
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Transcriber{
		stt:    stt,
		audio:  audio,
		cfg:    cfg,
		logger: logging.WithComponent(logger, "transcriber"),
	}
}

// Transcribe produces the merged transcript of audioPath. Chunk failures are
// tolerated as long as at least one chunk succeeds.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (types.Transcript, error) {
	chunks, err := t.Plan(ctx, audioPath)
	if err != nil {
		return types.Transcript{}, err
	}
	results := t.TranscribeAll(ctx, chunks)

	tr, err := Merge(results)
	if err != nil {
		return types.Transcript{}, err
	}
	if len(tr.MissingSpans) > 0 {
		t.logger.Warn("transcript has gaps from failed chunks",
			"failed", len(tr.MissingSpans),
			"total", len(chunks),
		)
	}
	t.logger.Info("transcription complete",
		"chunks", len(chunks),
		"segments", len(tr.Segments),
		"words", len(tr.Words),
		"language", tr.Language,
	)
	return tr, nil
}

// PlanChunks splits [0, totalDuration) into equal time windows, one per
// maxChunkBytes of file size. Small files yield a single window.
func PlanChunks(fileSize, maxChunkBytes int64, totalDuration float64) []types.Span {
	if maxChunkBytes <= 0 || fileSize <= maxChunkBytes {
		return []types.Span{{Start: 0, End: totalDuration}}
	}
	n := int((fileSize + maxChunkBytes - 1) / maxChunkBytes)
	step := totalDuration / float64(n)

	spans := make([]types.Span, n)
	for i := range spans {
		spans[i] = types.Span{
			Start: float64(i) * step,
			End:   math.Min(float64(i+1)*step, totalDuration),
		}
	}
	spans[n-1].End = totalDuration
	return spans
}

// Plan materializes the chunk set for audioPath. A file under the size limit
// is its own single, non-owned chunk; otherwise every chunk is a new temp
// file that TranscribeAll removes.
func (t *Transcriber) Plan(ctx context.Context, audioPath string) ([]types.AudioChunk, error) {
	st, err := os.Stat(audioPath)
	if err != nil {
		return nil, errs.Wrap(errs.Transcription, err, "stat audio")
	}
	total, err := t.audio.AudioDuration(ctx, audioPath)
	if err != nil {
		return nil, errs.Wrap(errs.Transcription, err, "audio duration")
	}

	spans := PlanChunks(st.Size(), t.cfg.MaxChunkBytes, total)
	if len(spans) == 1 {
		t.logger.Info("audio within chunk limit", "size", humanize.Bytes(uint64(st.Size())), "duration", total)
		return []types.AudioChunk{{Index: 0, Path: audioPath, StartOffset: 0, Duration: total}}, nil
	}

	t.logger.Info("splitting audio",
		"size", humanize.Bytes(uint64(st.Size())),
		"limit", humanize.Bytes(uint64(t.cfg.MaxChunkBytes)),
		"chunks", len(spans),
		"chunk_duration", spans[0].End-spans[0].Start,
	)
	if err := os.MkdirAll(t.cfg.TempDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Storage, err, "create temp dir")
	}

	prefix := uuid.NewString()[:8]
	chunks := make([]types.AudioChunk, 0, len(spans))
	for i, sp := range spans {
		path := filepath.Join(t.cfg.TempDir, fmt.Sprintf("%s_chunk_%03d.wav", prefix, i))
		if err := t.audio.CutAudio(ctx, audioPath, path, sp.Start, sp.End); err != nil {
			_ = os.Remove(path)
			removeOwned(chunks)
			return nil, errs.Wrap(errs.Transcription, err, fmt.Sprintf("cut chunk %d", i))
		}
		chunks = append(chunks, types.AudioChunk{
			Index:       i,
			Path:        path,
			StartOffset: sp.Start,
			Duration:    sp.End - sp.Start,
			Owned:       true,
		})
	}
	return chunks, nil
}

// TranscribeChunk transcribes one chunk and shifts its timestamps onto the
// global timeline. This is the only place offsets are applied.
func (t *Transcriber) TranscribeChunk(ctx context.Context, chunk types.AudioChunk) types.ChunkResult {
	res := types.ChunkResult{
		Index: chunk.Index,
		Span:  types.Span{Start: chunk.StartOffset, End: chunk.StartOffset + chunk.Duration},
	}
	tr, err := t.stt.Transcribe(ctx, chunk.Path)
	if err != nil {
		res.Err = err
		return res
	}

	off := chunk.StartOffset
	res.Segments = make([]types.Segment, 0, len(tr.Segments))
	for _, s := range tr.Segments {
		res.Segments = append(res.Segments, types.Segment{
			Start: s.Start + off,
			End:   s.End + off,
			Text:  strings.TrimSpace(s.Text),
		})
	}
	res.Words = make([]types.Word, 0, len(tr.Words))
	for _, w := range tr.Words {
		res.Words = append(res.Words, types.Word{
			Start: w.Start + off,
			End:   w.End + off,
			Word:  strings.TrimSpace(w.Word),
		})
	}
	res.Text = strings.TrimSpace(tr.Text)
	if res.Text == "" {
		res.Text = joinSegments(res.Segments)
	}
	res.Language = tr.Language
	return res
}

// TranscribeAll runs every chunk on a bounded pool. Results come back in
// chunk order; failures are recorded per chunk and never stop siblings.
// Owned chunk files are removed as each chunk finishes.
func (t *Transcriber) TranscribeAll(ctx context.Context, chunks []types.AudioChunk) []types.ChunkResult {
	results := make([]types.ChunkResult, len(chunks))

	var g errgroup.Group
	g.SetLimit(t.cfg.Concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = types.ChunkResult{
						Index: c.Index,
						Span:  types.Span{Start: c.StartOffset, End: c.StartOffset + c.Duration},
						Err:   fmt.Errorf("chunk %d panicked: %v", c.Index, r),
					}
				}
				if c.Owned {
					_ = os.Remove(c.Path)
				}
			}()

			res := t.TranscribeChunk(ctx, c)
			if res.Err != nil {
				t.logger.Warn("chunk failed", "index", c.Index, "offset", c.StartOffset, "error", res.Err)
			} else {
				t.logger.Debug("chunk transcribed", "index", c.Index, "segments", len(res.Segments))
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Merge concatenates successful results in ascending index order. It fails
// only when no chunk succeeded.
func Merge(results []types.ChunkResult) (types.Transcript, error) {
	ok := make([]types.ChunkResult, 0, len(results))
	var missing []types.Span
	for _, r := range results {
		if r.Success() {
			ok = append(ok, r)
		} else {
			missing = append(missing, r.Span)
		}
	}
	if len(ok) == 0 {
		return types.Transcript{}, errs.New(errs.Transcription, "all chunks failed")
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Index < ok[j].Index })
	sort.SliceStable(missing, func(i, j int) bool { return missing[i].Start < missing[j].Start })

	var (
		texts []string
		tr    = types.Transcript{Segments: []types.Segment{}, Words: []types.Word{}}
	)
	for _, r := range ok {
		if r.Text != "" {
			texts = append(texts, r.Text)
		}
		tr.Segments = append(tr.Segments, r.Segments...)
		tr.Words = append(tr.Words, r.Words...)
		if tr.Language == "" {
			tr.Language = r.Language
		}
	}
	tr.Text = strings.Join(texts, " ")
	if tr.Language == "" {
		tr.Language = defaultLanguage
	}
	tr.MissingSpans = missing
	return tr, nil
}

func joinSegments(segs []types.Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, " ")
}

func removeOwned(chunks []types.AudioChunk) {
	for _, c := range chunks {
		if c.Owned {
			_ = os.Remove(c.Path)
		}
	}
}
