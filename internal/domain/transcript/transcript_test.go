package transcript

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/types"
)

func TestPlanChunks_SingleWhenWithinLimit(t *testing.T) {
	for _, size := range []int64{0, 1, 1024, DefaultMaxChunkBytes} {
		spans := PlanChunks(size, DefaultMaxChunkBytes, 93.25)
		if len(spans) != 1 {
			t.Fatalf("size %d: expected 1 chunk, got %d", size, len(spans))
		}
		if spans[0].Start != 0 || spans[0].End != 93.25 {
			t.Fatalf("size %d: unexpected span %+v", size, spans[0])
		}
	}
}

func TestPlanChunks_PartitionsDuration(t *testing.T) {
	tests := []struct {
		size, max int64
		dur       float64
		wantN     int
	}{
		{size: 101, max: 100, dur: 10, wantN: 2},
		{size: 300, max: 100, dur: 7, wantN: 3},
		{size: 301, max: 100, dur: 3600.4, wantN: 4},
		{size: 45 << 20, max: 20 << 20, dur: 1234.567, wantN: 3},
	}
	for _, tt := range tests {
		spans := PlanChunks(tt.size, tt.max, tt.dur)
		if len(spans) != tt.wantN {
			t.Fatalf("PlanChunks(%d,%d,%v): got %d chunks, want %d", tt.size, tt.max, tt.dur, len(spans), tt.wantN)
		}
		if spans[0].Start != 0 {
			t.Fatalf("first chunk must start at 0, got %v", spans[0].Start)
		}
		if spans[len(spans)-1].End != tt.dur {
			t.Fatalf("last chunk must end at %v, got %v", tt.dur, spans[len(spans)-1].End)
		}
		for i, sp := range spans {
			if sp.End <= sp.Start {
				t.Fatalf("chunk %d is empty or reversed: %+v", i, sp)
			}
			if i > 0 && sp.Start != spans[i-1].End {
				t.Fatalf("chunk %d does not start where chunk %d ends: %+v vs %+v", i, i-1, sp, spans[i-1])
			}
		}
	}
}

func TestMerge_PartialFailure(t *testing.T) {
	results := []types.ChunkResult{
		{Index: 2, Span: types.Span{Start: 20, End: 30}, Text: "third", Segments: []types.Segment{{Start: 21, End: 22, Text: "third"}}, Words: []types.Word{{Start: 21, End: 22, Word: "third"}}},
		{Index: 0, Span: types.Span{Start: 0, End: 10}, Text: "first", Segments: []types.Segment{{Start: 1, End: 2, Text: "first"}}, Words: []types.Word{{Start: 1, End: 2, Word: "first"}}, Language: "english"},
		{Index: 1, Span: types.Span{Start: 10, End: 20}, Err: errors.New("rate limited")},
	}
	tr, err := Merge(results)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if tr.Text != "first third" {
		t.Fatalf("text = %q", tr.Text)
	}
	if len(tr.Segments) != 2 || tr.Segments[0].Text != "first" || tr.Segments[1].Text != "third" {
		t.Fatalf("unexpected segments: %+v", tr.Segments)
	}
	if len(tr.Words) != 2 || tr.Words[0].Start != 1 || tr.Words[1].Start != 21 {
		t.Fatalf("unexpected words: %+v", tr.Words)
	}
	if tr.Language != "english" {
		t.Fatalf("language = %q", tr.Language)
	}
	if !reflect.DeepEqual(tr.MissingSpans, []types.Span{{Start: 10, End: 20}}) {
		t.Fatalf("missing spans = %+v", tr.MissingSpans)
	}
}

func TestMerge_SkipsEmptyText(t *testing.T) {
	tr, err := Merge([]types.ChunkResult{
		{Index: 0, Text: "a"},
		{Index: 1, Text: ""},
		{Index: 2, Text: "b"},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if tr.Text != "a b" {
		t.Fatalf("text = %q", tr.Text)
	}
	if tr.Language != "en" {
		t.Fatalf("expected default language, got %q", tr.Language)
	}
}

func TestMerge_AllFailed(t *testing.T) {
	_, err := Merge([]types.ChunkResult{
		{Index: 0, Err: errors.New("x")},
		{Index: 1, Err: errors.New("y")},
	})
	if !errs.Is(err, errs.Transcription) {
		t.Fatalf("expected transcription error, got %v", err)
	}
	if !strings.Contains(err.Error(), "all chunks failed") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestSingleChunkMatchesUnsplit(t *testing.T) {
	tmp := t.TempDir()
	audio := filepath.Join(tmp, "a.wav")
	writeBytes(t, audio, 10)

	backend := types.Transcript{
		Text:     "hello there world",
		Segments: []types.Segment{{Start: 0.5, End: 1.75, Text: "hello there"}, {Start: 2, End: 2.5, Text: "world"}},
		Words:    []types.Word{{Start: 0.5, End: 1, Word: "hello"}, {Start: 1, End: 1.75, Word: "there"}, {Start: 2, End: 2.5, Word: "world"}},
		Language: "en",
	}
	tr := New(fixedSTT{tr: backend}, &fakeAudio{duration: 3}, Config{TempDir: tmp}, nil)
	got, err := tr.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	backend.MissingSpans = nil
	if !reflect.DeepEqual(got, backend) {
		t.Fatalf("single-chunk transcript differs:\n got %+v\nwant %+v", got, backend)
	}
	if _, err := os.Stat(audio); err != nil {
		t.Fatalf("source audio must not be removed: %v", err)
	}
}

func TestTranscribe_SplitsOffsetsAndCleansUp(t *testing.T) {
	tmp := t.TempDir()
	audio := filepath.Join(tmp, "a.wav")
	writeBytes(t, audio, 250)
	chunkDir := filepath.Join(tmp, "chunks")

	fa := &fakeAudio{duration: 30}
	stt := &chunkSTT{failSuffix: "_chunk_001.wav", delay: 10 * time.Millisecond}
	tr := New(stt, fa, Config{MaxChunkBytes: 100, Concurrency: 2, TempDir: chunkDir}, nil)

	got, err := tr.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(fa.cuts) != 3 {
		t.Fatalf("expected 3 chunks cut, got %d", len(fa.cuts))
	}
	// chunk 1 fails; chunks 0 and 2 start at 0s and 20s.
	if len(got.Words) != 2 {
		t.Fatalf("expected 2 words, got %+v", got.Words)
	}
	if got.Words[0].Start != 1 || got.Words[1].Start != 21 {
		t.Fatalf("offsets not applied: %+v", got.Words)
	}
	if len(got.MissingSpans) != 1 || got.MissingSpans[0].Start != 10 || got.MissingSpans[0].End != 20 {
		t.Fatalf("missing spans = %+v", got.MissingSpans)
	}
	if peak := stt.peak.Load(); peak > 2 {
		t.Fatalf("concurrency limit exceeded: %d in flight", peak)
	}

	left, err := os.ReadDir(chunkDir)
	if err != nil {
		t.Fatalf("read chunk dir: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("expected chunk files to be removed, found %d", len(left))
	}
}

func TestTranscribe_AllChunksFail(t *testing.T) {
	tmp := t.TempDir()
	audio := filepath.Join(tmp, "a.wav")
	writeBytes(t, audio, 250)

	tr := New(fixedSTT{err: errors.New("down")}, &fakeAudio{duration: 30}, Config{MaxChunkBytes: 100, TempDir: tmp}, nil)
	_, err := tr.Transcribe(context.Background(), audio)
	if !errs.Is(err, errs.Transcription) {
		t.Fatalf("expected transcription error, got %v", err)
	}
}

func writeBytes(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, n), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

type fakeAudio struct {
	duration float64

	mu   sync.Mutex
	cuts []types.Span
}

func (f *fakeAudio) ExtractAudio(context.Context, string, string) error { return nil }

func (f *fakeAudio) CutAudio(_ context.Context, _, out string, start, end float64) error {
	f.mu.Lock()
	f.cuts = append(f.cuts, types.Span{Start: start, End: end})
	f.mu.Unlock()
	return os.WriteFile(out, []byte("chunk"), 0o644)
}

func (f *fakeAudio) AudioDuration(context.Context, string) (float64, error) {
	return f.duration, nil
}

type fixedSTT struct {
	tr  types.Transcript
	err error
}

func (f fixedSTT) Transcribe(context.Context, string) (types.Transcript, error) {
	return f.tr, f.err
}

// chunkSTT returns one word at local t=1s for each chunk.
type chunkSTT struct {
	failSuffix string
	delay      time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *chunkSTT) Transcribe(_ context.Context, path string) (types.Transcript, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(c.delay)

	if _, err := os.Stat(path); err != nil {
		return types.Transcript{}, err
	}
	if strings.HasSuffix(path, c.failSuffix) {
		return types.Transcript{}, errors.New("backend error")
	}
	name := filepath.Base(path)
	return types.Transcript{
		Text:     name,
		Segments: []types.Segment{{Start: 1, End: 2, Text: name}},
		Words:    []types.Word{{Start: 1, End: 2, Word: name}},
	}, nil
}

func TestPlanChunks_ChunkDurationsSumToTotal(t *testing.T) {
	spans := PlanChunks(1000, 70, 611.3)
	var sum float64
	for _, sp := range spans {
		sum += sp.End - sp.Start
	}
	if math.Abs(sum-611.3) > 1e-9 {
		t.Fatalf("durations sum to %v", sum)
	}
}
