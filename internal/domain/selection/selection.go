// Package selection asks a text-generation backend for clip-worthy windows
// of a transcript and parses its answer into clip candidates.
package selection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/logging"
	"github.com/forPelevin/autoclip/internal/ports"
	"github.com/forPelevin/autoclip/internal/types"
)

const SystemPrompt = "You are a video editing expert who identifies engaging content segments."

type Selector struct {
	gen    ports.TextGenerator
	logger *slog.Logger
}

func New(gen ports.TextGenerator, logger *slog.Logger) *Selector {
	return &Selector{gen: gen, logger: logging.WithComponent(logger, "selector")}
}

// Select returns the candidates proposed by the backend as-is. Bounds are
// enforced by the caller.
func (s *Selector) Select(ctx context.Context, tr types.Transcript, totalDuration float64) ([]types.ClipCandidate, error) {
	prompt := BuildPrompt(tr, totalDuration)
	s.logger.Info("requesting clip segments", "prompt_chars", len(prompt), "duration", totalDuration)

	resp, err := s.gen.Complete(ctx, SystemPrompt, prompt)
	if err != nil {
		return nil, errs.Wrap(errs.ContentAnalysis, err, "segment selection request")
	}
	cands, err := ParseCandidates(resp)
	if err != nil {
		return nil, errs.Wrap(errs.ContentAnalysis, err, "parse segment selection")
	}
	s.logger.Info("segments proposed", "count", len(cands))
	return cands, nil
}

func BuildPrompt(tr types.Transcript, totalDuration float64) string {
	var b strings.Builder
	b.WriteString("Analyze this video transcript and identify the most engaging segments ")
	b.WriteString("that would work well as short clips for social media.\n\n")
	fmt.Fprintf(&b, "Total video duration: %s (%.1f seconds)\n\n", FormatTimestamp(totalDuration), totalDuration)
	b.WriteString("Transcript with timestamps:\n")
	b.WriteString(timestampedTranscript(tr))
	b.WriteString(`
Select 2-5 segments that:
- are 30-60 seconds long
- contain a complete thought, story or insight
- open with a strong hook and make sense without extra context
- are likely to keep viewers watching to the end

Respond with a JSON array only. Each item must have:
- "title": a short catchy title
- "description": one sentence on why the segment works
- "start_time": start as "MM:SS"
- "end_time": end as "MM:SS"
- "duration": length in seconds
- "engagement_score": a number from 1 to 10

Example:
[{"title": "The big reveal", "description": "Speaker explains the key result.", "start_time": "01:05", "end_time": "01:50", "duration": 45, "engagement_score": 8.5}]
`)
	return b.String()
}

// timestampedTranscript renders one line per word when word timings exist,
// otherwise one line per segment.
func timestampedTranscript(tr types.Transcript) string {
	var b strings.Builder
	if len(tr.Words) > 0 {
		for _, w := range tr.Words {
			fmt.Fprintf(&b, "[%s-%s] %s\n", FormatTimestamp(w.Start), FormatTimestamp(w.End), w.Word)
		}
		return b.String()
	}
	for _, s := range tr.Segments {
		fmt.Fprintf(&b, "[%s-%s] %s\n", FormatTimestamp(s.Start), FormatTimestamp(s.End), s.Text)
	}
	if b.Len() == 0 && tr.Text != "" {
		b.WriteString(tr.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// ExtractJSONArray returns the span from the first '[' to the last ']' of s,
// so prose or code fences around the array are ignored.
func ExtractJSONArray(s string) (string, error) {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return "", errors.New("no JSON array in response")
	}
	return s[start : end+1], nil
}

func ParseCandidates(resp string) ([]types.ClipCandidate, error) {
	raw, err := ExtractJSONArray(resp)
	if err != nil {
		return nil, err
	}
	var wire []wireCandidate
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	out := make([]types.ClipCandidate, 0, len(wire))
	for _, w := range wire {
		out = append(out, types.ClipCandidate{
			Title:           strings.TrimSpace(w.Title),
			Description:     strings.TrimSpace(w.Description),
			StartTime:       strings.TrimSpace(string(w.StartTime)),
			EndTime:         strings.TrimSpace(string(w.EndTime)),
			Duration:        float64(w.Duration),
			EngagementScore: float64(w.EngagementScore),
		})
	}
	return out, nil
}
