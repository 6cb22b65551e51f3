// Package whispercpp is a local SpeechToText backed by the whisper.cpp CLI.
package whispercpp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/forPelevin/autoclip/internal/types"
)

type Adapter struct {
	bin   string
	model string
}

func New(binPath, modelPath string) *Adapter {
	if binPath == "" {
		binPath = "whisper-cli"
	}
	return &Adapter{bin: binPath, model: modelPath}
}

// Transcribe runs whisper.cpp with full JSON output next to the audio file.
// The JSON file is removed whether or not the run succeeds.
func (a *Adapter) Transcribe(ctx context.Context, wavPath string) (types.Transcript, error) {
	outPrefix := strings.TrimSuffix(wavPath, ".wav") + ".whisper"
	args := []string{
		"-m", a.model,
		"-f", wavPath,
		"-ojf",
		"-of", outPrefix,
		"-np",
	}
	jsonPath := outPrefix + ".json"
	defer os.Remove(jsonPath)

	cmd := exec.CommandContext(ctx, a.bin, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper.cpp failed: %w\n%s", err, string(b))
	}

	jb, err := os.ReadFile(jsonPath)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("read whisper.cpp output: %w", err)
	}
	return ParseFullJSON(jb)
}

type wireOffsets struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

type wireOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets wireOffsets `json:"offsets"`
		Text    string      `json:"text"`
		Tokens  []struct {
			Text    string      `json:"text"`
			Offsets wireOffsets `json:"offsets"`
		} `json:"tokens"`
	} `json:"transcription"`
}

// ParseFullJSON converts whisper.cpp -ojf output into a transcript. Offsets
// are in milliseconds. Sub-word tokens are glued onto the preceding word and
// control tokens like [_BEG_] are dropped.
func ParseFullJSON(b []byte) (types.Transcript, error) {
	var w wireOutput
	if err := json.Unmarshal(b, &w); err != nil {
		return types.Transcript{}, fmt.Errorf("decode whisper.cpp json: %w", err)
	}

	tr := types.Transcript{
		Segments: make([]types.Segment, 0, len(w.Transcription)),
		Words:    []types.Word{},
		Language: w.Result.Language,
	}
	texts := make([]string, 0, len(w.Transcription))
	for _, s := range w.Transcription {
		text := strings.TrimSpace(s.Text)
		tr.Segments = append(tr.Segments, types.Segment{
			Start: ms(s.Offsets.From),
			End:   ms(s.Offsets.To),
			Text:  text,
		})
		if text != "" {
			texts = append(texts, text)
		}

		for _, tok := range s.Tokens {
			if strings.HasPrefix(tok.Text, "[_") || strings.TrimSpace(tok.Text) == "" {
				continue
			}
			n := len(tr.Words)
			if n > 0 && !strings.HasPrefix(tok.Text, " ") && tr.Words[n-1].End >= ms(s.Offsets.From) {
				tr.Words[n-1].Word += tok.Text
				tr.Words[n-1].End = ms(tok.Offsets.To)
				continue
			}
			tr.Words = append(tr.Words, types.Word{
				Start: ms(tok.Offsets.From),
				End:   ms(tok.Offsets.To),
				Word:  strings.TrimSpace(tok.Text),
			})
		}
	}
	tr.Text = strings.Join(texts, " ")
	return tr, nil
}

func ms(v int64) float64 { return float64(v) / 1000 }
