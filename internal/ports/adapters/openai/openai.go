// Package openai adapts the OpenAI API to the SpeechToText and TextGenerator
// ports.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/forPelevin/autoclip/internal/types"
)

const (
	DefaultChatModel          = "gpt-4o"
	DefaultTranscriptionModel = "whisper-1"
	temperature               = 0.3
)

type Config struct {
	APIKey  string
	BaseURL string
	// ChatModel and TranscriptionModel fall back to the defaults above.
	ChatModel          string
	TranscriptionModel string
	// MaxRetries < 0 keeps the SDK default.
	MaxRetries int
}

type Adapter struct {
	client    oai.Client
	chatModel string
	sttModel  string
}

func New(cfg Config) *Adapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = DefaultTranscriptionModel
	}
	return &Adapter{
		client:    oai.NewClient(opts...),
		chatModel: cfg.ChatModel,
		sttModel:  cfg.TranscriptionModel,
	}
}

func (a *Adapter) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := a.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(prompt),
		},
		Model:       oai.ChatModel(a.chatModel),
		Temperature: oai.Float(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: no choices in response")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("openai chat: empty content")
	}
	return out, nil
}

type verboseTranscript struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Words []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Word  string  `json:"word"`
	} `json:"words"`
}

// Transcribe uploads one audio file and asks for verbose JSON with word and
// segment timestamps.
func (a *Adapter) Transcribe(ctx context.Context, audioPath string) (types.Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	res, err := a.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:                   oai.File(f, filepath.Base(audioPath), "audio/wav"),
		Model:                  oai.AudioModel(a.sttModel),
		ResponseFormat:         oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word", "segment"},
	})
	if err != nil {
		return types.Transcript{}, fmt.Errorf("openai transcription: %w", err)
	}
	return ParseVerboseJSON([]byte(res.RawJSON()))
}

// ParseVerboseJSON maps a verbose_json transcription body onto a transcript.
func ParseVerboseJSON(b []byte) (types.Transcript, error) {
	var v verboseTranscript
	if err := json.Unmarshal(b, &v); err != nil {
		return types.Transcript{}, fmt.Errorf("decode transcription: %w", err)
	}
	tr := types.Transcript{
		Text:     strings.TrimSpace(v.Text),
		Language: v.Language,
		Segments: make([]types.Segment, 0, len(v.Segments)),
		Words:    make([]types.Word, 0, len(v.Words)),
	}
	for _, s := range v.Segments {
		tr.Segments = append(tr.Segments, types.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	for _, w := range v.Words {
		tr.Words = append(tr.Words, types.Word{Start: w.Start, End: w.End, Word: strings.TrimSpace(w.Word)})
	}
	return tr, nil
}
