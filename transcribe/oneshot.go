// Package transcribe performs one-shot transcription and translation of
// recorded audio files through the Gemini generative API.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"go.mozhi.app/mozhi/cache"
)

// DefaultModel is the generative model used when none is configured.
const DefaultModel = "gemini-2.0-flash"

var (
	// ErrEmptyResult indicates the model returned neither a transcription
	// nor a translation for the supplied audio.
	ErrEmptyResult = errors.New("transcribe: model returned an empty result")

	// ErrUnsupportedFormat indicates the file type cannot be sent inline.
	ErrUnsupportedFormat = errors.New("transcribe: unsupported audio format")
)

// Result is the structured output of a one-shot transcription call.
type Result struct {
	Transcription string `json:"transcription"` // Source-language text
	Translation   string `json:"translation"`   // Malayalam rendering
	Cached        bool   `json:"cached"`        // Served from the local cache
}

// generateFunc produces raw model output for an inline audio blob. It is a
// seam for tests; production code uses the genai-backed implementation.
type generateFunc func(ctx context.Context, mimeType string, data []byte) (string, error)

// Transcriber sends audio files to the model and caches structured results.
type Transcriber struct {
	model    string
	target   string
	store    *cache.Cache
	generate generateFunc
	log      *slog.Logger
}

// Options configures a Transcriber.
type Options struct {
	APIKey         string
	Model          string       // Defaults to DefaultModel
	TargetLanguage string       // Defaults to "Malayalam"
	Store          *cache.Cache // Optional response cache
	Logger         *slog.Logger // Defaults to slog.Default
}

// New creates a Transcriber backed by the Gemini API.
func New(ctx context.Context, opts Options) (*Transcriber, error) {
	if opts.APIKey == "" {
		return nil, errors.New("transcribe: API key is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.TargetLanguage == "" {
		opts.TargetLanguage = "Malayalam"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("transcribe: create client: %w", err)
	}
	model := setupModel(client, opts.Model, opts.TargetLanguage)

	t := &Transcriber{
		model:  opts.Model,
		target: opts.TargetLanguage,
		store:  opts.Store,
		log:    opts.Logger,
	}
	t.generate = func(ctx context.Context, mimeType string, data []byte) (string, error) {
		resp, err := model.GenerateContent(ctx,
			genai.Blob{MIMEType: mimeType, Data: data},
			genai.Text("Transcribe this audio and translate it."),
		)
		if err != nil {
			return "", fmt.Errorf("generate content: %w", err)
		}
		return responseText(resp), nil
	}
	return t, nil
}

func setupModel(client *genai.Client, name, target string) *genai.GenerativeModel {
	model := client.GenerativeModel(name)
	model.GenerationConfig.SetTemperature(0.1)
	model.GenerationConfig.ResponseMIMEType = "application/json"
	model.GenerationConfig.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"transcription": {
				Type:        genai.TypeString,
				Description: "Verbatim transcript in the spoken language",
			},
			"translation": {
				Type:        genai.TypeString,
				Description: "Translation of the transcript into " + target,
			},
		},
		Required: []string{"transcription", "translation"},
	}
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{
			genai.Text("You transcribe spoken audio verbatim and translate it into " +
				target + ". Return only the requested JSON object."),
		},
	}
	return model
}

// File transcribes and translates a single audio file supplied inline.
// The filename is used for format validation only; data is the raw bytes.
func (t *Transcriber) File(ctx context.Context, name, mimeType string, data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, errors.New("transcribe: empty audio data")
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(name))
	}
	if !Accepts(name, mimeType) {
		return Result{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, name, mimeType)
	}

	key := cache.GenerateKey(t.model, t.target, mimeType, cache.HashBytes(data))
	if t.store != nil {
		if entry, ok := t.store.Get(key); ok {
			t.log.Debug("transcription served from cache", "file", name)
			return Result{
				Transcription: entry.Transcription,
				Translation:   entry.Translation,
				Cached:        true,
			}, nil
		}
	}

	start := time.Now()
	raw, err := t.generate(ctx, mimeType, data)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe %s: %w", name, err)
	}
	res, err := parseResult(raw)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe %s: %w", name, err)
	}
	t.log.Info("transcribed file",
		"file", name,
		"bytes", len(data),
		"elapsed", time.Since(start).Round(time.Millisecond))

	if t.store != nil {
		if err := t.store.Set(key, &cache.Entry{
			Transcription: res.Transcription,
			Translation:   res.Translation,
			CreatedAt:     time.Now(),
		}, cache.DefaultTTL); err != nil {
			t.log.Warn("cache write failed", "error", err)
		}
	}
	return res, nil
}

// parseResult decodes the model's JSON output and rejects blank results.
func parseResult(raw string) (Result, error) {
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Result{}, fmt.Errorf("decode model output: %w", err)
	}
	if strings.TrimSpace(res.Transcription) == "" && strings.TrimSpace(res.Translation) == "" {
		return Result{}, ErrEmptyResult
	}
	return res, nil
}

// acceptedExtensions lists file types that can be sent as inline audio.
var acceptedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".aac":  true,
	".ogg":  true,
	".flac": true,
	".m4a":  true,
	".aiff": true,
	".wma":  true,
}

// Accepts reports whether a file can be submitted for transcription,
// judged by its MIME type or, failing that, its extension.
func Accepts(name, mimeType string) bool {
	if strings.HasPrefix(mimeType, "audio/") {
		return true
	}
	return acceptedExtensions[strings.ToLower(filepath.Ext(name))]
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	return text.String()
}
