// Package extraction pulls feedback text out of screenshots with a vision
// model. It is free to call and never touches the credit ledger.
package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/llm"
	"github.com/M-ajor19/quillify/internal/metrics"
	"github.com/M-ajor19/quillify/internal/ratelimit"
)

const (
	FailureText = "Error extracting text from image. Please try again."
	EmptyText   = "Could not extract text from image."

	visionPrompt = "Extract all text from this image. Clean up any UI elements, timestamps, or irrelevant text. " +
		"Focus on the main content, especially any customer feedback, reviews, or testimonials. Return only the cleaned text."
)

type Limiter interface {
	Allow(ctx context.Context, identifier string, cfg ratelimit.Config) ratelimit.Result
	Now() time.Time
}

type Config struct {
	Model               string           `yaml:"model"`
	MaxImageBytes       int64            `yaml:"max_image_bytes"`
	Timeout             time.Duration    `yaml:"timeout"`
	MaxCompletionTokens int              `yaml:"max_completion_tokens"`
	RateLimit           ratelimit.Config `yaml:"rate_limit"`
}

func DefaultConfig() Config {
	return Config{
		Model:               "gpt-5",
		MaxImageBytes:       10 << 20,
		Timeout:             60 * time.Second,
		MaxCompletionTokens: 1000,
		RateLimit:           ratelimit.Config{Window: time.Minute, MaxRequests: 5},
	}
}

// Extraction is the result shown to the caller. When Extracted is false Text
// holds a human-readable failure message.
type Extraction struct {
	Text      string `json:"text"`
	Extracted bool   `json:"extracted"`
}

type Service struct {
	client  llm.ChatClient
	limiter Limiter
	cfg     Config
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewService expects client to already retry transient failures (llm.Retrying).
func NewService(client llm.ChatClient, limiter Limiter, cfg Config, m *metrics.Metrics, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = def.MaxImageBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxCompletionTokens <= 0 {
		cfg.MaxCompletionTokens = def.MaxCompletionTokens
	}
	if cfg.RateLimit.MaxRequests <= 0 || cfg.RateLimit.Window <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	return &Service{client: client, limiter: limiter, cfg: cfg, metrics: m, log: log}
}

func (s *Service) MaxImageBytes() int64 { return s.cfg.MaxImageBytes }

// Extract validates the upload, applies the per-principal limit and asks the
// vision model for the text. Provider failures are reported in the result,
// not as errors.
func (s *Service) Extract(ctx context.Context, principalID uuid.UUID, image []byte, contentType string) (Extraction, error) {
	mediaType, err := s.validate(image, contentType)
	if err != nil {
		s.metrics.Extraction("rejected")
		return Extraction{}, err
	}

	rl := s.limiter.Allow(ctx, ratelimit.Key(ratelimit.OpExtract, principalID.String()), s.cfg.RateLimit)
	if !rl.Allowed {
		s.metrics.Extraction("rate_limited")
		return Extraction{}, apperr.RateLimited(rl.RetryAfter(s.limiter.Now()))
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	dataURL := "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(image)
	text, err := s.client.Complete(ctx, llm.ChatRequest{
		Model: s.cfg.Model,
		Messages: []llm.Message{{
			Role:  llm.RoleUser,
			Parts: []llm.ContentPart{llm.TextPart(visionPrompt), llm.ImagePart(dataURL)},
		}},
		MaxCompletionTokens: s.cfg.MaxCompletionTokens,
	})
	switch {
	case errors.Is(err, llm.ErrEmptyCompletion):
		s.metrics.Extraction("empty")
		return Extraction{Text: EmptyText}, nil
	case err != nil:
		s.metrics.Extraction("failed")
		s.log.Error("image extraction failed", "principal_id", principalID, "bytes", len(image), "error", err)
		return Extraction{Text: FailureText}, nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		s.metrics.Extraction("empty")
		return Extraction{Text: EmptyText}, nil
	}
	s.metrics.Extraction("succeeded")
	return Extraction{Text: text, Extracted: true}, nil
}

// validate returns the media type to send: the declared one when it is an
// image type, otherwise the sniffed one.
func (s *Service) validate(image []byte, contentType string) (string, error) {
	if len(image) == 0 {
		return "", apperr.Validation("no image provided")
	}
	if int64(len(image)) > s.cfg.MaxImageBytes {
		return "", apperr.Validation("image exceeds the maximum upload size")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "application/octet-stream" {
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType(image))
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", apperr.Validation("file must be an image")
	}
	return mediaType, nil
}
