// Package llm talks to an OpenAI-compatible chat completions API.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ChatRequest captures the subset of the chat completions request we use.
type ChatRequest struct {
	Model               string    `json:"model"`
	Messages            []Message `json:"messages"`
	Temperature         *float64  `json:"temperature,omitempty"`
	MaxCompletionTokens int       `json:"max_completion_tokens,omitempty"`
}

// Message is a chat message. Plain messages carry Content; multimodal ones
// carry Parts and are encoded as a content array.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{m.Role, m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Content})
}

// TextPart and ImagePart build multimodal content.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

func ImagePart(dataURL string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}}
}

// ChatResponse mirrors the response schema; only the first choice is read.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int    `json:"index"`
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatClient is the text and vision generation capability.
type ChatClient interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// ChatFunc adapts a function to ChatClient.
type ChatFunc func(ctx context.Context, req ChatRequest) (string, error)

func (f ChatFunc) Complete(ctx context.Context, req ChatRequest) (string, error) { return f(ctx, req) }

// StatusError is a non-200 reply from the provider.
type StatusError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("llm: http %d: %s (type=%s)", e.StatusCode, e.Message, e.Type)
	}
	return fmt.Sprintf("llm: http %d: %s", e.StatusCode, e.Message)
}

// Temperature returns a pointer for ChatRequest.Temperature.
func Temperature(t float64) *float64 { return &t }
