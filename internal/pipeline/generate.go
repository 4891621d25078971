package pipeline

import (
	"context"
	"strings"

	"github.com/M-ajor19/quillify/internal/llm"
)

// PlaceholderLine stands in for output when the provider call fails.
const PlaceholderLine = "Error generating content. Please try again."

// Generated is the raw stage 3 output.
type Generated struct {
	Lines  []string
	Failed bool
	Err    error
}

// Generate runs stage 3. Provider errors do not propagate: the result is the
// single placeholder line with Failed set.
func (p *Pipeline) Generate(ctx context.Context, prompt string) Generated {
	raw, err := p.client.Complete(ctx, llm.ChatRequest{
		Model:               p.cfg.Model,
		Messages:            []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature:         llm.Temperature(p.cfg.GenerationTemperature),
		MaxCompletionTokens: p.cfg.MaxCompletionTokens,
	})
	if err != nil {
		return Generated{Lines: []string{PlaceholderLine}, Failed: true, Err: err}
	}
	return Generated{Lines: splitLines(raw)}
}

func splitLines(raw string) []string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
