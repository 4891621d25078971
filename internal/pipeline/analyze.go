package pipeline

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/M-ajor19/quillify/internal/llm"
)

//go:embed analysis.schema.json
var analysisSchemaJSON string

// Analysis is the structured reading of the raw input.
type Analysis struct {
	Sentiment           string   `json:"sentiment"`
	CoreMessage         string   `json:"coreMessage"`
	QuantifiableResults []string `json:"quantifiableResults"`
	EmotionalBenefits   []string `json:"emotionalBenefits"`
	CleanedText         string   `json:"cleanedText"`
}

// FallbackAnalysis is used whenever the provider's analysis is unusable.
func FallbackAnalysis(input string) Analysis {
	return Analysis{
		Sentiment:           "positive",
		CoreMessage:         input,
		QuantifiableResults: []string{},
		EmotionalBenefits:   []string{},
		CleanedText:         input,
	}
}

func compileAnalysisSchema() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("https://quillify.app/schemas/analysis.json", analysisSchemaJSON)
}

func analysisPrompt(input string) string {
	return fmt.Sprintf(`Analyze the following customer feedback and extract key information:

Input: %q

Please provide a JSON response with:
{
  "sentiment": "positive" | "negative" | "neutral",
  "coreMessage": "The main compliment or feedback",
  "quantifiableResults": ["Any specific metrics or numbers mentioned"],
  "emotionalBenefits": ["Key emotional benefits mentioned"],
  "cleanedText": "Text with timestamps, usernames, and UI elements removed"
}

Focus on identifying the most valuable and shareable aspects of the feedback.
Respond with the JSON object only.`, input)
}

// Analyze runs stage 1. It never fails: provider errors, malformed JSON and
// schema violations all yield FallbackAnalysis(input).
func (p *Pipeline) Analyze(ctx context.Context, input string) Analysis {
	raw, err := p.client.Complete(ctx, llm.ChatRequest{
		Model:       p.cfg.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: analysisPrompt(input)}},
		Temperature: llm.Temperature(p.cfg.AnalysisTemperature),
	})
	if err != nil {
		p.log.Warn("analysis failed, using fallback", "reason", "provider", "error", err)
		return FallbackAnalysis(input)
	}
	a, err := p.parseAnalysis(raw)
	if err != nil {
		p.log.Warn("analysis failed, using fallback", "reason", "parse", "error", err)
		return FallbackAnalysis(input)
	}
	return a
}

func (p *Pipeline) parseAnalysis(raw string) (Analysis, error) {
	body := stripCodeFence(raw)

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	if err := p.schema.Validate(doc); err != nil {
		return Analysis{}, fmt.Errorf("analysis schema: %w", err)
	}
	var a Analysis
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	return a, nil
}

// stripCodeFence removes a surrounding Markdown code fence, if any.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
