// Package pipeline turns raw customer feedback into marketing copy in four
// sequential stages: analyze, assemble prompt, generate, validate and format.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/M-ajor19/quillify/internal/llm"
)

// ErrNoVariations means stage 4 left nothing usable.
var ErrNoVariations = errors.New("pipeline produced no usable variations")

// Stage is the request's position in the pipeline state machine.
type Stage string

const (
	StageReceived  Stage = "received"
	StageAnalyzed  Stage = "analyzed"
	StagePrompted  Stage = "prompted"
	StageGenerated Stage = "generated"
	StageValidated Stage = "validated"
	StageSucceeded Stage = "succeeded"
	StageFailed    Stage = "failed"
)

type Config struct {
	Model                 string  `yaml:"model"`
	AnalysisTemperature   float64 `yaml:"analysis_temperature"`
	GenerationTemperature float64 `yaml:"generation_temperature"`
	MaxCompletionTokens   int     `yaml:"max_completion_tokens"`
}

func DefaultConfig() Config {
	return Config{
		Model:                 "gpt-5",
		AnalysisTemperature:   0.1,
		GenerationTemperature: 0.7,
		MaxCompletionTokens:   1000,
	}
}

type Request struct {
	InputText string
	Tone      Tone
	Format    Format
}

type Result struct {
	Variations []string
	Analysis   Analysis
	Stage      Stage
	Duration   time.Duration
}

type Pipeline struct {
	client llm.ChatClient
	cfg    Config
	schema *jsonschema.Schema
	log    *slog.Logger
}

// New checks the instruction tables and compiles the analysis schema, so a
// missing tone or format fails at startup rather than per request.
func New(client llm.ChatClient, cfg Config, log *slog.Logger) (*Pipeline, error) {
	if err := validateTables(); err != nil {
		return nil, err
	}
	schema, err := compileAnalysisSchema()
	if err != nil {
		return nil, fmt.Errorf("compile analysis schema: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{client: client, cfg: cfg, schema: schema, log: log}, nil
}

// Run executes all four stages. No stage is retried.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res := Result{Stage: StageReceived}

	res.Analysis = p.Analyze(ctx, req.InputText)
	res.Stage = StageAnalyzed

	prompt := AssemblePrompt(res.Analysis, req.Tone, req.Format)
	res.Stage = StagePrompted

	generated := p.Generate(ctx, prompt)
	res.Stage = StageGenerated

	variations := ValidateAndFormat(generated, req.Format)
	res.Stage = StageValidated
	res.Duration = time.Since(start)

	if len(variations) == 0 {
		res.Stage = StageFailed
		if generated.Err != nil {
			return res, fmt.Errorf("%w: %w", ErrNoVariations, generated.Err)
		}
		return res, ErrNoVariations
	}
	res.Variations = variations
	res.Stage = StageSucceeded
	return res, nil
}
