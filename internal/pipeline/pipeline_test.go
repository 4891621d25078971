package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/llm"
)

// ---------------------------------------------------------------------------
// Fake chat client: replies are consumed in call order.
// ---------------------------------------------------------------------------

type reply struct {
	text string
	err  error
}

type fakeChat struct {
	mu       sync.Mutex
	replies  []reply
	requests []llm.ChatRequest
}

func (f *fakeChat) Complete(_ context.Context, req llm.ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.text, r.err
}

const goodAnalysis = `{"sentiment":"positive","coreMessage":"Saves 10 hours a week","quantifiableResults":["10 hours/week"],"emotionalBenefits":["relief"],"cleanedText":"Love this product, saved us 10 hours/week!"}`

func newPipeline(t *testing.T, replies ...reply) (*Pipeline, *fakeChat) {
	t.Helper()
	chat := &fakeChat{replies: replies}
	p, err := New(chat, DefaultConfig(), nil)
	require.NoError(t, err)
	return p, chat
}

// ---------------------------------------------------------------------------
// Stage 1
// ---------------------------------------------------------------------------

func TestAnalyze_ParsesStructuredResponse(t *testing.T) {
	p, chat := newPipeline(t, reply{text: "```json\n" + goodAnalysis + "\n```"})

	a := p.Analyze(context.Background(), "raw")
	assert.Equal(t, "positive", a.Sentiment)
	assert.Equal(t, []string{"10 hours/week"}, a.QuantifiableResults)
	require.Len(t, chat.requests, 1)
	assert.Equal(t, 0.1, *chat.requests[0].Temperature)
}

func TestAnalyze_FallsBack(t *testing.T) {
	cases := []struct {
		name  string
		reply reply
	}{
		{"not json", reply{text: "Sure! Here is the analysis you asked for."}},
		{"schema violation", reply{text: `{"sentiment":"ecstatic","coreMessage":"x","quantifiableResults":[],"emotionalBenefits":[],"cleanedText":"x"}`}},
		{"missing fields", reply{text: `{"sentiment":"positive"}`}},
		{"provider error", reply{err: errors.New("timeout")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newPipeline(t, tc.reply)
			input := "  12:04 PM @dana: this tool is great  "

			a := p.Analyze(context.Background(), input)
			assert.Equal(t, FallbackAnalysis(input), a)
			assert.Equal(t, input, a.CleanedText, "raw input kept verbatim")
			assert.Empty(t, a.QuantifiableResults)
			assert.Empty(t, a.EmotionalBenefits)
		})
	}
}

// ---------------------------------------------------------------------------
// Stage 2
// ---------------------------------------------------------------------------

func TestAssemblePrompt_Deterministic(t *testing.T) {
	a := FallbackAnalysis("Great support team")
	for _, tone := range Tones {
		for _, format := range Formats {
			first := AssemblePrompt(a, tone, format)
			assert.Equal(t, first, AssemblePrompt(a, tone, format))
			assert.Contains(t, first, toneInstructions[tone])
			assert.Contains(t, first, formatInstructions[format])
			assert.Contains(t, first, "Do not invent any details not present in the original feedback")
			assert.Contains(t, first, "exactly 3 variations")
			assert.Contains(t, first, "one per line")
			assert.Contains(t, first, `"Great support team"`)
		}
	}
}

func TestValidateTables(t *testing.T) {
	require.NoError(t, validateTables())
}

func TestParseToneAndFormat(t *testing.T) {
	tone, err := ParseTone("witty")
	require.NoError(t, err)
	assert.Equal(t, ToneWitty, tone)

	format, err := ParseFormat("quote-graphic")
	require.NoError(t, err)
	assert.Equal(t, FormatQuoteGraphic, format)

	_, err = ParseTone("sarcastic")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = ParseFormat("haiku")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

// ---------------------------------------------------------------------------
// Stage 3
// ---------------------------------------------------------------------------

func TestGenerate_SplitsLines(t *testing.T) {
	p, chat := newPipeline(t, reply{text: "one\n\n  \ntwo\nthree\n"})

	g := p.Generate(context.Background(), "prompt")
	assert.False(t, g.Failed)
	assert.Equal(t, []string{"one", "two", "three"}, g.Lines)
	assert.Equal(t, 0.7, *chat.requests[0].Temperature)
	assert.Equal(t, 1000, chat.requests[0].MaxCompletionTokens)
}

func TestGenerate_ProviderErrorYieldsPlaceholder(t *testing.T) {
	p, _ := newPipeline(t, reply{err: errors.New("503")})

	g := p.Generate(context.Background(), "prompt")
	assert.True(t, g.Failed)
	assert.Equal(t, []string{PlaceholderLine}, g.Lines)
}

// ---------------------------------------------------------------------------
// Stage 4
// ---------------------------------------------------------------------------

func TestValidateAndFormat_TweetTruncation(t *testing.T) {
	long := strings.Repeat("a", 300)

	out := ValidateAndFormat(Generated{Lines: []string{long}}, FormatTweet)
	require.Len(t, out, 1)
	assert.Equal(t, 280, utf8.RuneCountInString(out[0]))
	assert.True(t, strings.HasSuffix(out[0], "..."))
	assert.Equal(t, strings.Repeat("a", 277), strings.TrimSuffix(out[0], "..."))
}

func TestValidateAndFormat_CountsRunes(t *testing.T) {
	line := strings.Repeat("é", 280)

	out := ValidateAndFormat(Generated{Lines: []string{line}}, FormatTweet)
	assert.Equal(t, line, out[0], "280 runes fit even when bytes exceed 280")
}

func TestValidateAndFormat_LinkedInLimit(t *testing.T) {
	out := ValidateAndFormat(Generated{Lines: []string{strings.Repeat("b", 3500)}}, FormatLinkedIn)
	assert.Equal(t, 3000, utf8.RuneCountInString(out[0]))
}

func TestValidateAndFormat_CleansAndCaps(t *testing.T) {
	g := Generated{Lines: []string{
		"1. First take  ",
		"   ",
		`2) "Second take"`,
		"- Third take",
		"Variation 4: Fourth take",
	}}

	out := ValidateAndFormat(g, FormatReview)
	assert.Equal(t, []string{"First take", "Second take", "Third take"}, out)
}

func TestValidateAndFormat_FailedGenerationIsEmpty(t *testing.T) {
	out := ValidateAndFormat(Generated{Lines: []string{PlaceholderLine}, Failed: true}, FormatTweet)
	assert.Empty(t, out)
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_Succeeds(t *testing.T) {
	p, chat := newPipeline(t,
		reply{text: goodAnalysis},
		reply{text: "Saved 10 hours a week!\nTen hours back every week.\nOur team got its weeks back."},
	)

	res, err := p.Run(context.Background(), Request{InputText: "Love this product, saved us 10 hours/week!", Tone: ToneEnthusiastic, Format: FormatTweet})
	require.NoError(t, err)
	assert.Equal(t, StageSucceeded, res.Stage)
	assert.Len(t, res.Variations, 3)
	assert.Contains(t, chat.requests[1].Messages[0].Content, "10 hours/week")
}

func TestRun_AnalysisFallbackStillGenerates(t *testing.T) {
	input := "Best purchase this year"
	p, chat := newPipeline(t,
		reply{text: "not json at all"},
		reply{text: "Variation A\nVariation B"},
	)

	res, err := p.Run(context.Background(), Request{InputText: input, Tone: ToneProfessional, Format: FormatReview})
	require.NoError(t, err)
	assert.Equal(t, FallbackAnalysis(input), res.Analysis)
	require.Len(t, chat.requests, 2, "pipeline continued past analysis")
	assert.Contains(t, chat.requests[1].Messages[0].Content, `Original feedback: "`+input+`"`)
}

func TestRun_FailsWithoutVariations(t *testing.T) {
	providerErr := errors.New("upstream unavailable")
	p, _ := newPipeline(t, reply{text: goodAnalysis}, reply{err: providerErr})

	res, err := p.Run(context.Background(), Request{InputText: "x", Tone: ToneWitty, Format: FormatTweet})
	assert.ErrorIs(t, err, ErrNoVariations)
	assert.ErrorIs(t, err, providerErr)
	assert.Equal(t, StageFailed, res.Stage)
	assert.Empty(t, res.Variations)
}

func TestRun_BlankOutputFails(t *testing.T) {
	p, _ := newPipeline(t, reply{text: goodAnalysis}, reply{text: "\n   \n"})

	_, err := p.Run(context.Background(), Request{InputText: "x", Tone: ToneWitty, Format: FormatTweet})
	assert.ErrorIs(t, err, ErrNoVariations)
}
