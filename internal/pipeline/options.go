package pipeline

import (
	"fmt"
	"strings"

	"github.com/M-ajor19/quillify/internal/apperr"
)

// Tone selects the voice of the generated copy.
type Tone string

const (
	ToneProfessional   Tone = "professional"
	ToneEnthusiastic   Tone = "enthusiastic"
	ToneWitty          Tone = "witty"
	ToneConversational Tone = "conversational"
	ToneAuthoritative  Tone = "authoritative"
)

// Format selects the shape and length of the generated copy.
type Format string

const (
	FormatTweet        Format = "tweet"
	FormatLinkedIn     Format = "linkedin"
	FormatQuoteGraphic Format = "quote-graphic"
	FormatTestimonial  Format = "testimonial"
	FormatReview       Format = "review"
)

var (
	Tones   = []Tone{ToneProfessional, ToneEnthusiastic, ToneWitty, ToneConversational, ToneAuthoritative}
	Formats = []Format{FormatTweet, FormatLinkedIn, FormatQuoteGraphic, FormatTestimonial, FormatReview}
)

var toneInstructions = map[Tone]string{
	ToneProfessional:   "Use a professional, corporate tone. Be trustworthy and authoritative.",
	ToneEnthusiastic:   "Use an energetic, excited tone. Show passion and excitement.",
	ToneWitty:          "Use a clever, humorous tone. Be engaging and memorable.",
	ToneConversational: "Use a friendly, conversational tone. Be approachable and natural.",
	ToneAuthoritative:  "Use a confident, expert tone. Be commanding and decisive.",
}

var formatInstructions = map[Format]string{
	FormatTweet:        "Create a Twitter post under 280 characters. Make it engaging and shareable.",
	FormatLinkedIn:     "Create a LinkedIn post that's professional and detailed. Include relevant hashtags.",
	FormatQuoteGraphic: "Create text suitable for a quote graphic. Make it visually impactful and quotable.",
	FormatTestimonial:  "Create a full testimonial format. Include the customer's voice and specific benefits.",
	FormatReview:       "Create a review snippet that highlights the most important points.",
}

// maxRunes is the per-format length limit; formats not listed are unbounded.
var maxRunes = map[Format]int{
	FormatTweet:    280,
	FormatLinkedIn: 3000,
}

func ParseTone(s string) (Tone, error) {
	t := Tone(strings.TrimSpace(s))
	if _, ok := toneInstructions[t]; !ok {
		return "", apperr.Validation(fmt.Sprintf("invalid tone %q", s))
	}
	return t, nil
}

func ParseFormat(s string) (Format, error) {
	f := Format(strings.TrimSpace(s))
	if _, ok := formatInstructions[f]; !ok {
		return "", apperr.Validation(fmt.Sprintf("invalid format %q", s))
	}
	return f, nil
}

// validateTables checks that every tone and format has an instruction and
// that the tables hold nothing else.
func validateTables() error {
	if len(toneInstructions) != len(Tones) {
		return fmt.Errorf("tone table has %d entries, want %d", len(toneInstructions), len(Tones))
	}
	for _, t := range Tones {
		if strings.TrimSpace(toneInstructions[t]) == "" {
			return fmt.Errorf("no instruction for tone %q", t)
		}
	}
	if len(formatInstructions) != len(Formats) {
		return fmt.Errorf("format table has %d entries, want %d", len(formatInstructions), len(Formats))
	}
	for _, f := range Formats {
		if strings.TrimSpace(formatInstructions[f]) == "" {
			return fmt.Errorf("no instruction for format %q", f)
		}
	}
	return nil
}
