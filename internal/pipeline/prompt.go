package pipeline

import (
	"encoding/json"
	"strings"
)

// AssemblePrompt runs stage 2. Output depends only on its arguments.
func AssemblePrompt(a Analysis, tone Tone, format Format) string {
	var b strings.Builder
	b.WriteString("You are an expert B2B marketing copywriter specializing in social proof and customer testimonials.\n\n")

	b.WriteString("CONTEXT:\n")
	b.WriteString("- Original feedback: \"" + a.CleanedText + "\"\n")
	b.WriteString("- Sentiment: " + a.Sentiment + "\n")
	b.WriteString("- Core message: \"" + a.CoreMessage + "\"\n")
	b.WriteString("- Quantifiable results: " + jsonList(a.QuantifiableResults) + "\n")
	b.WriteString("- Emotional benefits: " + jsonList(a.EmotionalBenefits) + "\n\n")

	b.WriteString("REQUIREMENTS:\n")
	b.WriteString("- Tone: " + toneInstructions[tone] + "\n")
	b.WriteString("- Format: " + formatInstructions[format] + "\n\n")

	b.WriteString("RULES:\n")
	b.WriteString("1. Do not invent any details not present in the original feedback\n")
	b.WriteString("2. If quantifiable results are present, highlight them prominently\n")
	b.WriteString("3. Focus on emotional benefits and specific outcomes\n")
	b.WriteString("4. Make the content authentic and believable\n")
	b.WriteString("5. Ensure it sounds like genuine customer feedback\n")
	b.WriteString("6. For social media formats, make it highly shareable\n\n")

	b.WriteString("Generate exactly 3 variations of the content. Each should be different in approach but equally compelling.\n")
	b.WriteString("Return only the content variations, one per line, without any additional formatting or numbering.\n")
	return b.String()
}

func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}
