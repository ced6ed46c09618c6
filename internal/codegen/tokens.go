package codegen

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Fixed allowance for message framing around the prompt bodies.
const promptOverheadTokens = 6

// estimatePromptTokens returns the estimated token usage of a generation
// prompt and whether the estimate is approximate (no exact model encoding
// available).
func estimatePromptTokens(modelID, systemPrompt, userPrompt string) (int, bool) {
	encoder, approx := encodingForModel(modelID)
	total := tokenCount(encoder, systemPrompt) + tokenCount(encoder, userPrompt) + promptOverheadTokens
	return total, approx
}

func encodingForModel(modelID string) (*tiktoken.Tiktoken, bool) {
	encoder, err := tiktoken.EncodingForModel(modelID)
	if err == nil {
		return encoder, false
	}

	fallback, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, true
	}

	return fallback, true
}

func tokenCount(encoder *tiktoken.Tiktoken, text string) int {
	if text == "" {
		return 0
	}

	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}

	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}

	// Rough heuristic: 1 token ≈ 4 characters
	return (runes + 3) / 4
}
