package pipeline

import "strings"

// EstimateTokens approximates the token count of a text as its whitespace
// separated word count. The chunker and the context assembler share this
// estimator, so budgets stay consistent across the pipeline.
func EstimateTokens(text string) int {
	return len(strings.Fields(text))
}
