// Package tokens approximates token counts from character length.
//
// The ratio is a heuristic (about four characters per token of English
// prose), not a tokenizer. Budgets derived from it must leave headroom;
// exact usage comes back from the providers after the fact.
package tokens

// DefaultCharsPerToken is the assumed characters-per-token ratio.
const DefaultCharsPerToken = 4

// turnOverhead covers role markers and separators per conversation turn.
const turnOverhead = 4

// Estimator converts text length into an approximate token count.
// The zero value uses DefaultCharsPerToken.
type Estimator struct {
	CharsPerToken int
}

func (e Estimator) ratio() int {
	if e.CharsPerToken <= 0 {
		return DefaultCharsPerToken
	}
	return e.CharsPerToken
}

// Estimate returns the approximate token count for text, rounding up.
// Empty text estimates to zero.
func (e Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	r := e.ratio()
	return (len(text) + r - 1) / r
}

// EstimateAll sums the estimates for each part.
func (e Estimator) EstimateAll(parts ...string) int {
	total := 0
	for _, p := range parts {
		total += e.Estimate(p)
	}
	return total
}

// EstimateConversation estimates a query plus its preceding turns,
// charging turnOverhead per turn for role markers.
func (e Estimator) EstimateConversation(query string, turns []string) int {
	total := e.Estimate(query)
	for _, t := range turns {
		total += turnOverhead + e.Estimate(t)
	}
	return total
}

// Estimate is a convenience wrapper around the zero-value Estimator.
func Estimate(text string) int {
	return Estimator{}.Estimate(text)
}
