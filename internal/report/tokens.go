package report

// BytesPerToken is the crude serialized-bytes-to-tokens conversion used
// for savings estimates. Four bytes per token tracks typical English
// prose and JSON closely enough for a relative comparison.
const BytesPerToken = 4

// EstimateTokens converts a byte count to an approximate token count,
// rounding up so a one-byte payload still costs a token.
func EstimateTokens(bytes int) int {
	if bytes <= 0 {
		return 0
	}
	return (bytes + BytesPerToken - 1) / BytesPerToken
}

// Savings compares the token cost of pasting referenced artifact
// content inline against the cost of carrying references plus previews.
type Savings struct {
	NaiveTokens   int `json:"naive_tokens"`
	ActualTokens  int `json:"actual_tokens"`
	AvoidedTokens int `json:"avoided_tokens"`
}
