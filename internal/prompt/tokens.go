package prompt

import (
	"github.com/cloudwego/eino/schema"
)

// charsPerToken approximates tokenizers of all supported backends: about four
// characters of English prose per token.
const charsPerToken = 4

// EstimateTokens returns a rough token count for s.
func EstimateTokens(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated token count of msgs, including a
// small per-message overhead for role framing.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += EstimateTokens(string(m.Role))
		total += EstimateTokens(m.Content)
	}
	return total
}
