// Package budget estimates token usage for generation prompts and trims
// conversation history to fit a context window. Papyr talks to multiple
// backends with different tokenizers, so estimation uses a conservative
// character heuristic: 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken under-estimates on purpose to leave headroom for
	// model-specific overhead.
	charsPerToken = 4

	// DefaultMaxContextTokens fits 8k-context models while leaving room
	// for the streamed answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages sums role + content estimates over msgs, with a small
// per-message overhead matching most chat APIs.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimHistory drops the oldest history messages until fixed + history fit
// within maxTokens. fixed holds messages that are never trimmed (system
// instruction, retrieval context, current question). The returned slice
// may be empty; fixed exceeding the budget on its own is the caller's
// problem to surface.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)

	// History is at most a handful of turns; a linear oldest-first drop
	// is clear and correct.
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}
