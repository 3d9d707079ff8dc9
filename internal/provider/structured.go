package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// glossEnvelope is the fixed one-field schema for structured generation.
type glossEnvelope struct {
	// Relevance is a short explanation of why a passage matters for a query.
	Relevance string `json:"relevance"`
}

// glossInstruction forces the model into the single-field JSON envelope.
const glossInstruction = `Respond with ONLY a JSON object in this exact shape — no markdown fencing, no text outside the JSON:

{"relevance": "<one or two sentences explaining why the passage is relevant to the question>"}`

// GenerateGloss issues one small, non-streamed generation call that explains
// the relevance of a single passage to the query. The response is constrained
// to a fixed JSON schema with one string field and parsed strictly.
func GenerateGloss(ctx context.Context, m model.BaseChatModel, query, passage string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(glossInstruction),
		schema.UserMessage(fmt.Sprintf("Question: %s\n\nPassage:\n%s", query, passage)),
	}

	out, err := m.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("provider: gloss generation failed: %w", err)
	}

	var env glossEnvelope
	if err := json.Unmarshal([]byte(stripFence(out.Content)), &env); err != nil {
		return "", fmt.Errorf("provider: gloss response is not the expected JSON envelope: %w", err)
	}
	if env.Relevance == "" {
		return "", fmt.Errorf("provider: gloss response has an empty relevance field")
	}

	return env.Relevance, nil
}

// stripFence removes a surrounding markdown code fence, which some models
// emit despite instructions.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
