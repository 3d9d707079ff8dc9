package provider

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// cannedModel returns a fixed response from Generate. Stream is not used by
// gloss generation.
type cannedModel struct {
	content string
	err     error
}

func (m *cannedModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.content, nil), nil
}

func (m *cannedModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	panic("not used")
}

func TestGenerateGloss(t *testing.T) {
	t.Parallel()

	m := &cannedModel{content: `{"relevance": "Defines the notice period for termination."}`}
	got, err := GenerateGloss(context.Background(), m, "termination", "Either party may terminate with 30 days notice.")
	if err != nil {
		t.Fatalf("GenerateGloss failed: %v", err)
	}
	if got != "Defines the notice period for termination." {
		t.Errorf("unexpected gloss %q", got)
	}
}

func TestGenerateGloss_FencedResponse(t *testing.T) {
	t.Parallel()

	m := &cannedModel{content: "```json\n{\"relevance\": \"Explains the payment schedule.\"}\n```"}
	got, err := GenerateGloss(context.Background(), m, "payments", "Rent is due on the first of each month.")
	if err != nil {
		t.Fatalf("GenerateGloss failed: %v", err)
	}
	if got != "Explains the payment schedule." {
		t.Errorf("unexpected gloss %q", got)
	}
}

func TestGenerateGloss_RejectsProse(t *testing.T) {
	t.Parallel()

	m := &cannedModel{content: "This passage is relevant because it mentions rent."}
	if _, err := GenerateGloss(context.Background(), m, "rent", "passage"); err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}

func TestGenerateGloss_EmptyRelevance(t *testing.T) {
	t.Parallel()

	m := &cannedModel{content: `{"relevance": ""}`}
	if _, err := GenerateGloss(context.Background(), m, "rent", "passage"); err == nil {
		t.Fatal("expected error for empty relevance field")
	}
}

func TestStripFence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"  {\"a\": 1}  ", `{"a": 1}`},
	}
	for _, tt := range tests {
		if got := stripFence(tt.in); got != tt.want {
			t.Errorf("stripFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
