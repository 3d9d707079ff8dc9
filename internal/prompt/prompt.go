// Package prompt assembles the generation prompts used by the query
// orchestrator. System instructions are built from an enumerated set of
// named clauses rather than ad hoc string concatenation, so each clause
// can be toggled and tested independently.
package prompt

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/papyr-ai/papyr-go/internal/citation"
	"github.com/papyr-ai/papyr-go/internal/docstore"
	"github.com/papyr-ai/papyr-go/internal/rag"
)

// Clause identifies one addressable unit of a system instruction.
type Clause string

const (
	// ClauseCitation is the base instruction for citation-style answering.
	// It is always present in single-document mode.
	ClauseCitation Clause = "citation"

	// Thematic toggles. Each appends exactly one fixed sentence when
	// enabled, independently of the others.
	ClauseContractTerms Clause = "contract_terms"
	ClauseEconomics     Clause = "economics"
	ClauseMethodology   Clause = "methodology"
	ClauseRiskAnalysis  Clause = "risk_analysis"
)

// clauseText maps each clause to its fixed sentence. Texts are immutable:
// changing one changes the model contract and must be treated as a
// behavior change, not a copy edit.
var clauseText = map[Clause]string{
	ClauseCitation: "You answer questions strictly from the numbered context passages below. " +
		"Cite every claim with its inline marker, e.g. [1] or [2], matching the passage it came from. " +
		"After your answer, reproduce the citation block between the markers " +
		citation.BlockStart + " and " + citation.BlockEnd + " exactly as given in the context. " +
		"If the context does not contain the answer, say so plainly without inventing citations.",
	ClauseContractTerms: "Pay particular attention to contractual terms, obligations, and defined parties.",
	ClauseEconomics:     "Highlight monetary amounts, fees, payment schedules, and other economic terms.",
	ClauseMethodology:   "Explain any described methodology or process step by step where the passages permit.",
	ClauseRiskAnalysis:  "Call out risks, liabilities, and limitation-of-liability language explicitly.",
}

// Toggles selects the optional thematic clauses for a request.
type Toggles struct {
	ContractTerms bool `json:"contractTerms"`
	Economics     bool `json:"economics"`
	Methodology   bool `json:"methodology"`
	RiskAnalysis  bool `json:"riskAnalysis"`
}

// enabled returns the toggled clauses in their fixed declaration order.
func (t Toggles) enabled() []Clause {
	var clauses []Clause
	if t.ContractTerms {
		clauses = append(clauses, ClauseContractTerms)
	}
	if t.Economics {
		clauses = append(clauses, ClauseEconomics)
	}
	if t.Methodology {
		clauses = append(clauses, ClauseMethodology)
	}
	if t.RiskAnalysis {
		clauses = append(clauses, ClauseRiskAnalysis)
	}
	return clauses
}

// Text returns the fixed sentence for a clause. Unknown clauses return "".
func Text(c Clause) string { return clauseText[c] }

// System joins the base clause and the enabled toggles into one system
// instruction, one sentence per clause.
func System(base Clause, toggles Toggles) string {
	parts := []string{clauseText[base]}
	for _, c := range toggles.enabled() {
		parts = append(parts, clauseText[c])
	}
	return strings.Join(parts, " ")
}

// SingleDocument builds the two-message prompt for single-document chat:
// the citation system instruction (plus toggles) and a user turn carrying
// the recent conversation, the citation-formatted context, and the
// question. History must already be in ascending chronological order.
func SingleDocument(question string, history []docstore.Message, passages []rag.Passage, toggles Toggles) []*schema.Message {
	var user strings.Builder

	if len(history) > 0 {
		user.WriteString("Conversation so far:\n")
		for _, m := range history {
			role := "assistant"
			if m.IsUser {
				role = "user"
			}
			fmt.Fprintf(&user, "%s: %s\n", role, m.Content)
		}
		user.WriteByte('\n')
	}

	user.WriteString("Context passages:\n")
	user.WriteString(citation.ContextBlock(passages))
	user.WriteString("\n\nCitation block to reproduce:\n")
	user.WriteString(citation.BlockStart)
	user.WriteByte('\n')
	user.WriteString(citation.ReferenceLines(passages))
	user.WriteByte('\n')
	user.WriteString(citation.BlockEnd)
	user.WriteString("\n\nQuestion: ")
	user.WriteString(question)

	return []*schema.Message{
		schema.SystemMessage(System(ClauseCitation, toggles)),
		schema.UserMessage(user.String()),
	}
}

// globalSystem instructs the synthesis pass of cross-document mode. The
// structured per-document results are presented verbatim; only the closing
// answer is synthesized. No citation block in this mode.
const globalSystem = "You are given per-document findings, each with a document title and a one-sentence " +
	"relevance note. First present the findings verbatim with light formatting (one bullet per document, " +
	"title in bold). Then give a short synthesized answer to the question in a closing paragraph. " +
	"Do not add citations or invent findings beyond those given."

// Finding is one structured result of cross-document retrieval: a source
// document title and the generated relevance sentence for its passage.
type Finding struct {
	Title     string `json:"title"`
	Relevance string `json:"relevance"`
}

// Global builds the synthesis prompt for cross-document mode from the
// structured findings and the original question.
func Global(question string, findings []Finding) []*schema.Message {
	var user strings.Builder
	user.WriteString("Findings:\n")
	for _, f := range findings {
		fmt.Fprintf(&user, "- %s: %s\n", f.Title, f.Relevance)
	}
	user.WriteString("\nQuestion: ")
	user.WriteString(question)

	return []*schema.Message{
		schema.SystemMessage(globalSystem),
		schema.UserMessage(user.String()),
	}
}

// noteAssistSystem caps note-assist output. The flow has no retrieval step,
// so the instruction is fixed.
const noteAssistSystem = "You help refine a personal note. Answer the question about the note in at most " +
	"1-2 sentences, optionally preceded by a single short heading. No other sections, lists, or preamble."

// NoteAssist builds the two-turn prompt for the note-assist flow from the
// note's current content and the user's question.
func NoteAssist(noteContent, question string) []*schema.Message {
	var user strings.Builder
	user.WriteString("Note content:\n")
	user.WriteString(noteContent)
	user.WriteString("\n\nQuestion: ")
	user.WriteString(question)

	return []*schema.Message{
		schema.SystemMessage(noteAssistSystem),
		schema.UserMessage(user.String()),
	}
}
