package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papyr-ai/papyr-go/internal/client"
	"github.com/papyr-ai/papyr-go/internal/prompt"
	"github.com/papyr-ai/papyr-go/internal/session"
)

// NewAskCmd constructs the `papyr ask` command, which asks a question about
// a document (or the whole library) and streams the answer to stdout.
func NewAskCmd() *cobra.Command {
	var serverURL string
	var userID string
	var documentID string
	var toggles prompt.Toggles

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about your documents",
		Long: `Ask a natural language question and stream the answer to stdout.

With --document the question is answered from that document alone, with
page-level citations. Without it, papyr searches across every indexed
document and synthesises an answer; retrieval progress is printed to
stderr as it happens.

Focus flags steer the answer toward specific aspects of the document.

Examples:
  papyr ask --user alice --document 3f1c... "what is the termination clause?"
  papyr ask --user alice --document 3f1c... --economics "summarise the payment terms"
  papyr ask --user alice "which contracts mention arbitration?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			api, err := newAPIClient(serverURL, userID)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			conv, err := client.NewConversation(ctx, api, documentID)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			// Print only the bytes appended since the last state update,
			// so the answer streams instead of repainting.
			printed := 0
			onUpdate := func(st session.State) {
				if st.Phase != session.PhaseStreaming {
					return
				}
				partial := st.Partial()
				if len(partial) > printed {
					fmt.Print(partial[printed:])
					printed = len(partial)
				}
			}
			onStatus := func(line string) {
				fmt.Fprintf(os.Stderr, "· %s\n", line)
			}

			if err := conv.Ask(ctx, args[0], toggles, onUpdate, onStatus); err != nil {
				if printed > 0 {
					fmt.Println()
				}
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "papyr server URL (default: http://127.0.0.1:8080)")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID to ask as (default: PAPYR_USER)")
	cmd.Flags().StringVarP(&documentID, "document", "d", "", "Document ID to ask about (omit to search all documents)")
	cmd.Flags().BoolVar(&toggles.ContractTerms, "contract-terms", false, "Focus the answer on contract terms and obligations")
	cmd.Flags().BoolVar(&toggles.Economics, "economics", false, "Focus the answer on financial and economic aspects")
	cmd.Flags().BoolVar(&toggles.Methodology, "methodology", false, "Focus the answer on methodology and approach")
	cmd.Flags().BoolVar(&toggles.RiskAnalysis, "risk", false, "Focus the answer on risks and liabilities")

	return cmd
}
