package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

// waitInterval is how often the ingest command polls document status while
// ingestion runs in the background.
const waitInterval = 500 * time.Millisecond

// NewIngestCmd constructs the `papyr ingest` command, which sends a local
// PDF to a running papyr server and waits for indexing to finish.
func NewIngestCmd() *cobra.Command {
	var serverURL string
	var userID string
	var noWait bool

	cmd := &cobra.Command{
		Use:   "ingest [file.pdf]",
		Short: "Upload a PDF document for indexing",
		Long: `Upload a PDF to the papyr server and index it for chat.

The server accepts the upload immediately and parses, embeds, and indexes
the pages in the background. By default the command waits until the
document reaches a terminal status and reports the result.

Re-uploading a file with the same name replaces the previous index for
that document.

Examples:
  papyr ingest lease.pdf --user alice
  papyr ingest report.pdf --user alice --no-wait
  PAPYR_USER=alice papyr ingest contract.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			api, err := newAPIClient(serverURL, userID)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer f.Close()

			doc, err := api.Upload(ctx, filepath.Base(path), f)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			fmt.Printf("accepted: %s (%s)\n", doc.Name, doc.ID)

			if noWait {
				return nil
			}

			doc, err = api.WaitForDocument(ctx, doc.ID, waitInterval)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			switch doc.Status {
			case "SUCCESS":
				fmt.Printf("indexed: %d pages\n", doc.PageCount)
				return nil
			case "FAILED":
				return fmt.Errorf("ingest: indexing failed: %s", doc.FailureReason)
			default:
				return fmt.Errorf("ingest: unexpected document status %q", doc.Status)
			}
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "papyr server URL (default: http://127.0.0.1:8080)")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID to upload as (default: PAPYR_USER)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return immediately after the upload is accepted")

	return cmd
}
