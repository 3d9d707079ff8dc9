package commands

import (
	"fmt"
	"os"

	"github.com/papyr-ai/papyr-go/internal/client"
)

// defaultServerURL is where the CLI reaches a locally running `papyr serve`.
const defaultServerURL = "http://127.0.0.1:8080"

// newAPIClient builds the API client used by the ingest and ask commands.
// serverURL and userID come from flags, falling back to the PAPYR_SERVER
// and PAPYR_USER environment variables. The API key comes from the loaded
// configuration so it shares the server's resolution order.
func newAPIClient(serverURL, userID string) (*client.Client, error) {
	if serverURL == "" {
		serverURL = os.Getenv("PAPYR_SERVER")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}

	if userID == "" {
		userID = os.Getenv("PAPYR_USER")
	}
	if userID == "" {
		return nil, fmt.Errorf("no user ID: set --user or the PAPYR_USER environment variable")
	}

	var apiKey string
	if loadedConfig != nil {
		apiKey = loadedConfig.Server.APIKey
	}

	return client.New(serverURL, apiKey, userID), nil
}
