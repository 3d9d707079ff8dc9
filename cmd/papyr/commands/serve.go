package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/papyr-ai/papyr-go/internal/config"
	"github.com/papyr-ai/papyr-go/internal/docstore"
	"github.com/papyr-ai/papyr-go/internal/embedder"
	"github.com/papyr-ai/papyr-go/internal/ingest"
	"github.com/papyr-ai/papyr-go/internal/logging"
	"github.com/papyr-ai/papyr-go/internal/orchestrator"
	"github.com/papyr-ai/papyr-go/internal/provider"
	"github.com/papyr-ai/papyr-go/internal/rag"
	"github.com/papyr-ai/papyr-go/internal/reranker"
	"github.com/papyr-ai/papyr-go/internal/server"
)

// NewServeCmd constructs the `papyr serve` command, which starts the HTTP
// API server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the papyr HTTP API server",
		Long: `Start the papyr HTTP API server on localhost.

The server exposes a REST API for document upload, streamed chat with
page-level citations, and note management. Uploaded PDFs are parsed,
embedded, and indexed in Qdrant in the background.

Examples:
  papyr serve
  papyr serve --port 9090
  MODEL_PROVIDER=openai papyr serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := loadedConfig
			log := logging.New(cfg.Logging.Level, cfg.Logging.Format)
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", cfg.Model.Provider))

			chatModel, err := provider.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", cfg.Model.Provider))

			emb, err := embedder.New(cfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}

			rr := reranker.New(&reranker.Config{
				Endpoint: cfg.Reranker.Endpoint,
				Model:    cfg.Reranker.Model,
				APIKey:   cfg.Reranker.APIKey,
			})

			vectors, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
				Host:       cfg.Qdrant.Host,
				Port:       cfg.Qdrant.Port,
				Collection: cfg.Qdrant.Collection,
				VectorSize: uint64(embedder.Dimensions(cfg)), //nolint:gosec // dimensions are bounded
				APIKey:     cfg.Qdrant.APIKey,
				UseTLS:     cfg.Qdrant.TLS,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to connect to Qdrant at %s:%d: %w", cfg.Qdrant.Host, cfg.Qdrant.Port, err)
			}
			defer vectors.Close()
			log.Info("qdrant store ready",
				slog.String("host", cfg.Qdrant.Host),
				slog.Int("port", cfg.Qdrant.Port),
				slog.String("collection", cfg.Qdrant.Collection),
			)

			dbPath := cfg.Store.DBPath
			if dbPath == "" {
				dbPath, err = config.DefaultDBPath()
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			}
			store, err := docstore.Open(dbPath)
			if err != nil {
				return fmt.Errorf("serve: failed to open document store: %w", err)
			}
			defer func() { _ = store.Close() }()
			log.Info("document store opened", slog.String("path", dbPath))

			ctrl := ingest.New(store, ingest.NewPDFParser(), emb, vectors, cfg.PageCeiling)
			orch := orchestrator.New(store, emb, vectors, rr, chatModel, cfg.Retrieval)

			if host == "" {
				host = cfg.Server.Host
			}
			if port == 0 {
				port = cfg.Server.Port
			}

			srv, err := server.New(store, orch, ctrl, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   buildPingers(emb, rr, vectors),
				RateLimit: cfg.Server.RateLimit,
				RateBurst: cfg.Server.RateBurst,
				APIKey:    cfg.Server.APIKey,
			}, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default from config)")

	return cmd
}

// buildPingers collects readiness probes from the dependencies that expose
// one. The OpenAI embedder has no cheap probe, so it is skipped there.
func buildPingers(deps ...any) []server.Pinger {
	var pingers []server.Pinger
	for _, d := range deps {
		if p, ok := d.(server.Pinger); ok {
			pingers = append(pingers, p)
		}
	}
	return pingers
}
