package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/albumforge/albumforge/internal/ai"
	"github.com/albumforge/albumforge/internal/config"
	"github.com/albumforge/albumforge/internal/pipeline"
	"github.com/albumforge/albumforge/internal/recognize"
	"github.com/albumforge/albumforge/internal/session"
	"github.com/albumforge/albumforge/internal/session/postgres"
	"github.com/albumforge/albumforge/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the AlbumForge web server.
The API drives the whole flow: create a session, upload reference and
event photos, build the album, then download the ZIP.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("work-dir", "", "Base directory for session working files (defaults to the system temp dir)")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// buildSessionStore picks the session backend. With DATABASE_URL set sessions
// survive restarts in PostgreSQL; otherwise they live in process memory.
func buildSessionStore(cfg *config.Config, logger *zap.Logger) (session.Store, func(), error) {
	if cfg.Database.URL == "" {
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(), func() {}, nil
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	if err := pool.Migrate(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("using PostgreSQL session store")
	return postgres.NewSessionStore(pool), func() { pool.Close() }, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	cfg := config.Load()

	store, closeStore, err := buildSessionStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	summarizer, err := ai.NewSummarizer(cmd.Context(), cfg.AI)
	if err != nil {
		return fmt.Errorf("configuring AI summarizer: %w", err)
	}

	recognizer := recognize.NewRemote(cfg.Recognizer.URL)
	builder := pipeline.New(cfg, store, recognizer, summarizer, mustGetString(cmd, "work-dir"), logger)

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, port, host, builder, store, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	fmt.Printf("Starting AlbumForge API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
