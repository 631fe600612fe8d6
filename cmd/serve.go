package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anything-indexer/anything/internal/config"
	"github.com/anything-indexer/anything/internal/dbpool"
	"github.com/anything-indexer/anything/internal/httpapi"
	"github.com/anything-indexer/anything/internal/logging"
	"github.com/anything-indexer/anything/internal/registry"
)

var serveLog = logging.For("serve")

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bootstrap every user's scanners and serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	pool := dbpool.Default()
	reg := registry.New(pool, registry.Options{
		ExcludedPatterns: cfg.ExcludedPatterns,
		UseLocalWatcher:  cfg.UseLocalWatcher,
	})
	defer reg.Close()

	if err := reg.Bootstrap(cfg.BaseDir); err != nil {
		serveLog.Printf("bootstrap encountered errors, continuing with what loaded: %v", err)
	}

	server := httpapi.NewServer(reg, cfg)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		serveLog.Printf("listening on %s", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		serveLog.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
	return nil
}
