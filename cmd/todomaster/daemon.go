package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/todomaster/internal/audit"
	"github.com/fentz26/todomaster/internal/docstore"
	"github.com/fentz26/todomaster/internal/store"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the todomaster document store",
	Long:  `Starts the document store daemon which serves the task collection and its live watch stream over HTTP.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().String("listen", "", "Listen address for the API server (default 127.0.0.1:7467)")
	daemonCmd.Flags().String("db", "", "Path to SQLite database (default <data-dir>/todomaster.db)")
	mustBind("daemon.listen", daemonCmd.Flags().Lookup("listen"))
	mustBind("daemon.db_path", daemonCmd.Flags().Lookup("db"))
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := newLogger("todomaster-daemon")
	logger.Info("starting document store daemon", "version", version)

	// Initialize store
	s, err := store.New(cfg.DBPath())
	if err != nil {
		return err
	}

	// Create service and server
	docstore.Version = version
	service := docstore.NewService(s, audit.NewRecorder(s), logger.Named("service"))
	server := docstore.NewServer(service, cfg.Daemon.Listen, logger.Named("http"))

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
			s.Close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("closing database connection")
	if err := s.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
