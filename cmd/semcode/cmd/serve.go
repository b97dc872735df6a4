package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/semcode/semcode/internal/logging"
	"github.com/semcode/semcode/internal/server"
	"github.com/semcode/semcode/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the indexing engine with its HTTP control surface",
		Long: `Starts the long-running engine: reconciles every registered project
against the filesystem, optionally watches them for changes, and
serves the HTTP API.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "watch registered projects for changes")
	return cmd
}

func runServe(parent context.Context, watch bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Server.LogLevel,
		FilePath:      cfg.Server.LogFile,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	})
	if err != nil {
		return err
	}
	defer cleanup()
	slog.SetDefault(logger)

	eng, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.graphs.StartReaper(ctx)
	eng.coord.ReconcileOnStartup(ctx)

	if watch {
		wcfg := watcher.Config{
			Debounce:     cfg.Watcher.Debounce.Std(),
			PollInterval: cfg.Watcher.PollInterval.Std(),
			QueueSize:    cfg.Watcher.QueueSize,
			Polling:      cfg.Watcher.Polling,
		}
		for _, p := range eng.registry.List() {
			if err := eng.coord.WatchProject(ctx, p.ID, wcfg); err != nil {
				logger.Warn("failed to watch project",
					slog.String("project_id", p.ID),
					slog.String("error", err.Error()))
			}
		}
	}

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		DefaultProvider: cfg.Embeddings.Provider,
	}, eng.coord, eng.registry, eng.pool, eng.vectors, eng.graphs, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Indexing.DrainTimeout.Std()+5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return eng.coord.Shutdown(shutdownCtx)
}
