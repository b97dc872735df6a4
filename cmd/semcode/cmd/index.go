package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/semcode/semcode/internal/coordinator"
	"github.com/semcode/semcode/internal/logging"
)

func newIndexCmd() *cobra.Command {
	var (
		provider string
		reindex  bool
	)

	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Index a project in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args[0], provider, reindex)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "embedding provider (default from config)")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "re-index even if a job is running")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path, provider string, reindex bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:    cfg.Server.LogLevel,
		FilePath: cfg.Server.LogFile,
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

	events, unsubscribe := eng.coord.Subscribe()
	defer unsubscribe()

	id, err := eng.coord.StartIndexing(ctx, path, coordinator.Options{
		Provider:     provider,
		AllowReindex: reindex,
	})
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("indexing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = eng.coord.StopIndexing(id)
			return ctx.Err()
		case ev, ok := <-events:
			if ok && ev.ProjectID == id {
				_ = bar.Set(int(ev.Progress * 100))
			}
		case <-ticker.C:
			st, err := eng.coord.Status(id)
			if err != nil {
				return err
			}
			if terminal(st.VectorStatus.State) && terminal(st.GraphStatus.State) {
				_ = bar.Finish()
				fmt.Fprintf(cmd.OutOrStdout(),
					"indexed %d/%d files (%d failed), status: %s\nproject id: %s\n",
					st.IndexedFiles, st.TotalFiles, st.FailedFiles, st.Status, id)
				if st.Status == coordinator.ProjectError {
					return fmt.Errorf("indexing failed: %s", st.VectorStatus.Error)
				}
				return nil
			}
		}
	}
}

func terminal(s coordinator.JobStatus) bool {
	switch s {
	case coordinator.StatusCompleted, coordinator.StatusPartial, coordinator.StatusError:
		return true
	}
	return false
}
