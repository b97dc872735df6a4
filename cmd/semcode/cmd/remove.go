package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semcode/semcode/internal/logging"
)

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <project>",
		Short: "Remove a project and all its indexed data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd, args[0])
		},
	}
}

func runRemove(cmd *cobra.Command, arg string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := logging.Setup(logging.Config{Level: "error"})
	if err != nil {
		return err
	}
	defer cleanup()

	eng, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	p, err := eng.resolveProject(arg)
	if err != nil {
		return err
	}
	if err := eng.coord.RemoveProject(cmd.Context(), p.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed project %s (%s)\n", p.ID, p.Root)
	return nil
}
