package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/semcode/semcode/internal/logging"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [project]",
		Short: "Show indexing status for one or all registered projects",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := ""
			if len(args) == 1 {
				arg = args[0]
			}
			return runStatus(cmd, arg, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, arg string, jsonOutput bool) error {
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

	out := cmd.OutOrStdout()
	if arg != "" {
		p, err := eng.resolveProject(arg)
		if err != nil {
			return err
		}
		st, err := eng.coord.Status(p.ID)
		if err != nil {
			return err
		}
		if jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		fmt.Fprintf(out, "project:  %s\n", st.Path)
		fmt.Fprintf(out, "id:       %s\n", st.ID)
		fmt.Fprintf(out, "status:   %s\n", st.Status)
		fmt.Fprintf(out, "files:    %d indexed, %d failed, %d total\n",
			st.IndexedFiles, st.FailedFiles, st.TotalFiles)
		fmt.Fprintf(out, "vector:   %s\n", st.VectorStatus.State)
		fmt.Fprintf(out, "graph:    %s\n", st.GraphStatus.State)
		if st.LastIndexedAt != nil {
			fmt.Fprintf(out, "last run: %s\n", st.LastIndexedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	}

	states := eng.coord.List()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(states)
	}
	if len(states) == 0 {
		fmt.Fprintln(out, "no projects registered")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATH\tSTATUS\tFILES")
	for _, st := range states {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\n",
			st.ID, st.Path, st.Status, st.IndexedFiles, st.TotalFiles)
	}
	return tw.Flush()
}
