package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/semcode/semcode/internal/logging"
)

func newEmbeddersCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "embedders",
		Short: "List embedding providers and their availability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEmbedders(cmd, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runEmbedders(cmd *cobra.Command, jsonOutput bool) error {
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

	caps := eng.pool.ProbeAll(cmd.Context())
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(caps)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMODEL\tDIMS\tBATCH\tAVAILABLE\tDETAIL")
	for _, c := range caps {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\t%s\n",
			c.Name, c.Model, c.Dimensions, c.MaxBatchSize, c.Available, c.Detail)
	}
	return tw.Flush()
}
