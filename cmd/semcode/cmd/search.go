package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/semcode/semcode/internal/logging"
)

func newSearchCmd() *cobra.Command {
	var (
		projectArg string
		limit      int
		minScore   float32
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over an indexed project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), projectArg, limit, minScore, jsonOutput)
		},
	}
	cmd.Flags().StringVarP(&projectArg, "project", "p", ".", "project ID or path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")
	cmd.Flags().Float32Var(&minScore, "min-score", 0, "minimum similarity score")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runSearch(cmd *cobra.Command, query, projectArg string, limit int, minScore float32, jsonOutput bool) error {
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

	p, err := eng.resolveProject(projectArg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	vecs, err := eng.pool.Embed(ctx, cfg.Embeddings.Provider, []string{query})
	if err != nil {
		return err
	}
	where := map[string]string{"project_id": p.ID}
	results, err := eng.vectors.Search(ctx, p.Collection(), vecs[0], limit, minScore, where)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	for _, res := range results {
		fmt.Fprintf(out, "%.3f  %s:%s-%s\n",
			res.Similarity,
			res.Metadata["rel_path"],
			res.Metadata["start_line"],
			res.Metadata["end_line"])
		lines := strings.Split(res.Content, "\n")
		if len(lines) > 3 {
			lines = lines[:3]
		}
		for _, line := range lines {
			fmt.Fprintf(out, "    %s\n", line)
		}
	}
	return nil
}
