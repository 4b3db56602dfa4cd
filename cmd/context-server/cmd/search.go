package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/twilsonco/context-server/internal/output"
	"github.com/twilsonco/context-server/internal/search"
)

type searchOptions struct {
	granularity   string
	limit         int
	candidates    int
	recencyWeight float64
	format        string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed notes",
		Long: `Run one semantic search against the local indexes and print the
results.

Granularity selects how much context each result carries: a whole day,
a memory (#), a section (##), or a single line (-). A nonzero recency
weight penalizes older days by that much score per day of age.

Examples:
  context-server search "lunch with maria"
  context-server search "parking garage" -g line -n 3
  context-server search "beach trip" --recency-weight 0.01
  context-server search "project kickoff" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.granularity, "granularity", "g", "", "Result granularity: day, memory, section, line (default from config)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().IntVar(&opts.candidates, "candidates", 0, "Candidate pool size before reranking (default from config)")
	cmd.Flags().Float64Var(&opts.recencyWeight, "recency-weight", -1, "Score penalty per day of age (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer setupFileLogging(cfg)()

	pipe, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipe.Close()

	if pipe.coord.Status().Files == 0 {
		return fmt.Errorf("no notes indexed. Run 'context-server index' first")
	}

	searchOpts := search.Options{
		Granularity:    opts.granularity,
		ResultCount:    opts.limit,
		CandidateCount: opts.candidates,
	}
	if opts.recencyWeight >= 0 {
		w := opts.recencyWeight
		searchOpts.RecencyWeight = &w
	}

	results, err := pipe.engine.Search(ctx, query, searchOpts)
	if err != nil {
		return err
	}

	switch opts.format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	default:
		return formatSearchResults(out, query, results)
	}
}

// formatSearchResults prints results as a numbered list with their
// date, lineage, and score.
func formatSearchResults(out *output.Writer, query string, results []search.ResultView) error {
	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	out.Statusf("🔍", "Found %d results for %q:", len(results), query)
	out.Newline()

	for i, r := range results {
		heading := r.Date
		if heading == "" {
			heading = "(undated)"
		}
		if r.Title != "" {
			heading += " · " + r.Title
		}
		out.Statusf("", "%d. %s (score: %.3f)", i+1, heading, r.Score)
		if lineage := formatLineage(r); lineage != "" {
			out.Status("", "   "+lineage)
		}
		for _, line := range snippetLines(r.Text, 3) {
			out.Status("", "   "+line)
		}
		out.Newline()
	}
	return nil
}

// formatLineage shows where a fine-grained result came from.
func formatLineage(r search.ResultView) string {
	var parts []string
	if r.ParentMemory != "" {
		parts = append(parts, r.ParentMemory)
	}
	if r.ParentSection != "" {
		parts = append(parts, r.ParentSection)
	}
	if len(parts) == 0 {
		return ""
	}
	return "in: " + strings.Join(parts, " > ")
}

// snippetLines returns the first n non-empty-tail lines of text.
func snippetLines(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
