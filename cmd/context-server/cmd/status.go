package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/twilsonco/context-server/internal/embed"
	"github.com/twilsonco/context-server/internal/index"
	"github.com/twilsonco/context-server/internal/output"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and backend status",
		Long: `Report the state of the local indexes: per-granularity segment
counts, indexed file count, any in-progress bulk run, and which
embedding and reranking backends are active.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

type statusReport struct {
	index.Status
	Embedder embed.Info `json:"embedder"`
	Reranker struct {
		Model     string `json:"model"`
		Available bool   `json:"available"`
	} `json:"reranker"`
	NotesDir string `json:"notes_dir"`
	DataDir  string `json:"data_dir"`
}

func runStatus(cmd *cobra.Command, jsonOutput bool) error {
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

	report := statusReport{
		Status:   pipe.coord.Status(),
		Embedder: embed.GetInfo(ctx, pipe.embedder),
		NotesDir: cfg.Notes.Dir,
		DataDir:  cfg.Index.DataDir,
	}
	report.Reranker.Model = pipe.reranker.ModelName()
	report.Reranker.Available = pipe.reranker.Available(ctx)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out.Header("Index")
	out.Field("Notes", report.NotesDir)
	out.Field("Data", report.DataDir)
	out.Field("Files", fmt.Sprintf("%d", report.Files))
	out.Field("State", string(report.Progress.State))
	for _, g := range []string{"day", "memory", "section", "line"} {
		out.Field(g, fmt.Sprintf("%d segments", report.Counts[g]))
	}
	out.Newline()

	out.Header("Backends")
	availability := func(ok bool) string {
		if ok {
			return "available"
		}
		return "unavailable"
	}
	out.Field("Embedder", fmt.Sprintf("%s (%s, %d dims, %s)",
		report.Embedder.Provider, report.Embedder.Model,
		report.Embedder.Dimensions, availability(report.Embedder.Available)))
	out.Field("Reranker", fmt.Sprintf("%s (%s)",
		report.Reranker.Model, availability(report.Reranker.Available)))

	return nil
}
