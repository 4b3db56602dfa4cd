package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/twilsonco/context-server/internal/embed"
	"github.com/twilsonco/context-server/internal/lifecycle"
	"github.com/twilsonco/context-server/internal/preflight"
	"github.com/twilsonco/context-server/internal/rerank"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run diagnostics to make sure context-server can operate:

  - Disk space (100MB minimum in the data directory)
  - Memory availability (1GB minimum)
  - Write permissions
  - File descriptor limits (1024 minimum)
  - Notes directory access and markdown file count
  - Ollama reachability and embedding model presence
  - Reranker service reachability

Service checks are non-critical: embedding falls back to the static
provider and reranking degrades to vector order.

Examples:
  context-server doctor
  context-server doctor --verbose
  context-server doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer setupFileLogging(cfg)()

	ollamaHost := cfg.Embeddings.OllamaHost
	if ollamaHost == "" {
		ollamaHost = embed.DefaultOllamaHost
	}
	rerankEndpoint := ""
	if cfg.Rerank.Enabled {
		rerankEndpoint = cfg.Rerank.URL
		if rerankEndpoint == "" {
			rerankEndpoint = rerank.DefaultEndpoint
		}
	}

	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithOllamaHost(ollamaHost),
		preflight.WithRerankEndpoint(rerankEndpoint),
	)
	results := checker.RunAll(ctx, cfg.Notes.Dir, cfg.Index.DataDir)
	results = append(results, checkEmbeddingModel(ctx, cfg.Embeddings.Model, ollamaHost))

	if jsonOutput {
		return printDoctorJSON(cmd, checker, results)
	}

	checker.PrintResults(results)

	if !preflight.NeedsCheck(cfg.Index.DataDir) {
		if age := preflight.MarkerAge(cfg.Index.DataDir); age > 0 {
			cmd.Printf("\nLast successful check: %s ago\n", formatAge(age))
		}
	}

	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed")
	}
	return nil
}

// checkEmbeddingModel reports whether the configured embedding model
// is pulled. Separate from the reachability probe so a running Ollama
// without the model gets an actionable message.
func checkEmbeddingModel(ctx context.Context, model, ollamaHost string) preflight.Result {
	result := preflight.Result{
		Name:     "embedding_model",
		Required: false,
	}
	if model == "" {
		model = lifecycle.DefaultModel
	}

	manager := lifecycle.NewManager(ollamaHost)
	if !manager.IsRunning() {
		result.Status = preflight.StatusWarn
		result.Message = "Ollama not running; model check skipped"
		result.Details = "Run 'context-server setup' to start it and pull the model"
		return result
	}

	has, err := manager.HasModel(ctx, model)
	if err != nil {
		result.Status = preflight.StatusWarn
		result.Message = fmt.Sprintf("cannot list models: %v", err)
		return result
	}
	if !has {
		result.Status = preflight.StatusWarn
		result.Message = fmt.Sprintf("model %s not pulled", model)
		result.Details = fmt.Sprintf("Run 'ollama pull %s' or 'context-server setup'", model)
		return result
	}

	result.Status = preflight.StatusPass
	result.Message = fmt.Sprintf("model %s available", model)
	return result
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Hour:
		return "less than 1 hour"
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

type doctorJSON struct {
	Status   string             `json:"status"`
	Checks   []doctorJSONResult `json:"checks"`
	Warnings []string           `json:"warnings,omitempty"`
	Errors   []string           `json:"errors,omitempty"`
}

type doctorJSONResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func printDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.Result) error {
	report := doctorJSON{
		Status: checker.SummaryStatus(results),
		Checks: make([]doctorJSONResult, len(results)),
	}
	for i, r := range results {
		report.Checks[i] = doctorJSONResult{
			Name:     r.Name,
			Status:   strings.ToLower(r.Status.String()),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}
		if r.IsCritical() {
			report.Errors = append(report.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			report.Warnings = append(report.Warnings, r.Name+": "+r.Message)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
