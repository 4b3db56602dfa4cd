package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/twilsonco/context-server/internal/output"
	"github.com/twilsonco/context-server/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query statistics",
		Long: `Report aggregated search traffic recorded by the HTTP and MCP
servers: query volume per granularity, latency distribution,
zero-result rate, and how often the same query repeats.

Everything is aggregated locally; no query text is stored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStats(cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	snap, err := telemetry.NewStore(cfg.Index.DataDir).Load()
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	if snap.Total == 0 {
		out.Status("", "No queries recorded yet. Stats accumulate while 'serve' or 'mcp' runs.")
		return nil
	}

	out.Header("Queries")
	out.Field("Total", fmt.Sprintf("%d", snap.Total))
	out.Field("Failed", fmt.Sprintf("%d", snap.Failed))
	out.Field("Zero results", fmt.Sprintf("%d (%.1f%%)", snap.ZeroResults, snap.ZeroResultRate*100))
	out.Field("Repeats", fmt.Sprintf("%d", snap.Repeats))
	out.Field("Mean latency", fmt.Sprintf("%.0f ms", snap.MeanLatencyMS))
	out.Newline()

	out.Header("By granularity")
	for _, g := range []string{"day", "memory", "section", "line"} {
		if n, ok := snap.ByGranularity[g]; ok {
			out.Field(g, fmt.Sprintf("%d", n))
		}
	}
	out.Newline()

	out.Header("Latency")
	buckets := []struct {
		bucket telemetry.LatencyBucket
		label  string
	}{
		{telemetry.BucketUnder50ms, "< 50 ms"},
		{telemetry.BucketUnder200ms, "< 200 ms"},
		{telemetry.BucketUnder1s, "< 1 s"},
		{telemetry.BucketUnder5s, "< 5 s"},
		{telemetry.BucketOver5s, ">= 5 s"},
	}
	for _, b := range buckets {
		if n, ok := snap.ByLatency[b.bucket]; ok {
			out.Field(b.label, fmt.Sprintf("%d", n))
		}
	}

	return nil
}
