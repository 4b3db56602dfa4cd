// Package preflight validates the host environment before the server
// or an indexing run starts: disk space, memory, file descriptors,
// notes directory access, and embedding/reranking service reachability.
package preflight

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Status is the outcome of a single check.
type Status int

const (
	// StatusPass means the check succeeded.
	StatusPass Status = iota
	// StatusWarn means a degraded but workable condition.
	StatusWarn
	// StatusFail means the check failed.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Result holds one check outcome.
type Result struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
	Required bool   `json:"required"`
}

// IsCritical reports whether a required check failed.
func (r Result) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs the environment checks.
type Checker struct {
	verbose        bool
	output         io.Writer
	ollamaHost     string
	rerankEndpoint string
	client         *http.Client
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details alongside results.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) { c.verbose = verbose }
}

// WithOutput sets where PrintResults writes.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) { c.output = w }
}

// WithOllamaHost sets the embedding service endpoint to probe.
func WithOllamaHost(host string) Option {
	return func(c *Checker) { c.ollamaHost = host }
}

// WithRerankEndpoint sets the reranker endpoint to probe.
func WithRerankEndpoint(endpoint string) Option {
	return func(c *Checker) { c.rerankEndpoint = endpoint }
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{
		output: os.Stdout,
		client: &http.Client{Timeout: 3 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against the notes and data directories.
func (c *Checker) RunAll(ctx context.Context, notesDir, dataDir string) []Result {
	results := []Result{
		c.CheckDiskSpace(dataDir),
		c.CheckMemory(),
		c.CheckWritePermissions(dataDir),
		c.CheckFileDescriptors(),
		c.CheckNotesDir(notesDir),
	}

	// Service checks are non-critical: embedding falls back to the
	// static provider and reranking degrades to ANN order.
	if c.ollamaHost != "" {
		results = append(results, c.CheckEmbeddingService(ctx))
	}
	if c.rerankEndpoint != "" {
		results = append(results, c.CheckRerankService(ctx))
	}

	return results
}

// HasCriticalFailures reports whether any required check failed.
func (c *Checker) HasCriticalFailures(results []Result) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus reduces results to ready / ready_with_warnings / failed.
func (c *Checker) SummaryStatus(results []Result) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults writes a human-readable report to the configured output.
func (c *Checker) PrintResults(results []Result) {
	fmt.Fprintln(c.output, "Environment Check")
	fmt.Fprintln(c.output, "=================")
	fmt.Fprintln(c.output)

	for _, r := range results {
		fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	fmt.Fprintln(c.output)
	fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var warnings, errs []string
	for _, r := range results {
		if r.IsCritical() {
			errs = append(errs, r.Name+": "+r.Message)
		} else if r.Status == StatusWarn {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}
	if len(errs) > 0 {
		fmt.Fprintln(c.output)
		fmt.Fprintf(c.output, "%d error(s):\n", len(errs))
		for _, e := range errs {
			fmt.Fprintf(c.output, "  - %s\n", e)
		}
	}
	if len(warnings) > 0 {
		fmt.Fprintln(c.output)
		fmt.Fprintf(c.output, "%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			fmt.Fprintf(c.output, "  - %s\n", w)
		}
	}
}

// CheckWritePermissions verifies the data directory is writable,
// creating it first if absent.
func (c *Checker) CheckWritePermissions(dataDir string) Result {
	result := Result{
		Name:     "write_permissions",
		Required: true,
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create data directory: %v", err)
		return result
	}

	testFile := filepath.Join(dataDir, ".preflight-write-test")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckNotesDir verifies the notes directory exists and counts its
// markdown files.
func (c *Checker) CheckNotesDir(notesDir string) Result {
	result := Result{
		Name:     "notes_dir",
		Required: true,
	}

	info, err := os.Stat(notesDir)
	if err != nil {
		if os.IsNotExist(err) {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("notes directory does not exist: %s", notesDir)
			result.Details = "Create it, or point notes_dir at your notes"
			return result
		}
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot access notes directory: %v", err)
		return result
	}
	if !info.IsDir() {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not a directory", notesDir)
		return result
	}

	count := 0
	_ = filepath.WalkDir(notesDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
			count++
		}
		return nil
	})

	if count == 0 {
		result.Status = StatusWarn
		result.Message = "no markdown files found"
		result.Details = fmt.Sprintf("Notes directory: %s", notesDir)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d markdown file(s)", count)
	result.Details = fmt.Sprintf("Notes directory: %s", notesDir)
	return result
}

// CheckEmbeddingService probes the Ollama endpoint. Non-critical since
// the static provider can serve instead.
func (c *Checker) CheckEmbeddingService(ctx context.Context) Result {
	result := Result{
		Name:     "embedding_service",
		Required: false,
	}

	if ok, detail := c.probe(ctx, c.ollamaHost+"/api/tags"); !ok {
		result.Status = StatusWarn
		result.Message = "Ollama unreachable (static embeddings will be used)"
		result.Details = detail
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("Ollama reachable at %s", c.ollamaHost)
	return result
}

// CheckRerankService probes the cross-encoder endpoint. Non-critical
// since search degrades to vector order without it.
func (c *Checker) CheckRerankService(ctx context.Context) Result {
	result := Result{
		Name:     "rerank_service",
		Required: false,
	}

	if ok, detail := c.probe(ctx, c.rerankEndpoint+"/health"); !ok {
		result.Status = StatusWarn
		result.Message = "reranker unreachable (results keep vector order)"
		result.Details = detail
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("reranker reachable at %s", c.rerankEndpoint)
	return result
}

// probe issues a GET and treats any 2xx-4xx answer as "service is up".
func (c *Checker) probe(ctx context.Context, url string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return false, fmt.Sprintf("status %d", resp.StatusCode)
	}
	return true, ""
}
