// Package lifecycle manages the local Ollama runtime so first-run
// setup needs no manual steps: detection, startup, and embedding model
// pulls.
package lifecycle

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	// DefaultHost is the default Ollama API endpoint.
	DefaultHost = "http://localhost:11434"

	// DefaultModel is the embedding model pulled during setup. Must
	// match the embed package default so setup prepares what indexing
	// will use.
	DefaultModel = "all-minilm"

	// StartupTimeout bounds how long to wait for Ollama to come up.
	StartupTimeout = 30 * time.Second

	// readyPollInterval is the initial WaitForReady poll interval;
	// backoff doubles it up to maxReadyPollInterval.
	readyPollInterval    = 100 * time.Millisecond
	maxReadyPollInterval = 2 * time.Second
)

// Manager handles Ollama lifecycle operations.
type Manager struct {
	host   string
	client *http.Client

	// Hooks for tests.
	execCommand func(name string, args ...string) *exec.Cmd
	lookPath    func(file string) (string, error)
	fileExists  func(path string) bool
}

// Status describes the observed state of the Ollama runtime.
type Status struct {
	Installed     bool
	InstalledPath string
	Running       bool
	Models        []string
	HasModel      bool
	TargetModel   string
}

// PullProgress is one update from a streaming model pull.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
	Percent   float64
}

// EnsureOpts configures EnsureReady.
type EnsureOpts struct {
	// AutoStart starts the Ollama server when installed but stopped.
	AutoStart bool

	// AutoPull downloads the target model when missing.
	AutoPull bool

	// ProgressFunc receives pull progress updates. Nil discards them.
	ProgressFunc func(PullProgress)

	// Out receives human-readable step messages. Nil discards them.
	Out io.Writer
}

// NewManager creates a manager for the given host. Empty uses the
// default endpoint; CONTEXT_SERVER_OLLAMA_HOST overrides both.
func NewManager(host string) *Manager {
	if host == "" {
		host = DefaultHost
	}
	if envHost := os.Getenv("CONTEXT_SERVER_OLLAMA_HOST"); envHost != "" {
		host = envHost
	}

	return &Manager{
		host: host,
		client: &http.Client{
			Timeout: 5 * time.Second, // health checks only
		},
		execCommand: exec.Command,
		lookPath:    exec.LookPath,
		fileExists:  fileExists,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Host returns the configured endpoint.
func (m *Manager) Host() string {
	return m.host
}

// IsRemoteHost reports whether the endpoint points off-machine, in
// which case start/install management does not apply.
func (m *Manager) IsRemoteHost() bool {
	return !strings.Contains(m.host, "localhost") && !strings.Contains(m.host, "127.0.0.1")
}

// IsInstalled checks for an Ollama installation on this machine.
func (m *Manager) IsInstalled() (bool, string) {
	if path, err := m.lookPath("ollama"); err == nil {
		return true, path
	}

	switch runtime.GOOS {
	case "darwin":
		for _, p := range []string{
			"/Applications/Ollama.app",
			filepath.Join(os.Getenv("HOME"), "Applications", "Ollama.app"),
		} {
			if m.fileExists(p) {
				return true, p
			}
		}
	case "linux":
		for _, p := range []string{
			"/usr/local/bin/ollama",
			"/usr/bin/ollama",
			filepath.Join(os.Getenv("HOME"), ".local", "bin", "ollama"),
		} {
			if m.fileExists(p) {
				return true, p
			}
		}
	}

	return false, ""
}

// IsRunning checks whether the Ollama API answers.
func (m *Manager) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// ListModels returns the models the Ollama instance has available.
func (m *Manager) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	models := make([]string, len(result.Models))
	for i, model := range result.Models {
		models[i] = model.Name
	}
	return models, nil
}

// HasModel checks whether a model (or its untagged base name) is
// available.
func (m *Manager) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := m.ListModels(ctx)
	if err != nil {
		return false, err
	}

	want := strings.ToLower(model)
	wantBase := strings.Split(want, ":")[0]
	for _, available := range models {
		got := strings.ToLower(available)
		if got == want || strings.Split(got, ":")[0] == wantBase {
			return true, nil
		}
	}
	return false, nil
}

// CheckStatus collects installation, server, and model state in one
// pass.
func (m *Manager) CheckStatus(ctx context.Context, targetModel string) *Status {
	if targetModel == "" {
		targetModel = DefaultModel
	}
	status := &Status{TargetModel: targetModel}

	status.Installed, status.InstalledPath = m.IsInstalled()
	status.Running = m.IsRunning()
	if !status.Running {
		return status
	}

	if models, err := m.ListModels(ctx); err == nil {
		status.Models = models
	}
	status.HasModel, _ = m.HasModel(ctx, targetModel)
	return status
}

// Start launches the Ollama server in the background. A no-op when it
// is already running.
func (m *Manager) Start() error {
	installed, path := m.IsInstalled()
	if !installed {
		return &NotInstalledError{}
	}
	if m.IsRunning() {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		// Prefer the app bundle; it manages its own background server.
		if strings.HasSuffix(path, ".app") || m.fileExists("/Applications/Ollama.app") {
			if err := m.execCommand("open", "-a", "Ollama").Start(); err != nil {
				return fmt.Errorf("open Ollama.app: %w", err)
			}
			return nil
		}
		return m.startServe(path)
	case "linux":
		if err := m.execCommand("systemctl", "is-active", "--quiet", "ollama").Run(); err == nil {
			if err := m.execCommand("systemctl", "start", "ollama").Run(); err == nil {
				return nil
			}
		}
		return m.startServe(path)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// startServe runs "ollama serve" detached.
func (m *Manager) startServe(path string) error {
	cmd := m.execCommand(path, "serve")
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ollama serve: %w", err)
	}
	// Reap in the background so the child never zombies.
	go func() { _ = cmd.Wait() }()
	return nil
}

// WaitForReady polls until the API answers or the timeout elapses.
func (m *Manager) WaitForReady(ctx context.Context, timeout time.Duration) error {
	if timeout == 0 {
		timeout = StartupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := readyPollInterval
	for {
		if m.IsRunning() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for Ollama to start: %w", ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
		if interval > maxReadyPollInterval {
			interval = maxReadyPollInterval
		}
	}
}

// PullModel downloads a model through the streaming pull API. A no-op
// when the model is already present.
func (m *Manager) PullModel(ctx context.Context, model string, progressFunc func(PullProgress)) error {
	hasModel, err := m.HasModel(ctx, model)
	if err != nil {
		return fmt.Errorf("check model: %w", err)
	}
	if hasModel {
		return nil
	}

	body, err := json.Marshal(struct {
		Name   string `json:"name"`
		Stream bool   `json:"stream"`
	}{Name: model, Stream: true})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.host+"/api/pull", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Pulls stream for minutes; no client timeout.
	pullClient := &http.Client{Timeout: 0}
	resp, err := pullClient.Do(req)
	if err != nil {
		return fmt.Errorf("start pull: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pull failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		var p struct {
			Status    string `json:"status"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
		}
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			continue // skip malformed lines
		}
		if progressFunc != nil {
			percent := 0.0
			if p.Total > 0 {
				percent = float64(p.Completed) / float64(p.Total) * 100
			}
			progressFunc(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
				Percent:   percent,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read pull response: %w", err)
	}
	return nil
}

// EnsureReady brings Ollama to a state where the embedding model can
// serve: installed, running, model present.
func (m *Manager) EnsureReady(ctx context.Context, model string, opts EnsureOpts) error {
	if model == "" {
		model = DefaultModel
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	installed, _ := m.IsInstalled()
	if !installed && !m.IsRemoteHost() {
		return &NotInstalledError{}
	}

	if !m.IsRunning() {
		if !opts.AutoStart || m.IsRemoteHost() {
			return &NotRunningError{Host: m.host}
		}
		fmt.Fprintln(out, "Ollama is installed but not running, starting it...")
		if err := m.Start(); err != nil {
			return fmt.Errorf("start Ollama: %w", err)
		}
		if err := m.WaitForReady(ctx, StartupTimeout); err != nil {
			return err
		}
		fmt.Fprintln(out, "Ollama started.")
	}

	hasModel, err := m.HasModel(ctx, model)
	if err != nil {
		return fmt.Errorf("check model: %w", err)
	}
	if !hasModel {
		if !opts.AutoPull {
			return &ModelNotFoundError{Model: model}
		}
		fmt.Fprintf(out, "Pulling embedding model %s...\n", model)
		if err := m.PullModel(ctx, model, opts.ProgressFunc); err != nil {
			return fmt.Errorf("pull model: %w", err)
		}
		fmt.Fprintf(out, "Model %s ready.\n", model)
	}

	return nil
}

// NotInstalledError indicates no Ollama installation was found.
type NotInstalledError struct{}

func (e *NotInstalledError) Error() string {
	return "ollama is not installed"
}

// NotRunningError indicates the Ollama server is not answering.
type NotRunningError struct {
	Host string
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("ollama is not running at %s", e.Host)
}

// ModelNotFoundError indicates the target model is not pulled.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %s is not available", e.Model)
}

// InstallInstructions returns platform-appropriate install guidance.
func InstallInstructions() string {
	switch runtime.GOOS {
	case "darwin":
		return "Install Ollama from https://ollama.com/download or with: brew install ollama"
	case "linux":
		return "Install Ollama with: curl -fsSL https://ollama.com/install.sh | sh"
	default:
		return "Install Ollama from https://ollama.com/download"
	}
}
