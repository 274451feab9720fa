// ABOUTME: HTTP server for triggering pipeline runs remotely
// ABOUTME: Provides REST API endpoints for webhook-driven pipeline execution

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/riffml/riff/internal/fetch"
	"github.com/riffml/riff/internal/orchestrator"
	"github.com/riffml/riff/pkg/types"
)

// WebhookServer handles HTTP run requests and triggers pipeline execution
type WebhookServer struct {
	orchestrator *orchestrator.Orchestrator
	server       *http.Server
	projectDir   string
	logger       types.Logger
	startTime    time.Time
	mu           sync.RWMutex
	runs         map[string]*RunStatus
}

// Config holds webhook server configuration
type Config struct {
	Port         int
	ProjectDir   string // Base directory for relative project paths
	Logger       types.Logger
	Orchestrator *orchestrator.Orchestrator
}

// RunRequest represents an incoming run request payload
type RunRequest struct {
	Project   string            `json:"project"`             // Local path or repository URL
	Version   string            `json:"version,omitempty"`   // Tag for remote projects
	Overrides []string          `json:"overrides,omitempty"` // key=value config overrides
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RunStatus tracks the state of a triggered run
type RunStatus struct {
	ID        string         `json:"id"`
	Project   string         `json:"project"`
	Version   string         `json:"version,omitempty"`
	Status    string         `json:"status"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Duration  *time.Duration `json:"duration,omitempty"`
	Result    *types.Result  `json:"result,omitempty"`
	Request   *RunRequest    `json:"request,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// New creates a new webhook server
func New(config *Config) *WebhookServer {
	if config.Port == 0 {
		config.Port = 8080
	}

	ws := &WebhookServer{
		orchestrator: config.Orchestrator,
		projectDir:   config.ProjectDir,
		logger:       config.Logger,
		startTime:    time.Now(),
		runs:         make(map[string]*RunStatus),
	}

	mux := http.NewServeMux()

	// Trigger endpoints
	mux.HandleFunc("/run", ws.handleRun)

	// Status and management endpoints
	mux.HandleFunc("/status", ws.handleStatus)
	mux.HandleFunc("/runs", ws.handleRuns)
	mux.HandleFunc("/runs/", ws.handleRunDetails)
	mux.HandleFunc("/health", ws.handleHealth)

	ws.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return ws
}

// Start starts the webhook server
func (ws *WebhookServer) Start() error {
	ws.logf("Starting webhook server on port %s", strings.TrimPrefix(ws.server.Addr, ":"))
	return ws.server.ListenAndServe()
}

// Stop stops the webhook server
func (ws *WebhookServer) Stop(ctx context.Context) error {
	ws.logf("Stopping webhook server")
	return ws.server.Shutdown(ctx)
}

// handleRun accepts a run request and starts the pipeline asynchronously
func (ws *WebhookServer) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ws.logf("Failed to read run request body: %v", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var request RunRequest
	if err := json.Unmarshal(body, &request); err != nil {
		ws.logf("Failed to parse run request: %v", err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	if request.Project == "" {
		http.Error(w, "Missing project path or URL", http.StatusBadRequest)
		return
	}

	if request.Version != "" && !fetch.IsRemote(request.Project) {
		http.Error(w, "Version tags require a remote repository URL", http.StatusBadRequest)
		return
	}

	runID := ws.startRun(&request)

	response := map[string]interface{}{
		"status":  "accepted",
		"run_id":  runID,
		"project": request.Project,
		"message": "Run request received, pipeline execution started",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(response)
}

// handleStatus returns server status information
func (ws *WebhookServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ws.mu.RLock()
	runCount := len(ws.runs)
	activeCount := 0
	for _, run := range ws.runs {
		if run.Status == "running" {
			activeCount++
		}
	}
	ws.mu.RUnlock()

	status := map[string]interface{}{
		"status":      "running",
		"runs":        runCount,
		"active_runs": activeCount,
		"uptime":      time.Since(ws.startTime).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// handleRuns returns the list of triggered runs
func (ws *WebhookServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	ws.mu.RLock()
	runs := make([]*RunStatus, 0, len(ws.runs))
	for _, run := range ws.runs {
		runs = append(runs, run)
	}
	ws.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(runs)
}

// handleRunDetails returns details for a specific run
func (ws *WebhookServer) handleRunDetails(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/runs/")
	runID := strings.Split(path, "/")[0]

	if runID == "" {
		http.Error(w, "Missing run ID", http.StatusBadRequest)
		return
	}

	ws.mu.RLock()
	run, exists := ws.runs[runID]
	ws.mu.RUnlock()

	if !exists {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(run)
}

// handleHealth returns health status
func (ws *WebhookServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

// startRun registers a run and executes it in the background
func (ws *WebhookServer) startRun(request *RunRequest) string {
	runID := fmt.Sprintf("run_%d", time.Now().UnixNano())

	run := &RunStatus{
		ID:        runID,
		Project:   request.Project,
		Version:   request.Version,
		Status:    "running",
		StartTime: time.Now(),
		Request:   request,
	}

	ws.mu.Lock()
	ws.runs[runID] = run
	ws.mu.Unlock()

	go ws.executeRun(runID, request)

	return runID
}

// executeRun runs the pipeline for a triggered request
func (ws *WebhookServer) executeRun(runID string, request *RunRequest) {
	ws.logf("Starting run %s for project %s", runID, request.Project)

	target := orchestrator.Target{
		Path:    ws.resolveProject(request.Project),
		Version: request.Version,
	}

	ctx := context.Background()
	result, err := ws.orchestrator.Run(ctx, target, request.Overrides, "webhook")

	switch {
	case err != nil:
		ws.finishRun(runID, "failed", nil, err)
	case result.HasErrors():
		ws.finishRun(runID, "failed", result, runError(result))
	case result.RunResult != nil && result.RunResult.Status == types.RunFailed:
		ws.finishRun(runID, "failed", result, fmt.Errorf("pipeline failed"))
	default:
		ws.finishRun(runID, "completed", result, nil)
	}
}

// resolveProject anchors relative local paths at the configured base directory
func (ws *WebhookServer) resolveProject(project string) string {
	if fetch.IsRemote(project) || filepath.IsAbs(project) || ws.projectDir == "" {
		return project
	}
	return filepath.Join(ws.projectDir, project)
}

// finishRun records the outcome of a run
func (ws *WebhookServer) finishRun(runID, status string, result *types.Result, err error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	run, exists := ws.runs[runID]
	if !exists {
		return
	}

	now := time.Now()
	duration := now.Sub(run.StartTime)

	run.Status = status
	run.EndTime = &now
	run.Duration = &duration
	run.Result = result

	if err != nil {
		run.Error = err.Error()
		ws.logf("Run %s failed: %v", runID, err)
	} else {
		ws.logf("Run %s completed successfully", runID)
	}
}

// runError extracts the first recorded phase error from a result
func runError(result *types.Result) error {
	switch {
	case result.FetchError != nil:
		return result.FetchError
	case result.ParseError != nil:
		return result.ParseError
	case result.ConfigError != nil:
		return result.ConfigError
	case result.DependencyError != nil:
		return result.DependencyError
	case result.ExecutionError != nil:
		return result.ExecutionError
	case len(result.ValidationErrors) > 0:
		return result.ValidationErrors[0]
	}
	return fmt.Errorf("run failed")
}

// logf logs a formatted message if logger is available
func (ws *WebhookServer) logf(format string, args ...interface{}) {
	if ws.logger != nil {
		ws.logger.Info().Msgf(format, args...)
	}
}
