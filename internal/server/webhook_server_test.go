// ABOUTME: Tests for the webhook server endpoints
// ABOUTME: Covers request validation, health, run tracking, and execution

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/riffml/riff/internal/orchestrator"
)

func newTestServer(t *testing.T) *WebhookServer {
	t.Helper()

	orch, err := orchestrator.New(&orchestrator.Config{})
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	return New(&Config{Port: 0, Orchestrator: orch})
}

func TestWebhookServer_HandleHealth(t *testing.T) {
	ws := newTestServer(t)

	recorder := httptest.NewRecorder()
	ws.handleHealth(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Unexpected status: %v", body["status"])
	}
}

func TestWebhookServer_HandleRun_RejectsBadRequests(t *testing.T) {
	ws := newTestServer(t)

	tests := []struct {
		name   string
		method string
		body   string
		code   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"invalid json", http.MethodPost, "{not json", http.StatusBadRequest},
		{"missing project", http.MethodPost, "{}", http.StatusBadRequest},
		{"version on local path", http.MethodPost, `{"project": "./local", "version": "v1.0.1"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(tt.method, "/run", strings.NewReader(tt.body))
		ws.handleRun(recorder, request)

		if recorder.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.code, recorder.Code)
		}
	}
}

func TestWebhookServer_HandleRun_AcceptsAndTracks(t *testing.T) {
	ws := newTestServer(t)

	projectDir := writeServerTestProject(t)
	body := `{"project": "` + projectDir + `"}`

	recorder := httptest.NewRecorder()
	ws.handleRun(recorder, httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(body)))

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var response map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	runID, ok := response["run_id"].(string)
	if !ok || runID == "" {
		t.Fatalf("Expected run_id in response, got %v", response)
	}

	// The run executes asynchronously; wait for it to finish
	deadline := time.Now().Add(10 * time.Second)
	for {
		ws.mu.RLock()
		run := ws.runs[runID]
		status := run.Status
		ws.mu.RUnlock()

		if status != "running" {
			if status != "completed" {
				t.Fatalf("Expected completed run, got '%s' (%s)", status, run.Error)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for run to finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Details endpoint returns the finished run
	recorder = httptest.NewRecorder()
	ws.handleRunDetails(recorder, httptest.NewRequest(http.MethodGet, "/runs/"+runID, nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200 for run details, got %d", recorder.Code)
	}
}

func TestWebhookServer_HandleRunDetails_NotFound(t *testing.T) {
	ws := newTestServer(t)

	recorder := httptest.NewRecorder()
	ws.handleRunDetails(recorder, httptest.NewRequest(http.MethodGet, "/runs/ghost", nil))

	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", recorder.Code)
	}
}

func TestWebhookServer_HandleStatus(t *testing.T) {
	ws := newTestServer(t)

	recorder := httptest.NewRecorder()
	ws.handleStatus(recorder, httptest.NewRequest(http.MethodGet, "/status", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}

	var body map[string]interface{}
	_ = json.Unmarshal(recorder.Body.Bytes(), &body)
	if body["status"] != "running" {
		t.Errorf("Unexpected status: %v", body["status"])
	}
}

// writeServerTestProject lays out a single-step project on disk
func writeServerTestProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"riff.yaml": `
name: webhook_test
steps:
  - id: hello
`,
		"config.yaml": "main: {}\n",
		"hello/step.yaml": `
name: hello
entry_points:
  main:
    command: "echo hello"
`,
	}

	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	return dir
}
