// ABOUTME: Tests for the run context manager
// ABOUTME: Covers initialization, environment exports, and result registration

package context

import (
	"os"
	"testing"

	"github.com/riffml/riff/internal/template"
	"github.com/riffml/riff/pkg/types"
)

func testProject() *types.Project {
	return &types.Project{
		Name:    "genre_classification",
		Version: "1.0",
		Mode:    types.ParallelMode,
		Environment: map[string]string{
			"TRACKING_PROJECT": `{{cfg "main.project_name"}}`,
		},
		Steps: []types.StepConfig{{ID: "download"}},
	}
}

func testConfig() map[string]interface{} {
	return map[string]interface{}{
		"main": map[string]interface{}{
			"project_name": "genre_classification",
		},
	}
}

func TestManager_Initialize(t *testing.T) {
	manager := New(template.New())

	if err := manager.Initialize(testProject(), testConfig(), nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ctx := manager.GetContext()

	// Project exports are rendered against the config tree
	if ctx.Environment["TRACKING_PROJECT"] != "genre_classification" {
		t.Errorf("Expected rendered export, got '%s'", ctx.Environment["TRACKING_PROJECT"])
	}

	project, ok := ctx.Metadata["project"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected project metadata, got %T", ctx.Metadata["project"])
	}
	if project["name"] != "genre_classification" {
		t.Errorf("Unexpected project metadata: %v", project)
	}
}

func TestManager_Initialize_SystemEnvironment(t *testing.T) {
	t.Setenv("RIFF_TEST_SYSENV", "from-system")

	manager := New(template.New())
	if err := manager.Initialize(testProject(), testConfig(), nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got := manager.GetEnvironment("RIFF_TEST_SYSENV", ""); got != "from-system" {
		t.Errorf("Expected system environment to be loaded, got '%s'", got)
	}
}

func TestManager_ProjectExports(t *testing.T) {
	t.Setenv("RIFF_TEST_AMBIENT", "from-system")

	manager := New(template.New())
	if err := manager.Initialize(testProject(), testConfig(), []string{"EXTRA=cli"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	exports := manager.ProjectExports()
	if exports["TRACKING_PROJECT"] != "genre_classification" {
		t.Errorf("Expected rendered export, got '%s'", exports["TRACKING_PROJECT"])
	}
	if exports["EXTRA"] != "cli" {
		t.Errorf("Expected CLI env var exported, got '%s'", exports["EXTRA"])
	}

	// Ambient system environment is not an export
	if _, found := exports["RIFF_TEST_AMBIENT"]; found {
		t.Error("Expected system environment to stay out of exports")
	}
}

func TestManager_Initialize_EnvVarOverrides(t *testing.T) {
	manager := New(template.New())

	err := manager.Initialize(testProject(), testConfig(), []string{"TRACKING_PROJECT=cli_wins"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got := manager.GetEnvironment("TRACKING_PROJECT", ""); got != "cli_wins" {
		t.Errorf("Expected CLI override to win, got '%s'", got)
	}
}

func TestManager_Initialize_InvalidEnvVar(t *testing.T) {
	manager := New(template.New())

	if err := manager.Initialize(testProject(), testConfig(), []string{"not_an_assignment"}); err == nil {
		t.Fatal("Expected error for malformed env var")
	}
}

func TestManager_GetEnvironment_Fallbacks(t *testing.T) {
	manager := New(template.New())
	_ = manager.Initialize(testProject(), testConfig(), nil)

	if got := manager.GetEnvironment("RIFF_TEST_NOT_SET_ANYWHERE", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback, got '%s'", got)
	}

	os.Setenv("RIFF_TEST_OS_ONLY", "os-value")
	defer os.Unsetenv("RIFF_TEST_OS_ONLY")
	if got := manager.GetEnvironment("RIFF_TEST_OS_ONLY", ""); got != "os-value" {
		t.Errorf("Expected OS value, got '%s'", got)
	}
}

func TestManager_SetEnvironment_Evaluated(t *testing.T) {
	manager := New(template.New())
	_ = manager.Initialize(testProject(), testConfig(), nil)

	if err := manager.SetEnvironment("EXPORTED", `{{cfg "main.project_name"}}`); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got := manager.GetEnvironment("EXPORTED", ""); got != "genre_classification" {
		t.Errorf("Expected evaluated value, got '%s'", got)
	}
}

func TestManager_RegisterStepResult(t *testing.T) {
	manager := New(template.New())
	_ = manager.Initialize(testProject(), testConfig(), nil)

	result := &types.StepResult{ID: "download", Status: types.StepSuccess}
	if err := manager.RegisterStepResult(result); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	got, err := manager.GetStepResult("download")
	if err != nil {
		t.Fatalf("Expected result, got: %v", err)
	}
	if got.Status != types.StepSuccess {
		t.Errorf("Unexpected status: %s", got.Status)
	}

	if err := manager.RegisterStepResult(&types.StepResult{}); err == nil {
		t.Error("Expected error for result without ID")
	}
	if _, err := manager.GetStepResult("missing"); err == nil {
		t.Error("Expected error for unknown step result")
	}
}

func TestManager_RegisterArtifact(t *testing.T) {
	manager := New(template.New())
	_ = manager.Initialize(testProject(), testConfig(), nil)

	manager.RegisterArtifact(&types.ArtifactRef{Name: "raw_data", Version: 1})
	manager.RegisterArtifact(&types.ArtifactRef{Name: "raw_data", Version: 2})

	ref := manager.GetContext().Artifacts["raw_data"]
	if ref == nil || ref.Version != 2 {
		t.Errorf("Expected latest artifact version 2, got %+v", ref)
	}
}

func TestManager_EvaluateParameters(t *testing.T) {
	manager := New(template.New())
	_ = manager.Initialize(testProject(), testConfig(), nil)

	params, err := manager.EvaluateParameters(map[string]string{
		"project": `{{cfg "main.project_name"}}`,
		"literal": "raw_data:latest",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if params["project"] != "genre_classification" {
		t.Errorf("Expected rendered parameter, got '%s'", params["project"])
	}
	// Artifact references without template syntax pass through untouched
	if params["literal"] != "raw_data:latest" {
		t.Errorf("Expected literal passthrough, got '%s'", params["literal"])
	}
}
