// ABOUTME: Tests for the pipeline executor
// ABOUTME: Covers layered execution, selection, dry runs, retries, and artifacts

package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/riffml/riff/internal/artifacts"
	"github.com/riffml/riff/internal/config"
	contextManager "github.com/riffml/riff/internal/context"
	"github.com/riffml/riff/internal/pipeline"
	"github.com/riffml/riff/internal/template"
	"github.com/riffml/riff/pkg/types"
)

// testSpec builds a run spec with simple echo-style manifests for each step
func testSpec(t *testing.T, project *types.Project, commands map[string]string, configYAML string) (*RunSpec, *pipeline.Resolver, *contextManager.Manager) {
	t.Helper()

	cfg, err := config.Parse([]byte(configYAML))
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	manifests := make(map[string]*types.StepManifest, len(project.Steps))
	for i := range project.Steps {
		stepConfig := &project.Steps[i]
		if stepConfig.EntryPoint == "" {
			stepConfig.EntryPoint = "main"
		}
		if stepConfig.Dir == "" {
			stepConfig.Dir = "."
		}

		params := make(map[string]types.ParameterSpec, len(stepConfig.Parameters))
		for name := range stepConfig.Parameters {
			params[name] = types.ParameterSpec{Type: "str"}
		}
		manifests[stepConfig.ID] = &types.StepManifest{
			Name: stepConfig.ID,
			EntryPoints: map[string]types.EntryPoint{
				stepConfig.EntryPoint: {Command: commands[stepConfig.ID], Parameters: params},
			},
		}
	}

	engine := template.New()
	cm := contextManager.New(engine)
	if err := cm.Initialize(project, cfg.Tree(), nil); err != nil {
		t.Fatalf("Failed to initialize context: %v", err)
	}

	resolver := pipeline.New()
	if err := resolver.BuildGraph(project.Steps); err != nil {
		t.Fatalf("Failed to build graph: %v", err)
	}

	return &RunSpec{
		Project:    project,
		ProjectDir: t.TempDir(),
		Config:     cfg,
		Manifests:  manifests,
		RunID:      "test-run",
	}, resolver, cm
}

func TestExecutor_ExecuteRun_Success(t *testing.T) {
	project := &types.Project{
		Name: "test",
		Mode: types.ParallelMode,
		Steps: []types.StepConfig{
			{ID: "download"},
			{ID: "preprocess", DependsOn: []string{"download"}},
		},
	}
	spec, resolver, cm := testSpec(t, project, map[string]string{
		"download":   "echo downloading",
		"preprocess": "echo preprocessing",
	}, "main:\n  project_name: test\n")

	exec, err := New(cm, &Config{})
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	result, err := exec.ExecuteRun(context.Background(), spec, resolver)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.Status != types.RunSuccess {
		t.Errorf("Expected success, got %s", result.Status)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("Expected 2 step results, got %d", len(result.Steps))
	}
	if !strings.Contains(result.Steps["download"].Stdout, "downloading") {
		t.Errorf("Unexpected stdout: '%s'", result.Steps["download"].Stdout)
	}

	// Results are registered for later template lookups
	if _, err := cm.GetStepResult("preprocess"); err != nil {
		t.Errorf("Expected registered step result: %v", err)
	}
}

func TestExecutor_ExecuteRun_Selection(t *testing.T) {
	project := &types.Project{
		Name: "test",
		Steps: []types.StepConfig{
			{ID: "download"},
			{ID: "evaluate"},
		},
	}
	spec, resolver, cm := testSpec(t, project, map[string]string{
		"download": "echo d",
		"evaluate": "echo e",
	}, "main: {}\n")
	spec.Selection = []string{"download"}

	exec, _ := New(cm, &Config{})
	result, err := exec.ExecuteRun(context.Background(), spec, resolver)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.Steps["evaluate"].Status != types.StepSkipped {
		t.Errorf("Expected unselected step to be skipped, got %s", result.Steps["evaluate"].Status)
	}
	if result.Steps["download"].Status != types.StepSuccess {
		t.Errorf("Expected selected step to run, got %s", result.Steps["download"].Status)
	}
	if result.Status != types.RunPartialSuccess {
		t.Errorf("Expected partial success, got %s", result.Status)
	}
}

func TestExecutor_ExecuteRun_DryRun(t *testing.T) {
	project := &types.Project{
		Name: "test",
		Steps: []types.StepConfig{
			{ID: "download", Parameters: map[string]string{"artifact_name": "raw_data"}},
		},
	}
	spec, resolver, cm := testSpec(t, project, map[string]string{
		"download": "echo {{.artifact_name}}",
	}, "main: {}\n")

	exec, _ := New(cm, &Config{DryRun: true})
	result, err := exec.ExecuteRun(context.Background(), spec, resolver)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	stepResult := result.Steps["download"]
	if stepResult.Status != types.StepSkipped {
		t.Errorf("Expected dry-run skip, got %s", stepResult.Status)
	}
	if stepResult.Command != "echo raw_data" {
		t.Errorf("Expected rendered command in dry run, got '%s'", stepResult.Command)
	}
}

func TestExecutor_ExecuteRun_RequiredStepFails(t *testing.T) {
	project := &types.Project{
		Name: "test",
		Mode: types.SequentialMode,
		Steps: []types.StepConfig{
			{ID: "broken"},
			{ID: "after", DependsOn: []string{"broken"}},
		},
	}
	spec, resolver, cm := testSpec(t, project, map[string]string{
		"broken": "exit 2",
		"after":  "echo never",
	}, "main: {}\n")

	exec, _ := New(cm, &Config{})
	result, err := exec.ExecuteRun(context.Background(), spec, resolver)

	if err == nil {
		t.Fatal("Expected error for required step failure")
	}
	if result.Status != types.RunFailed {
		t.Errorf("Expected failed status, got %s", result.Status)
	}
	if _, ran := result.Steps["after"]; ran {
		t.Error("Expected downstream step not to run")
	}
}

func TestExecutor_ExecuteRun_OptionalStepFails(t *testing.T) {
	optional := false
	project := &types.Project{
		Name: "test",
		Steps: []types.StepConfig{
			{ID: "flaky", Required: &optional},
		},
	}
	spec, resolver, cm := testSpec(t, project, map[string]string{
		"flaky": "exit 1",
	}, "main: {}\n")

	exec, _ := New(cm, &Config{})
	result, err := exec.ExecuteRun(context.Background(), spec, resolver)

	if err != nil {
		t.Fatalf("Expected no error for optional failure, got: %v", err)
	}
	if result.Steps["flaky"].Status != types.StepFailed {
		t.Errorf("Expected failed step, got %s", result.Steps["flaky"].Status)
	}
	if result.Status != types.RunFailed {
		t.Errorf("Expected run marked failed, got %s", result.Status)
	}
}

func TestExecutor_ExecuteRun_Retries(t *testing.T) {
	project := &types.Project{
		Name: "test",
		Steps: []types.StepConfig{
			{ID: "flaky", RetryCount: 2, RetryDelay: time.Millisecond},
		},
	}
	spec, resolver, cm := testSpec(t, project, map[string]string{
		"flaky": "exit 1",
	}, "main: {}\n")

	exec, _ := New(cm, &Config{})
	result, _ := exec.ExecuteRun(context.Background(), spec, resolver)

	if result.Steps["flaky"].AttemptCount != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Steps["flaky"].AttemptCount)
	}
}

func TestExecutor_ExecuteRun_PublishesArtifacts(t *testing.T) {
	project := &types.Project{
		Name: "test",
		Steps: []types.StepConfig{
			{
				ID: "download",
				Outputs: []types.ArtifactSpec{
					{Name: "raw_data", Type: "raw_data", Path: "data/raw.parquet"},
				},
			},
		},
	}
	spec, resolver, cm := testSpec(t, project, map[string]string{
		"download": "echo done",
	}, "main: {}\n")

	store, err := artifacts.Open(afero.NewMemMapFs(), "/store")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	exec, _ := New(cm, &Config{})
	exec.SetPublisher(store)

	result, err := exec.ExecuteRun(context.Background(), spec, resolver)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	stepResult := result.Steps["download"]
	if len(stepResult.Artifacts) != 1 || stepResult.Artifacts[0] != "raw_data:v1" {
		t.Errorf("Expected published ref 'raw_data:v1', got %v", stepResult.Artifacts)
	}

	ref, err := store.Latest("raw_data")
	if err != nil {
		t.Fatalf("Expected stored artifact: %v", err)
	}
	if ref.Step != "download" || ref.RunID != "test-run" {
		t.Errorf("Unexpected provenance: %+v", ref)
	}

	// The context exposes the artifact for later template lookups
	if cm.GetContext().Artifacts["raw_data"] == nil {
		t.Error("Expected artifact registered in run context")
	}
}

func TestExecutor_ExecuteRun_MaterializesConfigSection(t *testing.T) {
	project := &types.Project{
		Name: "test",
		Steps: []types.StepConfig{
			{
				ID:          "train",
				Materialize: &types.MaterializeSpec{Section: "random_forest", Param: "model_config"},
			},
		},
	}
	spec, resolver, cm := testSpec(t, project, map[string]string{
		"train": "cat {{.model_config}}",
	}, "random_forest:\n  n_estimators: 100\n")

	// The materialized parameter must be declared on the entry point
	manifest := spec.Manifests["train"]
	entry := manifest.EntryPoints["main"]
	entry.Parameters = map[string]types.ParameterSpec{"model_config": {Type: "path"}}
	manifest.EntryPoints["main"] = entry

	exec, _ := New(cm, &Config{})
	result, err := exec.ExecuteRun(context.Background(), spec, resolver)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	stepResult := result.Steps["train"]
	if stepResult.Status != types.StepSuccess {
		t.Fatalf("Expected success, got %s: %s", stepResult.Status, stepResult.Message)
	}
	if !strings.Contains(stepResult.Stdout, "n_estimators: 100") {
		t.Errorf("Expected materialized section contents, got '%s'", stepResult.Stdout)
	}
}

func TestExecutor_ExecuteRun_TrackingEnvironment(t *testing.T) {
	project := &types.Project{
		Name:  "test",
		Steps: []types.StepConfig{{ID: "probe"}},
	}
	spec, resolver, cm := testSpec(t, project, map[string]string{
		"probe": "echo $RIFF_TRACKING_PROJECT",
	}, "main: {}\n")
	spec.TrackingEnv = map[string]string{"RIFF_TRACKING_PROJECT": "genre_classification"}

	exec, _ := New(cm, &Config{})
	result, err := exec.ExecuteRun(context.Background(), spec, resolver)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(result.Steps["probe"].Stdout, "genre_classification") {
		t.Errorf("Expected tracking env injected, got '%s'", result.Steps["probe"].Stdout)
	}
}

func TestExecutor_ExecuteRun_ProjectEnvironmentExports(t *testing.T) {
	project := &types.Project{
		Name:  "test",
		Steps: []types.StepConfig{{ID: "announce"}},
		Environment: map[string]string{
			"EXPERIMENT": `{{cfg "main.project_name"}}`,
		},
	}
	spec, resolver, cm := testSpec(t, project, map[string]string{
		"announce": "echo export=[$EXPERIMENT]",
	}, "main:\n  project_name: genre_classification\n")

	exec, _ := New(cm, &Config{})
	result, err := exec.ExecuteRun(context.Background(), spec, resolver)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(result.Steps["announce"].Stdout, "export=[genre_classification]") {
		t.Errorf("Expected rendered project export in step env, got '%s'", result.Steps["announce"].Stdout)
	}
}

func TestExecutor_New_InvalidConcurrency(t *testing.T) {
	cm := contextManager.New(template.New())

	if _, err := New(cm, &Config{MaxConcurrency: 1000}); err == nil {
		t.Fatal("Expected error for out-of-range concurrency")
	}
}
