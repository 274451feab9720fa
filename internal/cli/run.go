// ABOUTME: Run command for executing pipelines
// ABOUTME: Implements the primary pipeline execution functionality

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/riffml/riff/internal/orchestrator"
	"github.com/riffml/riff/pkg/types"
)

var (
	runVersion   string
	runOverrides []string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [path or url]",
	Short: "Execute a pipeline",
	Long: `Execute the pipeline described by a riff.yaml project manifest. The
project is parsed, validated, and executed according to its configuration.

The target may be a local directory or a remote git repository URL. Remote
targets are cloned into a local cache; pass --version to run a tagged
release snapshot.

Configuration values can be overridden with -P using dotted keys. A single
-P value may carry several space-separated assignments.

Examples:
  riff run .
  riff run ./my-pipeline -P main.project_name=experiment_42
  riff run . -P "main.execute_steps=download,preprocess random_forest.n_estimators=200"
  riff run -v 1.0.1 https://github.com/org/pipeline.git`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
	orch, err := newOrchestrator(false)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	target := orchestrator.Target{
		Path:    args[0],
		Version: runVersion,
	}

	ctx := context.Background()
	result, err := orch.Run(ctx, target, runOverrides, "manual")
	if err != nil {
		return fmt.Errorf("failed to execute pipeline: %w", err)
	}

	if err := displayResult(result); err != nil {
		return fmt.Errorf("failed to display results: %w", err)
	}

	// Exit with error code if the pipeline failed
	if result.HasErrors() {
		os.Exit(1)
	}

	return nil
}

// newOrchestrator builds an orchestrator from the global flags
func newOrchestrator(dryRun bool) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(&orchestrator.Config{
		DryRun:         dryRun,
		MaxConcurrency: viper.GetInt("max-concurrency"),
		Logger:         GetLogger(),
		Verbose:        verboseMode,
		HistoryDir:     viper.GetString("history-dir"),
		ArtifactDir:    viper.GetString("artifact-dir"),
		CacheDir:       viper.GetString("cache-dir"),
	})
}

// displayResult displays pipeline execution results
func displayResult(result *types.Result) error {
	if viper.GetString("format") == "json" {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	if result.FetchError != nil {
		fmt.Fprintf(os.Stderr, "❌ Fetch Error: %s\n", result.FetchError)
		return nil
	}

	if result.ParseError != nil {
		fmt.Fprintf(os.Stderr, "❌ Parse Error: %s\n", result.ParseError)
		return nil
	}

	if result.ConfigError != nil {
		fmt.Fprintf(os.Stderr, "❌ Config Error: %s\n", result.ConfigError)
		return nil
	}

	if result.DependencyError != nil {
		fmt.Fprintf(os.Stderr, "❌ Dependency Error: %s\n", result.DependencyError)
		return nil
	}

	if len(result.ValidationErrors) > 0 {
		fmt.Fprintf(os.Stderr, "❌ Validation Errors:\n")
		for _, err := range result.ValidationErrors {
			fmt.Fprintf(os.Stderr, "  - %s\n", err)
		}
		return nil
	}

	if result.ExecutionError != nil {
		fmt.Fprintf(os.Stderr, "❌ Execution Error: %s\n", result.ExecutionError)
	}

	if result.RunResult != nil {
		printRunResult(result.RunResult)
	}

	return nil
}

// printRunResult prints a pipeline execution summary
func printRunResult(rr *types.RunResult) {
	statusIcon := "✅"
	if rr.Status != types.RunSuccess {
		statusIcon = "❌"
	}
	if rr.Status == types.RunPartialSuccess {
		statusIcon = "⏭️"
	}

	fmt.Printf("\n%s Pipeline: %s\n", statusIcon, rr.Project)
	fmt.Printf("   Status: %s\n", rr.Status)
	fmt.Printf("   Duration: %s\n", rr.Duration)
	fmt.Printf("   Steps: %d\n", len(rr.Steps))

	if len(rr.Steps) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Step", "Status", "Duration", "Artifacts"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Status", Transformer: statusColor},
	})

	for _, id := range sortedStepIDs(rr.Steps) {
		stepResult := rr.Steps[id]
		t.AppendRow(table.Row{
			id,
			string(stepResult.Status),
			stepResult.Duration.Round(time.Millisecond),
			len(stepResult.Artifacts),
		})
	}

	fmt.Println()
	t.Render()

	for _, id := range sortedStepIDs(rr.Steps) {
		stepResult := rr.Steps[id]
		if stepResult.Status == types.StepFailed {
			fmt.Printf("\nStep '%s' failed: %s\n", id, stepResult.Message)
			if stepResult.Stderr != "" && verboseMode {
				fmt.Printf("%s\n", stepResult.Stderr)
			}
		}
		if stepResult.Status == types.StepSkipped && verboseMode {
			fmt.Printf("\nStep '%s' skipped: %s\n", id, stepResult.Message)
		}
	}
}

// statusColor colorizes step status cells
func statusColor(val interface{}) string {
	status, ok := val.(string)
	if !ok {
		return fmt.Sprint(val)
	}

	switch types.StepStatus(status) {
	case types.StepSuccess:
		return text.FgGreen.Sprint(status)
	case types.StepFailed:
		return text.FgRed.Sprint(status)
	case types.StepSkipped:
		return text.FgYellow.Sprint(status)
	default:
		return status
	}
}

// sortedStepIDs returns step IDs in stable order
func sortedStepIDs(steps map[string]*types.StepResult) []string {
	ids := make([]string, 0, len(steps))
	for id := range steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runVersion, "version", "v", "", "version tag for remote project repositories")
	runCmd.Flags().StringArrayVarP(&runOverrides, "param", "P", []string{}, "override config values (dotted.key=value)")
}
