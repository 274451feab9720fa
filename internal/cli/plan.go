// ABOUTME: Plan command for showing pipeline execution plans
// ABOUTME: Resolves dependencies and renders commands without running steps

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/riffml/riff/internal/orchestrator"
)

var planVersion string
var planOverrides []string

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan [path or url]",
	Short: "Show the pipeline execution plan without running it",
	Long: `Resolve the pipeline's dependency graph and show the layered execution
plan, including the command each step would run. No steps are executed and
no artifacts are published.

Steps in the same layer have no dependencies on each other and run in
parallel when the project mode allows it.

Examples:
  riff plan .
  riff plan . -P main.execute_steps=download,preprocess
  riff plan -v 1.0.1 https://github.com/org/pipeline.git`,
	Args: cobra.ExactArgs(1),
	RunE: showPlan,
}

func showPlan(cmd *cobra.Command, args []string) error {
	orch, err := newOrchestrator(true)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	target := orchestrator.Target{
		Path:    args[0],
		Version: planVersion,
	}

	ctx := context.Background()
	plan, err := orch.Plan(ctx, target, planOverrides)
	if err != nil {
		return fmt.Errorf("failed to build execution plan: %w", err)
	}

	if viper.GetString("format") == "json" {
		return json.NewEncoder(os.Stdout).Encode(plan)
	}

	printPlan(plan)
	return nil
}

// printPlan renders the execution plan as layered tables
func printPlan(plan *orchestrator.ExecutionPlan) {
	fmt.Printf("Pipeline: %s (mode: %s)\n", plan.Project.Name, plan.Project.Mode)
	if len(plan.Selection) > 0 {
		fmt.Printf("Selected steps: %v\n", plan.Selection)
	}

	selected := make(map[string]bool, len(plan.Selection))
	for _, id := range plan.Selection {
		selected[id] = true
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Layer", "Step", "Run", "Command"})

	for _, layer := range plan.Layers {
		ids := make([]string, 0, len(layer.Steps))
		for _, node := range layer.Steps {
			ids = append(ids, node.Step.ID)
		}
		sort.Strings(ids)

		for _, id := range ids {
			willRun := "yes"
			if plan.Selection != nil && !selected[id] {
				willRun = "skip"
			}
			t.AppendRow(table.Row{layer.LayerNumber, id, willRun, plan.Commands[id]})
		}
		t.AppendSeparator()
	}

	fmt.Println()
	t.Render()

	if stats := plan.Stats; stats != nil {
		fmt.Printf("\nTotal steps: %v, layers: %v, max parallelism: %v\n",
			stats["total_steps"], stats["layers"], stats["max_parallelism"])
	}
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVarP(&planVersion, "version", "v", "", "version tag for remote project repositories")
	planCmd.Flags().StringArrayVarP(&planOverrides, "param", "P", []string{}, "override config values (dotted.key=value)")
}
