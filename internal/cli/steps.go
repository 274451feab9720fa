// ABOUTME: Steps command for inspecting project step configuration
// ABOUTME: Lists steps, entry points, parameters, and declared outputs

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/riffml/riff/pkg/types"
)

// stepsCmd represents the steps command
var stepsCmd = &cobra.Command{
	Use:   "steps [path]",
	Short: "List the steps of a pipeline project",
	Long: `Parse the project manifest and each step manifest, then list the steps
with their entry points, parameters, dependencies, and declared outputs.

Examples:
  riff steps .
  riff steps ./my-pipeline --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: listSteps,
}

// stepInfo is the JSON shape for a single listed step
type stepInfo struct {
	ID         string   `json:"id"`
	EntryPoint string   `json:"entry_point"`
	Command    string   `json:"command,omitempty"`
	Parameters []string `json:"parameters,omitempty"`
	DependsOn  []string `json:"depends_on,omitempty"`
	Outputs    []string `json:"outputs,omitempty"`
	Required   bool     `json:"required"`
}

func listSteps(cmd *cobra.Command, args []string) error {
	projectDir := "."
	if len(args) > 0 {
		projectDir = args[0]
	}

	orch, err := newOrchestrator(true)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	project, err := orch.ParseProject(projectDir)
	if err != nil {
		return fmt.Errorf("failed to parse project: %w", err)
	}

	infos := make([]*stepInfo, 0, len(project.Steps))
	for i := range project.Steps {
		stepConfig := &project.Steps[i]

		info := &stepInfo{
			ID:         stepConfig.ID,
			EntryPoint: stepConfig.EntryPoint,
			DependsOn:  stepConfig.DependsOn,
			Required:   stepConfig.IsRequired(),
		}

		for _, output := range stepConfig.Outputs {
			info.Outputs = append(info.Outputs, output.Name)
		}

		// Step manifests may be absent for unvalidated projects; the listing
		// still shows the project-side configuration
		if manifest, err := orch.StepManifest(projectDir, stepConfig); err == nil {
			if entry, ok := manifest.EntryPoints[stepConfig.EntryPoint]; ok {
				info.Command = entry.Command
				info.Parameters = parameterNames(entry.Parameters)
			}
		}

		infos = append(infos, info)
	}

	if viper.GetString("format") == "json" {
		return json.NewEncoder(os.Stdout).Encode(infos)
	}

	fmt.Printf("Pipeline: %s (mode: %s)\n\n", project.Name, project.Mode)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Step", "Entry Point", "Depends On", "Outputs", "Parameters"})

	for _, info := range infos {
		t.AppendRow(table.Row{
			info.ID,
			info.EntryPoint,
			strings.Join(info.DependsOn, ", "),
			strings.Join(info.Outputs, ", "),
			strings.Join(info.Parameters, ", "),
		})
	}

	t.Render()
	return nil
}

// parameterNames lists entry point parameters, marking defaulted ones
func parameterNames(params map[string]types.ParameterSpec) []string {
	names := make([]string, 0, len(params))
	for name, spec := range params {
		if spec.HasDefault() {
			name += "*"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	rootCmd.AddCommand(stepsCmd)
}
