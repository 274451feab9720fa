// ABOUTME: Validate command for checking project structure
// ABOUTME: Parses manifests and resolves dependencies without executing steps

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/riffml/riff/internal/orchestrator"
)

var validateVersion string

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate [path or url]",
	Short: "Validate a pipeline project without executing it",
	Long: `Parse the project manifest, step manifests, and configuration, then
resolve the dependency graph. Reports structural problems such as unknown
dependencies, cycles, missing entry points, and invalid templates.

Examples:
  riff validate .
  riff validate ./my-pipeline
  riff validate -v 1.0.1 https://github.com/org/pipeline.git`,
	Args: cobra.ExactArgs(1),
	RunE: validateProject,
}

func validateProject(cmd *cobra.Command, args []string) error {
	orch, err := newOrchestrator(true)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	target := orchestrator.Target{
		Path:    args[0],
		Version: validateVersion,
	}

	ctx := context.Background()
	result, err := orch.Validate(ctx, target)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if result.HasErrors() {
		if err := displayResult(result); err != nil {
			return err
		}
		os.Exit(1)
	}

	fmt.Printf("✅ Project is valid\n")
	return nil
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateVersion, "version", "v", "", "version tag for remote project repositories")
}
