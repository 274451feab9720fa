// ABOUTME: Artifacts command for inspecting the versioned artifact store
// ABOUTME: Lists artifact names, versions, producing steps, and paths

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var artifactsProjectDir string

// artifactsCmd represents the artifacts command
var artifactsCmd = &cobra.Command{
	Use:   "artifacts [name]",
	Short: "List artifacts recorded in the project's store",
	Long: `List artifacts published by pipeline runs. Without arguments every
artifact name is listed with its latest version; passing a name lists all
versions of that artifact.

Examples:
  riff artifacts
  riff artifacts model_export
  riff artifacts --project-dir ./my-pipeline --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: listArtifacts,
}

func listArtifacts(cmd *cobra.Command, args []string) error {
	orch, err := newOrchestrator(true)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	store, err := orch.ArtifactStore(artifactsProjectDir)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		versions := store.Versions(args[0])
		if len(versions) == 0 {
			return fmt.Errorf("no artifact named '%s' recorded", args[0])
		}

		if viper.GetString("format") == "json" {
			return json.NewEncoder(os.Stdout).Encode(versions)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Ref", "Type", "Step", "Run", "Created", "Path"})
		for _, ref := range versions {
			t.AppendRow(table.Row{
				ref.Ref(), ref.Type, ref.Step, ref.RunID,
				ref.CreatedAt.Format(time.RFC3339), ref.Path,
			})
		}
		t.Render()
		return nil
	}

	names := store.Names()
	if viper.GetString("format") == "json" {
		latest := make(map[string]interface{}, len(names))
		for _, name := range names {
			if ref, err := store.Latest(name); err == nil {
				latest[name] = ref
			}
		}
		return json.NewEncoder(os.Stdout).Encode(latest)
	}

	if len(names) == 0 {
		fmt.Println("No artifacts recorded")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Latest", "Type", "Step", "Created"})

	for _, name := range names {
		ref, err := store.Latest(name)
		if err != nil {
			continue
		}
		t.AppendRow(table.Row{
			name, ref.Ref(), ref.Type, ref.Step,
			ref.CreatedAt.Format(time.RFC3339),
		})
	}

	t.Render()
	return nil
}

func init() {
	rootCmd.AddCommand(artifactsCmd)

	artifactsCmd.Flags().StringVar(&artifactsProjectDir, "project-dir", ".", "project directory whose artifact store to inspect")
}
