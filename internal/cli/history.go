// ABOUTME: History command for querying recorded pipeline runs
// ABOUTME: Provides list, show, and stats subcommands over the history store

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/riffml/riff/internal/history"
	"github.com/riffml/riff/pkg/types"
)

var (
	historyProject string
	historyStatus  string
	historyTrigger string
	historyLimit   int
	historyOffset  int
	historyPath    string
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query pipeline run history",
	Long: `Query the run history store. Records are kept per project under
.riff/history unless --history-dir points elsewhere (local path, s3://,
sftp://).

Examples:
  riff history list
  riff history list --project genre_classification --status failed
  riff history show 1b4e28ba-2fa1-11d2-883f-0016d3cca427
  riff history stats`,
}

// historyListCmd lists run summaries
var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	RunE:  listHistory,
}

// historyShowCmd shows a single run record
var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show the full record of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  showHistory,
}

// historyStatsCmd shows aggregate statistics
var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE:  showHistoryStats,
}

func openHistory() (*history.Store, error) {
	orch, err := newOrchestrator(true)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return orch.HistoryStore(historyPath)
}

func listHistory(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}

	summaries, err := store.List(&history.QueryOptions{
		Project:     historyProject,
		Status:      types.RunStatus(historyStatus),
		TriggerType: historyTrigger,
		Limit:       historyLimit,
		Offset:      historyOffset,
	})
	if err != nil {
		return fmt.Errorf("failed to list run history: %w", err)
	}

	if viper.GetString("format") == "json" {
		return json.NewEncoder(os.Stdout).Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run ID", "Project", "Status", "Started", "Duration", "Steps", "Trigger"})

	for _, summary := range summaries {
		t.AppendRow(table.Row{
			summary.ID,
			summary.Project,
			string(summary.Status),
			summary.StartTime.Format(time.RFC3339),
			summary.Duration.Round(time.Millisecond),
			fmt.Sprintf("%d (%d ok, %d failed)", summary.StepCount, summary.SuccessSteps, summary.FailedSteps),
			summary.TriggerType,
		})
	}

	t.Render()
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}

	record, err := store.Get(args[0])
	if err != nil {
		return err
	}

	if viper.GetString("format") == "json" {
		return json.NewEncoder(os.Stdout).Encode(record)
	}

	fmt.Printf("Run:      %s\n", record.ID)
	fmt.Printf("Project:  %s\n", record.Project)
	fmt.Printf("Status:   %s\n", record.Status)
	fmt.Printf("Started:  %s\n", record.StartTime.Format(time.RFC3339))
	fmt.Printf("Duration: %s\n", record.Duration.Round(time.Millisecond))
	fmt.Printf("Trigger:  %s\n", record.TriggerType)

	if len(record.Overrides) > 0 {
		fmt.Printf("Overrides:\n")
		for _, override := range record.Overrides {
			fmt.Printf("  -P %s\n", override)
		}
	}

	if record.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", record.ErrorMessage)
	}
	for _, msg := range record.ValidationErrors {
		fmt.Printf("Validation: %s\n", msg)
	}

	if len(record.StepResults) > 0 {
		ids := make([]string, 0, len(record.StepResults))
		for id := range record.StepResults {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		fmt.Printf("\nSteps:\n")
		for _, id := range ids {
			stepResult := record.StepResults[id]
			fmt.Printf("  %s: %s (%s)\n", id, stepResult.Status, stepResult.Duration.Round(time.Millisecond))
			if stepResult.Message != "" && stepResult.Status != types.StepSuccess {
				fmt.Printf("    %s\n", stepResult.Message)
			}
			for _, ref := range stepResult.Artifacts {
				fmt.Printf("    artifact: %s\n", ref)
			}
		}
	}

	return nil
}

func showHistoryStats(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}

	stats, err := store.Stats()
	if err != nil {
		return fmt.Errorf("failed to compute statistics: %w", err)
	}

	if viper.GetString("format") == "json" {
		return json.NewEncoder(os.Stdout).Encode(stats)
	}

	fmt.Printf("Total runs:       %d\n", stats.TotalRuns)
	fmt.Printf("Successful:       %d\n", stats.SuccessfulRuns)
	fmt.Printf("Partial:          %d\n", stats.PartialRuns)
	fmt.Printf("Failed:           %d\n", stats.FailedRuns)
	fmt.Printf("Success rate:     %.1f%%\n", stats.SuccessRate*100)
	fmt.Printf("Average duration: %s\n", stats.AverageDuration.Round(time.Millisecond))

	if stats.FirstRun != nil {
		fmt.Printf("First run:        %s\n", stats.FirstRun.Format(time.RFC3339))
	}
	if stats.LastRun != nil {
		fmt.Printf("Last run:         %s\n", stats.LastRun.Format(time.RFC3339))
	}

	if len(stats.ProjectCounts) > 0 {
		fmt.Printf("\nRuns per project:\n")
		projects := make([]string, 0, len(stats.ProjectCounts))
		for name := range stats.ProjectCounts {
			projects = append(projects, name)
		}
		sort.Strings(projects)
		for _, name := range projects {
			fmt.Printf("  %s: %d\n", name, stats.ProjectCounts[name])
		}
	}

	return nil
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyStatsCmd)

	historyCmd.PersistentFlags().StringVar(&historyPath, "project-dir", ".", "project directory whose history to query")
	historyListCmd.Flags().StringVar(&historyProject, "project", "", "filter by project name")
	historyListCmd.Flags().StringVar(&historyStatus, "status", "", "filter by run status (success, failed, partial_success)")
	historyListCmd.Flags().StringVar(&historyTrigger, "trigger", "", "filter by trigger type (manual, webhook)")
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to list")
	historyListCmd.Flags().IntVar(&historyOffset, "offset", 0, "runs to skip from the newest")
}
