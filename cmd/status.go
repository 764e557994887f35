package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jrgochan/labctl/internal/engine"
	"github.com/jrgochan/labctl/internal/output"
	"github.com/jrgochan/labctl/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show module deployment state and health",
	Long: `Display the deployment record and live readiness of each module.

Examples:
  labctl status                      # All modules
  labctl status --module llamacpp    # One module
  labctl status --json               # Output as JSON
  labctl status --probe=false        # Records only, skip the cluster probe`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringSlice("module", nil, "modules to show (repeatable or comma separated)")
	statusCmd.Flags().Bool("json", false, "output as JSON")
	statusCmd.Flags().Bool("probe", true, "check live resource readiness")
	_ = statusCmd.RegisterFlagCompletionFunc("module", completeModuleNames)
}

func runStatus(cmd *cobra.Command, args []string) error {
	moduleFlags, _ := cmd.Flags().GetStringSlice("module")
	modules := splitModuleArgs(moduleFlags)
	jsonOutput, _ := cmd.Flags().GetBool("json")
	probe, _ := cmd.Flags().GetBool("probe")

	eng, err := newEngine()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	statuses, err := eng.Status(ctx, modules, probe)
	if err != nil {
		return cliError(err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}
	return printStatusTable(newPrinter(), statuses)
}

func printStatusTable(printer *output.Printer, statuses []engine.ModuleStatus) error {
	printer.Header("Module Status")

	table := output.NewQuietTable([]string{"MODULE", "STATUS", "REV", "HEALTH", "UPDATED", "NOTE"}, printer.IsQuiet())
	deployed := 0
	for _, st := range statuses {
		status := state.StatusNotDeployed
		revision := "-"
		updated := "-"
		note := ""
		if st.Record != nil {
			status = st.Record.Status
			revision = fmt.Sprintf("%d", st.Record.Revision)
			updated = st.Record.UpdatedAt.Format(time.RFC3339)
			note = st.Record.LastError
		}
		if status == state.StatusDeployed {
			deployed++
		}

		healthCol := "-"
		if st.Health != nil {
			healthCol = fmt.Sprintf("%d/%d ready", st.Health.Ready, st.Health.Total)
			if note == "" && st.Health.Blocking != "" {
				note = st.Health.Blocking
			}
		}

		table.AddRow([]string{
			st.Module,
			printer.StatusBadge(string(status)) + " " + string(status),
			revision,
			healthCol,
			updated,
			note,
		})
	}
	table.Render()

	printer.Info("Deployed: %d of %d modules", deployed, len(statuses))
	printer.PrintHints("status")
	return nil
}
