package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jrgochan/labctl/internal/engine"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove modules from the lab cluster",
	Long: `Remove one or more modules in reverse dependency order, deleting
their cluster resources and deployment records. Only the named modules
are removed; dependencies stay deployed unless named too.

Removing a module that a deployed module still depends on is refused
unless --with-dependents or --force is given. Uninstalling a module
that is not deployed is a no-op.

Examples:
  labctl uninstall --all                        # Remove every module
  labctl uninstall --module chat                # Remove only the chat UI
  labctl uninstall --module llamacpp --with-dependents
  labctl uninstall --module base --force        # Skip the dependent check`,
	RunE: runUninstall,
}

func init() {
	rootCmd.AddCommand(uninstallCmd)

	uninstallCmd.Flags().Bool("all", false, "remove every registered module")
	uninstallCmd.Flags().StringSlice("module", nil, "modules to remove (repeatable or comma separated)")
	uninstallCmd.Flags().Bool("with-dependents", false, "also remove modules that depend on the named ones")
	uninstallCmd.Flags().Bool("force", false, "skip the dependent check and take over stale locks")
	_ = uninstallCmd.RegisterFlagCompletionFunc("module", completeModuleNames)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	printer := newPrinter()

	all, _ := cmd.Flags().GetBool("all")
	moduleFlags, _ := cmd.Flags().GetStringSlice("module")
	modules := splitModuleArgs(moduleFlags)
	if err := requireTarget(all, modules); err != nil {
		return err
	}

	withDependents, _ := cmd.Flags().GetBool("with-dependents")
	force, _ := cmd.Flags().GetBool("force")

	eng, err := newEngine()
	if err != nil {
		return err
	}

	printer.Header("Removing Modules")
	res, err := eng.Uninstall(cmd.Context(), engine.UninstallRequest{
		Modules:        modules,
		All:            all,
		WithDependents: withDependents,
		Force:          force,
	})
	if res != nil {
		printOutcomes(printer, res)
	}
	if err != nil {
		return cliError(err)
	}

	printer.Success("Modules removed")
	printer.PrintHints("uninstall")
	return nil
}
