package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jrgochan/labctl/internal/engine"
	"github.com/jrgochan/labctl/internal/output"
	"github.com/jrgochan/labctl/internal/plan"
	"github.com/jrgochan/labctl/internal/registry"
	"github.com/jrgochan/labctl/internal/render"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy modules to the lab cluster",
	Long: `Deploy one or more modules in dependency order. Each module is
rendered, applied to the cluster, and health-checked before the next
one starts. A module whose configuration has not changed since its
last successful deployment is skipped.

If any module fails, modules deployed earlier in the same run are
rolled back, newest first.

Examples:
  labctl deploy --all                          # Deploy every module
  labctl deploy --module jupyter               # Deploy jupyter and its dependencies
  labctl deploy --module llamacpp,chat         # Deploy several modules
  labctl deploy --all --values lab-values.yaml # Override module values
  labctl deploy --all --dry-run                # Show what would change
  labctl deploy --module llamacpp --force      # Redeploy even if unchanged`,
	RunE: runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().Bool("all", false, "deploy every registered module")
	deployCmd.Flags().StringSlice("module", nil, "modules to deploy (repeatable or comma separated)")
	deployCmd.Flags().String("values", "", "YAML file with module value overrides")
	deployCmd.Flags().Bool("dry-run", false, "render and report without applying")
	deployCmd.Flags().Bool("force", false, "redeploy unchanged modules and take over stale locks")
	deployCmd.Flags().Bool("wait", true, "wait for modules to become healthy")
	deployCmd.Flags().Duration("timeout", 5*time.Minute, "per-module health timeout (default from config)")
	_ = deployCmd.RegisterFlagCompletionFunc("module", completeModuleNames)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	printer := newPrinter()

	all, _ := cmd.Flags().GetBool("all")
	moduleFlags, _ := cmd.Flags().GetStringSlice("module")
	modules := splitModuleArgs(moduleFlags)
	if err := requireTarget(all, modules); err != nil {
		return err
	}
	if all {
		modules = nil
	}

	valuesFile, _ := cmd.Flags().GetString("values")
	vals, err := render.LoadValuesFile(valuesFile)
	if err != nil {
		return &output.CLIError{
			Summary:  "failed reading values file",
			Detail:   err.Error(),
			ExitCode: output.ExitConfigError,
		}
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")
	wait, _ := cmd.Flags().GetBool("wait")
	if !cmd.Flags().Changed("wait") {
		wait = cfg.Deploy.Wait
	}

	req := engine.DeployRequest{
		Modules:   modules,
		Overrides: moduleValueOverrides(),
		Values:    vals,
		DryRun:    dryRun,
		Force:     force,
		Wait:      wait,
	}
	if cmd.Flags().Changed("timeout") {
		req.Timeout, _ = cmd.Flags().GetDuration("timeout")
	} else {
		req.Timeouts = moduleTimeouts()
	}

	printPlanPreview(printer, modules, dryRun)

	eng, err := newEngine()
	if err != nil {
		return err
	}

	res, err := eng.Deploy(cmd.Context(), req)
	if res != nil {
		printOutcomes(printer, res)
	}
	if err != nil {
		return cliError(err)
	}

	if dryRun {
		printer.Success("Dry-run complete, nothing was applied")
		return nil
	}
	printer.Success("Modules deployed successfully")
	printer.PrintHints("deploy")
	return nil
}

// printPlanPreview shows the resolved order and GPU warnings before the
// engine starts. Resolution errors are left to the engine so they get
// consistent exit codes.
func printPlanPreview(printer *output.Printer, modules []string, dryRun bool) {
	reg := registry.NewRegistry()
	p, err := plan.NewResolver(reg).Resolve(modules)
	if err != nil {
		return
	}
	for _, m := range p.Modules {
		if m.RequiresGPU {
			printer.Warning("Module '%s' expects GPU acceleration; it falls back to CPU when no GPU is present", m.Name)
		}
	}
	title := "Deploying Modules"
	if dryRun {
		title = "Deployment Plan (dry-run)"
	}
	printer.Header(title)
	for _, m := range p.Modules {
		printer.Info("  • %s: %s", printer.Bold(m.Name), m.Description)
	}
	printer.Print("")
}

// moduleValueOverrides collects per-module value overrides from the
// config file.
func moduleValueOverrides() map[string]map[string]any {
	if cfg == nil || len(cfg.Modules) == 0 {
		return nil
	}
	overrides := make(map[string]map[string]any, len(cfg.Modules))
	for name, m := range cfg.Modules {
		if len(m.Values) > 0 {
			overrides[name] = m.Values
		}
	}
	return overrides
}

// moduleTimeouts resolves the effective health timeout for every module:
// per-module config override, then the module's own default, then the
// global deploy timeout.
func moduleTimeouts() map[string]time.Duration {
	reg := registry.NewRegistry()
	all := reg.All()
	timeouts := make(map[string]time.Duration, len(all))
	for _, m := range all {
		timeouts[m.Name] = cfg.ModuleTimeout(m.Name, m.GetTimeout())
	}
	return timeouts
}

// completeModuleNames provides shell completion for module names.
func completeModuleNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return registry.NewRegistry().Names(), cobra.ShellCompDirectiveNoFileComp
}
