package cmd

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jrgochan/labctl/internal/output"
	"github.com/jrgochan/labctl/internal/plan"
	"github.com/jrgochan/labctl/internal/registry"
	"github.com/jrgochan/labctl/internal/render"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render module manifests without applying them",
	Long: `Render the Kubernetes manifests for one or more modules to stdout.

Rendering is fully offline: no cluster connection is made and no state is
read or written. Modules are printed in dependency order, separated by
YAML document markers, so the output can be piped straight into
'oc apply -f -' or committed for review.

Examples:
  labctl render --all                          # Render every module
  labctl render --module jupyter               # Render jupyter and its dependencies
  labctl render --all --values custom.yaml     # Render with value overrides
  labctl render --all > lab.yaml               # Save the full manifest set`,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().Bool("all", false, "render all modules")
	renderCmd.Flags().StringSlice("module", nil, "modules to render (comma-separated or repeated)")
	renderCmd.Flags().String("values", "", "YAML file with value overrides")

	_ = renderCmd.RegisterFlagCompletionFunc("module", completeModuleNames)
}

func runRender(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	modules, _ := cmd.Flags().GetStringSlice("module")
	valuesFile, _ := cmd.Flags().GetString("values")

	modules = splitModuleArgs(modules)
	if err := requireTarget(all, modules); err != nil {
		return err
	}
	if all {
		modules = nil
	}

	values, err := render.LoadValuesFile(valuesFile)
	if err != nil {
		return &output.CLIError{
			Summary:  "failed to load values file",
			Detail:   err.Error(),
			ExitCode: output.ExitConfigError,
		}
	}

	reg := registry.NewRegistry()
	resolver := plan.NewResolver(reg)
	p, err := resolver.Resolve(modules)
	if err != nil {
		return &output.CLIError{
			Summary:    "cannot resolve modules",
			Detail:     err.Error(),
			Suggestion: "Run 'labctl list' to see available modules",
			ExitCode:   output.ExitUsageError,
		}
	}

	renderer := render.New(reg, cfg.Lab.Namespace, cfg.Lab.Domain)
	overrides := moduleValueOverrides()

	out := cmd.OutOrStdout()
	for i, m := range p.Modules {
		rd, err := renderer.Render(m, overrides[m.Name], render.ModuleOverrides(values, m.Name))
		if err != nil {
			return &output.CLIError{
				Summary:  fmt.Sprintf("failed to render module %s", m.Name),
				Detail:   err.Error(),
				ExitCode: output.ExitConfigError,
			}
		}

		if i > 0 {
			fmt.Fprintln(out, "---")
		}
		fmt.Fprintf(out, "# Module: %s\n%s\n", m.Name, bytes.TrimRight(rd.Raw, "\n"))
	}

	return nil
}
