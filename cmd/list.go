package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jrgochan/labctl/internal/output"
	"github.com/jrgochan/labctl/internal/plan"
	"github.com/jrgochan/labctl/internal/registry"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List available modules",
	Long: `List all registered modules with their dependencies.

Examples:
  labctl list                  # List all modules
  labctl list --deps           # Show the dependency graph
  labctl list --json           # Output as JSON`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().Bool("deps", false, "show dependency graph")
	listCmd.Flags().Bool("json", false, "output as JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	printer := newPrinter()
	reg := registry.NewRegistry()

	jsonOutput, _ := cmd.Flags().GetBool("json")
	showDeps, _ := cmd.Flags().GetBool("deps")

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(reg.All())
	}

	if showDeps {
		return outputDependencyGraph(printer, reg)
	}

	return outputModuleList(printer, reg)
}

func outputModuleList(printer *output.Printer, reg *registry.Registry) error {
	printer.Header("Available Modules")

	table := output.NewQuietTable([]string{"MODULE", "DESCRIPTION", "DEPENDS ON", "GPU", "TIMEOUT"}, printer.IsQuiet())
	for _, m := range reg.All() {
		requires := "-"
		if len(m.DependsOn) > 0 {
			requires = strings.Join(m.DependsOn, ", ")
		}
		gpu := ""
		if m.RequiresGPU {
			gpu = "yes"
		}
		table.AddRow([]string{
			printer.Bold(m.Name),
			m.Description,
			requires,
			gpu,
			m.GetTimeout().String(),
		})
	}
	table.Render()

	printer.PrintHints("list")
	return nil
}

func outputDependencyGraph(printer *output.Printer, reg *registry.Registry) error {
	printer.Header("Dependency Graph")

	fmt.Println()
	fmt.Println("                     base")
	fmt.Println("                       │")
	fmt.Println("     ┌────────┬────────┼────────┬────────┐")
	fmt.Println("     │        │        │        │        │")
	fmt.Println(" llamacpp  jupyter inference   mpi      chat")
	fmt.Println("     │                                   │")
	fmt.Println("     └───────────────────────────────────┘")
	fmt.Println()

	printer.Header("Detailed Dependencies")
	resolver := plan.NewResolver(reg)
	for _, m := range reg.All() {
		if len(m.DependsOn) == 0 {
			printer.Print("%s: %s", printer.Bold(m.Name), printer.Dim("(no dependencies)"))
		} else {
			printer.Print("%s: %s", printer.Bold(m.Name), strings.Join(m.DependsOn, ", "))
		}
		if dependents := resolver.Dependents(m.Name); len(dependents) > 0 {
			names := make([]string, 0, len(dependents))
			for _, d := range dependents {
				names = append(names, d.Name)
			}
			printer.Print("    required by: %s", printer.Dim(strings.Join(names, ", ")))
		}
	}

	return nil
}
